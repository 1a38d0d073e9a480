package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// LeaseStore 租约存储需要的原子操作
type LeaseStore interface {
	// Incr 自增并返回新值
	Incr(ctx context.Context, key string) (int64, error)
	ExpireAt(ctx context.Context, key string, at time.Time) error
	// SetNX key 不存在时设置值和过期时间
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Expire 刷新过期时间，key 不存在时返回 false
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Keys 返回指定前缀的所有 key
	Keys(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Close() error
}

type RedisLeaseStoreOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint"`

	// 集群节点的 host:port 地址列表
	Endpoints []string `cfg:"endpoints"`

	Username string `cfg:"username"`
	Password string `cfg:"password"`

	// 连接到服务器后选择的数据库
	DB int `cfg:"db" def:"0"`

	// 放弃前的最大重试次数，-1 禁用重试
	MaxRetries int `cfg:"maxRetries" def:"3"`

	MinRetryBackoff time.Duration `cfg:"minRetryBackoff" def:"8ms"`
	MaxRetryBackoff time.Duration `cfg:"maxRetryBackoff" def:"512ms"`

	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`

	PoolSize        int           `cfg:"poolSize" def:"4"`
	PoolTimeout     time.Duration `cfg:"poolTimeout" def:"4s"`
	MinIdleConns    int           `cfg:"minIdleConns" def:"0"`
	ConnMaxIdleTime time.Duration `cfg:"connMaxIdleTime" def:"30m"`

	// 网络类型，tcp 或 unix
	Network string `cfg:"network" def:"tcp"`

	// 集群模式下 MOVED/ASK 重定向的最大重试次数
	MaxRedirects int `cfg:"maxRedirects" def:"3"`

	// ScanCount 每次 SCAN 的数量提示
	ScanCount int64 `cfg:"scanCount" def:"100"`
}

// RedisLeaseStore 基于 redis 的租约存储，支持单机和集群
type RedisLeaseStore struct {
	client    redis.UniversalClient
	scanCount int64
}

func NewRedisLeaseStoreWithOptions(options *RedisLeaseStoreOptions) (*RedisLeaseStore, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	var client redis.UniversalClient
	if options.Endpoint != "" {
		client = redis.NewClient(&redis.Options{
			Addr:            options.Endpoint,
			Username:        options.Username,
			Password:        options.Password,
			DB:              options.DB,
			MaxRetries:      options.MaxRetries,
			MinRetryBackoff: options.MinRetryBackoff,
			MaxRetryBackoff: options.MaxRetryBackoff,
			DialTimeout:     options.DialTimeout,
			ReadTimeout:     options.ReadTimeout,
			WriteTimeout:    options.WriteTimeout,
			PoolSize:        options.PoolSize,
			PoolTimeout:     options.PoolTimeout,
			MinIdleConns:    options.MinIdleConns,
			ConnMaxIdleTime: options.ConnMaxIdleTime,
			Network:         options.Network,
		})
	} else if len(options.Endpoints) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           options.Endpoints,
			Username:        options.Username,
			Password:        options.Password,
			MaxRetries:      options.MaxRetries,
			MinRetryBackoff: options.MinRetryBackoff,
			MaxRetryBackoff: options.MaxRetryBackoff,
			DialTimeout:     options.DialTimeout,
			ReadTimeout:     options.ReadTimeout,
			WriteTimeout:    options.WriteTimeout,
			PoolSize:        options.PoolSize,
			PoolTimeout:     options.PoolTimeout,
			MinIdleConns:    options.MinIdleConns,
			ConnMaxIdleTime: options.ConnMaxIdleTime,
			MaxRedirects:    options.MaxRedirects,
		})
	} else {
		return nil, errors.Errorf("Endpoint or Endpoints must be set")
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.WithMessage(err, "redis.client.Ping failed")
	}

	store := NewRedisLeaseStore(client)
	if options.ScanCount > 0 {
		store.scanCount = options.ScanCount
	}
	return store, nil
}

// NewRedisLeaseStore 使用已有的客户端，Close 时会关闭客户端
func NewRedisLeaseStore(client redis.UniversalClient) *RedisLeaseStore {
	return &RedisLeaseStore{client: client, scanCount: 100}
}

func (s *RedisLeaseStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis.Incr %s failed", key)
	}
	return n, nil
}

func (s *RedisLeaseStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	if err := s.client.ExpireAt(ctx, key, at).Err(); err != nil {
		return errors.Wrapf(err, "redis.ExpireAt %s failed", key)
	}
	return nil
}

func (s *RedisLeaseStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis.SetNX %s failed", key)
	}
	return ok, nil
}

func (s *RedisLeaseStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis.Expire %s failed", key)
	}
	return ok, nil
}

func (s *RedisLeaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis.Get %s failed", key)
	}
	return val, true, nil
}

// Keys 用 SCAN 遍历前缀，集群模式下遍历所有主节点
func (s *RedisLeaseStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var mu sync.Mutex
	var keys []string

	scan := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, prefix+"*", s.scanCount).Iterator()
		for iter.Next(ctx) {
			mu.Lock()
			keys = append(keys, iter.Val())
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return scan(ctx, c)
		})
	} else {
		err = scan(ctx, s.client)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis.Scan %s* failed", prefix)
	}
	return keys, nil
}

func (s *RedisLeaseStore) Close() error {
	return s.client.Close()
}
