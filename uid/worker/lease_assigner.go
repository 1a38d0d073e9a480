package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/uidgen/cfg"
	"github.com/hatlonely/uidgen/log"
	"github.com/hatlonely/uidgen/log/logger"
	"github.com/hatlonely/uidgen/ref"
	"github.com/hatlonely/uidgen/uid/clock"
	"github.com/hatlonely/uidgen/uid/metrics"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type LeaseAssignerOptions struct {
	// Store 租约存储，默认 RedisLeaseStore
	Store *ref.TypeOptions `cfg:"store" validate:"required"`

	// KeyPrefix 日计数器为 <prefix>:<YYYYMMDD>，租约为 <prefix>:exist:<id>
	KeyPrefix string `cfg:"keyPrefix" def:"workerId"`

	// RefreshInterval 续约间隔
	RefreshInterval time.Duration `cfg:"refreshInterval" def:"12m"`

	// LeaseTTL 租约过期时间，为 0 时取 2*RefreshInterval+RefreshInterval/12
	LeaseTTL time.Duration `cfg:"leaseTTL"`

	// MaxAttempts 单次分配最多尝试的候选 id 数
	MaxAttempts int `cfg:"maxAttempts" def:"100" validate:"gt=0"`

	// Timezone 日计数器使用的时区，空表示本地时区
	Timezone string `cfg:"timezone"`

	Logger *ref.TypeOptions `cfg:"logger" validate:"-"`

	Clock   clock.Clock      `cfg:"-"`
	Metrics *metrics.Metrics `cfg:"-"`
}

// LeaseInfo 租约 key 的值
type LeaseInfo struct {
	WorkerID   int64     `msgpack:"workerId"`
	Holder     string    `msgpack:"holder"`
	Host       string    `msgpack:"host"`
	PID        int       `msgpack:"pid"`
	AcquiredAt time.Time `msgpack:"acquiredAt"`
}

// LeaseAssigner 通过共享存储租用 worker id
//  1. 统计 <prefix>:exist:* 的数量，超过 maxWorkerID 直接失败
//  2. INCR <prefix>:<YYYYMMDD> 得到候选 id，首次创建时设置当天结束过期
//  3. SET NX <prefix>:exist:<id> 带过期时间，成功即持有租约，失败换下一个候选
//
// 持有期间每隔 RefreshInterval 续约，Close 后不删除 key，由过期释放
type LeaseAssigner struct {
	store       LeaseStore
	keyPrefix   string
	refresh     time.Duration
	ttl         time.Duration
	maxAttempts int
	location    *time.Location
	clock       clock.Clock
	logger      logger.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	mu       sync.Mutex
	workerID int64
	value    []byte
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewLeaseAssignerWithOptions(options *LeaseAssignerOptions) (*LeaseAssigner, error) {
	if options == nil || options.Store == nil {
		return nil, errors.New("store options are required")
	}
	opts := *options
	if err := cfg.SetDefaults(&opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(&opts); err != nil {
		return nil, err
	}

	obj, err := ref.NewWithOptions(opts.Store)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create lease store")
	}
	store, ok := obj.(LeaseStore)
	if !ok {
		if closer, ok := obj.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, errors.Errorf("%s:%s does not implement LeaseStore", opts.Store.Namespace, opts.Store.Type)
	}

	a, err := NewLeaseAssigner(store, &opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewLeaseAssigner 使用已有的存储，Close 时会关闭存储
func NewLeaseAssigner(store LeaseStore, options *LeaseAssignerOptions) (*LeaseAssigner, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if options == nil {
		options = &LeaseAssignerOptions{}
	}

	loc, err := clock.LoadLocation(options.Timezone)
	if err != nil {
		return nil, err
	}

	a := &LeaseAssigner{
		store:       store,
		keyPrefix:   options.KeyPrefix,
		refresh:     options.RefreshInterval,
		ttl:         options.LeaseTTL,
		maxAttempts: options.MaxAttempts,
		location:    loc,
		clock:       options.Clock,
		metrics:     options.Metrics,
		tracer:      otel.Tracer("github.com/hatlonely/uidgen/uid/worker"),
		workerID:    -1,
	}
	if a.keyPrefix == "" {
		a.keyPrefix = "workerId"
	}
	if a.refresh <= 0 {
		a.refresh = 12 * time.Minute
	}
	if a.ttl <= 0 {
		a.ttl = 2*a.refresh + a.refresh/12
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = 100
	}
	if a.clock == nil {
		a.clock = clock.NewSystemClock(loc)
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}
	a.logger = l.WithGroup("leaseAssigner")

	return a, nil
}

func (a *LeaseAssigner) dayKey(day int64) string {
	return fmt.Sprintf("%s:%d", a.keyPrefix, day)
}

func (a *LeaseAssigner) existPrefix() string {
	return a.keyPrefix + ":exist:"
}

func (a *LeaseAssigner) existKey(workerID int64) string {
	return a.existPrefix() + strconv.FormatInt(workerID, 10)
}

// AssignWorkerID 租用一个 worker id 并开始续约，已持有时直接返回
func (a *LeaseAssigner) AssignWorkerID(ctx context.Context, maxWorkerID int64) (workerID int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.workerID >= 0 {
		return a.workerID, nil
	}

	ctx, span := a.tracer.Start(ctx, "worker.AssignWorkerID", trace.WithAttributes(
		attribute.Int64("max_worker_id", maxWorkerID),
		attribute.String("key_prefix", a.keyPrefix),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetAttributes(attribute.Int64("worker_id", workerID))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		a.metrics.IncLeaseAttempt(err)
	}()

	keys, err := a.store.Keys(ctx, a.existPrefix())
	if err != nil {
		return 0, err
	}
	if count := int64(len(keys)); count > maxWorkerID {
		return 0, errors.Wrapf(ErrNoAvailableWorkerID, "%d leases held, max worker id %d", count, maxWorkerID)
	}

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		now := a.clock.Now().In(a.location)
		dayKey := a.dayKey(clock.Day(now))

		n, err := a.store.Incr(ctx, dayKey)
		if err != nil {
			return 0, err
		}
		candidate := n - 1
		if candidate == 0 {
			if err := a.store.ExpireAt(ctx, dayKey, clock.EndOfDay(now)); err != nil {
				return 0, err
			}
		}
		if candidate > maxWorkerID {
			return 0, errors.Wrapf(ErrWorkerIDExhausted, "candidate %d exceeds max worker id %d", candidate, maxWorkerID)
		}

		value, err := msgpack.Marshal(a.newLeaseInfo(candidate, now))
		if err != nil {
			return 0, errors.Wrap(err, "msgpack.Marshal failed")
		}
		ok, err := a.store.SetNX(ctx, a.existKey(candidate), value, a.ttl)
		if err != nil {
			return 0, err
		}
		if !ok {
			a.logger.DebugContext(ctx, "worker id is held by another node", "workerId", candidate)
			continue
		}

		a.workerID = candidate
		a.value = value
		a.startRenewal()
		a.metrics.SetWorkerID(candidate)
		a.logger.InfoContext(ctx, "worker id leased", "workerId", candidate, "ttl", a.ttl, "refresh", a.refresh)
		return candidate, nil
	}

	return 0, errors.Wrapf(ErrWorkerIDExhausted, "no worker id leased after %d attempts", a.maxAttempts)
}

func (a *LeaseAssigner) newLeaseInfo(workerID int64, now time.Time) *LeaseInfo {
	info := &LeaseInfo{
		WorkerID:   workerID,
		PID:        os.Getpid(),
		AcquiredAt: now,
	}
	if id, err := uuid.NewV7(); err == nil {
		info.Holder = id.String()
	} else {
		info.Holder = uuid.NewString()
	}
	if host, err := os.Hostname(); err == nil {
		info.Host = host
	}
	return info
}

func (a *LeaseAssigner) startRenewal() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	key, value := a.existKey(a.workerID), a.value

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.metrics.IncLeaseRenewal(a.renew(ctx, key, value))
			}
		}
	}()
}

// renew 刷新租约过期时间，key 已过期时尝试重新占用
func (a *LeaseAssigner) renew(ctx context.Context, key string, value []byte) error {
	ok, err := a.store.Expire(ctx, key, a.ttl)
	if err != nil {
		a.logger.WarnContext(ctx, "renew worker id lease failed", "key", key, "error", err.Error())
		return err
	}
	if ok {
		return nil
	}

	ok, err = a.store.SetNX(ctx, key, value, a.ttl)
	if err != nil {
		a.logger.WarnContext(ctx, "reacquire worker id lease failed", "key", key, "error", err.Error())
		return err
	}
	if !ok {
		err := errors.Errorf("worker id lease %s is held by another node", key)
		a.logger.ErrorContext(ctx, "worker id lease lost", "key", key)
		return err
	}
	a.logger.WarnContext(ctx, "worker id lease expired and reacquired", "key", key)
	return nil
}

// SetMetrics 需要在 AssignWorkerID 之前调用
func (a *LeaseAssigner) SetMetrics(m *metrics.Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
}

// WorkerID 当前持有的 worker id，未分配时返回 -1
func (a *LeaseAssigner) WorkerID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workerID
}

// Leases 列出当前存活的租约，按 worker id 排序
func (a *LeaseAssigner) Leases(ctx context.Context) ([]LeaseInfo, error) {
	keys, err := a.store.Keys(ctx, a.existPrefix())
	if err != nil {
		return nil, err
	}

	leases := make([]LeaseInfo, 0, len(keys))
	for _, key := range keys {
		if _, err := strconv.ParseInt(strings.TrimPrefix(key, a.existPrefix()), 10, 64); err != nil {
			continue
		}
		value, ok, err := a.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var info LeaseInfo
		if err := msgpack.Unmarshal(value, &info); err != nil {
			return nil, errors.Wrapf(err, "msgpack.Unmarshal %s failed", key)
		}
		leases = append(leases, info)
	}

	sort.Slice(leases, func(i, j int) bool {
		return leases[i].WorkerID < leases[j].WorkerID
	})
	return leases, nil
}

// Close 停止续约并关闭存储，租约 key 由过期释放
func (a *LeaseAssigner) Close() error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
	return a.store.Close()
}
