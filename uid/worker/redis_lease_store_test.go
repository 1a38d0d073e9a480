package worker

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/bytedance/mockey"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewRedisLeaseStoreWithOptions(t *testing.T) {
	PatchConvey("NewRedisLeaseStoreWithOptions", t, func() {
		Convey("单机模式", func() {
			Mock(redis.NewClient).Return(&redis.Client{}).Build()
			statusCmd := redis.NewStatusCmd(context.Background())
			statusCmd.SetVal("PONG")
			Mock((*redis.Client).Ping).Return(statusCmd).Build()

			store, err := NewRedisLeaseStoreWithOptions(&RedisLeaseStoreOptions{Endpoint: "localhost:6379", ScanCount: 500})
			So(err, ShouldBeNil)
			So(store, ShouldNotBeNil)
			So(store.scanCount, ShouldEqual, 500)
		})

		Convey("Ping 失败", func() {
			Mock(redis.NewClient).Return(&redis.Client{}).Build()
			statusCmd := redis.NewStatusCmd(context.Background())
			statusCmd.SetErr(errors.New("connection refused"))
			Mock((*redis.Client).Ping).Return(statusCmd).Build()

			_, err := NewRedisLeaseStoreWithOptions(&RedisLeaseStoreOptions{Endpoint: "localhost:6379"})
			So(err, ShouldNotBeNil)
		})

		Convey("缺少地址", func() {
			_, err := NewRedisLeaseStoreWithOptions(&RedisLeaseStoreOptions{})
			So(err, ShouldNotBeNil)
			_, err = NewRedisLeaseStoreWithOptions(nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRedisLeaseStore(t *testing.T) {
	Convey("RedisLeaseStore", t, func() {
		mr := miniredis.RunT(t)
		store, err := NewRedisLeaseStoreWithOptions(&RedisLeaseStoreOptions{Endpoint: mr.Addr(), ScanCount: 2})
		So(err, ShouldBeNil)
		defer store.Close()
		ctx := context.Background()

		Convey("Incr/ExpireAt", func() {
			n, err := store.Incr(ctx, "day")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			n, err = store.Incr(ctx, "day")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)

			So(store.ExpireAt(ctx, "day", time.Now().Add(time.Hour)), ShouldBeNil)
			So(mr.TTL("day"), ShouldBeGreaterThan, 59*time.Minute)
		})

		Convey("SetNX/Expire/Get", func() {
			ok, err := store.SetNX(ctx, "lease", []byte("a"), time.Minute)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			ok, err = store.SetNX(ctx, "lease", []byte("b"), time.Minute)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			val, ok, err := store.Get(ctx, "lease")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(string(val), ShouldEqual, "a")

			ok, err = store.Expire(ctx, "lease", time.Hour)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(mr.TTL("lease"), ShouldEqual, time.Hour)

			ok, err = store.Expire(ctx, "missing", time.Hour)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			_, ok, err = store.Get(ctx, "missing")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Keys", func() {
			for _, key := range []string{"w:exist:0", "w:exist:1", "w:exist:2", "w:20240101", "other"} {
				So(mr.Set(key, "x"), ShouldBeNil)
			}
			keys, err := store.Keys(ctx, "w:exist:")
			So(err, ShouldBeNil)
			sort.Strings(keys)
			So(keys, ShouldResemble, []string{"w:exist:0", "w:exist:1", "w:exist:2"})
		})

		Convey("连接断开", func() {
			mr.Close()
			_, err := store.Incr(ctx, "day")
			So(err, ShouldNotBeNil)
			_, err = store.Keys(ctx, "w:")
			So(err, ShouldNotBeNil)
		})
	})
}
