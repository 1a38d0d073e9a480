package uid

import (
	"context"
	"math/bits"
	"sync/atomic"

	"github.com/hatlonely/uidgen/uid/buffer"
	"github.com/hatlonely/uidgen/uid/layout"
	"github.com/pkg/errors"
)

// CachedGenerator 从环形缓冲区取 id，缓冲区由填充执行器按周期块批量补充
// 缓存的 id 业务字段都是 0，需要业务字段时用 GetIDWith 替换
type CachedGenerator[T layout.ID] struct {
	*core[T]

	rb      *buffer.RingBuffer[T]
	padding *buffer.PaddingExecutor[T]
	closed  atomic.Bool
}

func newCachedGenerator[T layout.ID](options *Options, family layout.Family, newCodec func(*layout.Layout) (layout.Codec[T], error)) (*CachedGenerator[T], error) {
	c, err := newCore(options, family, newCodec)
	if err != nil {
		return nil, err
	}

	g, err := c.newCached()
	if err != nil {
		_ = c.assigner.Close()
		return nil, err
	}
	return g, nil
}

func (c *core[T]) newCached() (*CachedGenerator[T], error) {
	cache := c.options.Cache
	putHandler, err := buffer.PutHandler[T](cache.RejectedPutPolicy)
	if err != nil {
		return nil, err
	}
	takeHandler, err := buffer.TakeHandler(cache.RejectedTakePolicy, func(ctx context.Context) (T, error) {
		return c.engine.Next(nil)
	})
	if err != nil {
		return nil, err
	}

	size := tableSizeFor(c.engine.Layout().MaxSequence()+1, cache.BoostPower)
	rb, err := buffer.NewRingBuffer(size, cache.PaddingFactor,
		buffer.WithLogger[T](c.logger.WithGroup("ringBuffer")),
		buffer.WithMetrics[T](c.metrics),
		buffer.WithRejectedPutHandler(putHandler),
		buffer.WithRejectedTakeHandler(takeHandler),
	)
	if err != nil {
		return nil, err
	}

	padding, err := buffer.NewPaddingExecutor(rb, func(ctx context.Context) ([]T, error) {
		return c.engine.NextBatch()
	}, &buffer.PaddingOptions{
		ScheduleInterval: cache.ScheduleInterval,
		Logger:           c.logger.WithGroup("paddingExecutor"),
		Metrics:          c.metrics,
	})
	if err != nil {
		return nil, err
	}

	if err := padding.PaddingBuffer(context.Background()); err != nil {
		if rb.Len() == 0 {
			return nil, errors.WithMessage(err, "failed to initialize ring buffer")
		}
		c.logger.Warn("ring buffer partially initialized", "available", rb.Len(), "error", err.Error())
	}
	padding.Start()

	c.logger.Info("ring buffer initialized",
		"size", rb.Size(),
		"paddingThreshold", rb.PaddingThreshold(),
		"available", rb.Len(),
	)

	return &CachedGenerator[T]{core: c, rb: rb, padding: padding}, nil
}

// tableSizeFor 不小于 n<<boostPower 的最小 2 的幂，上限 buffer.MaxSize
func tableSizeFor(n int64, boostPower int) int {
	if n <= 0 {
		n = 1
	}
	if bits.Len64(uint64(n-1))+boostPower > bits.Len64(buffer.MaxSize-1) {
		return buffer.MaxSize
	}
	n <<= boostPower
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}

// NewCachedIntGeneratorWithOptions 带缓存的 64 位整数 id 生成器
func NewCachedIntGeneratorWithOptions(options *Options) (*CachedGenerator[int64], error) {
	return newCachedGenerator(options, layout.FamilyBinary, func(l *layout.Layout) (layout.Codec[int64], error) {
		return layout.NewBinaryCodec(l)
	})
}

// NewCachedStrGeneratorWithOptions 带缓存的 29 位数字字符串 id 生成器
func NewCachedStrGeneratorWithOptions(options *Options) (*CachedGenerator[string], error) {
	return newCachedGenerator(options, layout.FamilyDigit, func(l *layout.Layout) (layout.Codec[string], error) {
		return layout.NewDigitCodec(l)
	})
}

// GetID 从缓冲区取一个 id，缓冲区为空时按 RejectedTakePolicy 处理
func (g *CachedGenerator[T]) GetID(ctx context.Context) (T, error) {
	if g.closed.Load() {
		var zero T
		return zero, buffer.ErrShutdown
	}
	return g.rb.Take(ctx)
}

// GetIDWith 取一个缓存的 id，把 business 中的业务字段替换进去
func (g *CachedGenerator[T]) GetIDWith(ctx context.Context, business map[string]int64) (T, error) {
	var zero T

	id, err := g.GetID(ctx)
	if err != nil || len(business) == 0 {
		return id, err
	}

	codec := g.engine.Codec()
	values, err := codec.Decode(id)
	if err != nil {
		return zero, err
	}
	if err := codec.Layout().SetBusiness(values, business); err != nil {
		return zero, err
	}
	return codec.Encode(values), nil
}

func (g *CachedGenerator[T]) RingBuffer() *buffer.RingBuffer[T] {
	return g.rb
}

// Close 停止填充并释放 worker id，重复调用无效
func (g *CachedGenerator[T]) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	g.padding.Shutdown()
	return g.assigner.Close()
}
