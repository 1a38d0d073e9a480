package uid

import (
	"context"
	"sync/atomic"

	"github.com/hatlonely/uidgen/uid/buffer"
	"github.com/hatlonely/uidgen/uid/layout"
)

// Generator 不带缓存的生成器，每次调用都在临界区内生成
type Generator[T layout.ID] struct {
	*core[T]

	closed atomic.Bool
}

func newGenerator[T layout.ID](options *Options, family layout.Family, newCodec func(*layout.Layout) (layout.Codec[T], error)) (*Generator[T], error) {
	c, err := newCore(options, family, newCodec)
	if err != nil {
		return nil, err
	}
	return &Generator[T]{core: c}, nil
}

// NewIntGeneratorWithOptions 64 位整数 id 生成器
func NewIntGeneratorWithOptions(options *Options) (*Generator[int64], error) {
	return newGenerator(options, layout.FamilyBinary, func(l *layout.Layout) (layout.Codec[int64], error) {
		return layout.NewBinaryCodec(l)
	})
}

// NewStrGeneratorWithOptions 29 位数字字符串 id 生成器
func NewStrGeneratorWithOptions(options *Options) (*Generator[string], error) {
	return newGenerator(options, layout.FamilyDigit, func(l *layout.Layout) (layout.Codec[string], error) {
		return layout.NewDigitCodec(l)
	})
}

// GetID business 为业务字段的值，未出现的业务字段为 0
// Close 之后 worker id 不再续约，返回 ErrShutdown
func (g *Generator[T]) GetID(ctx context.Context, business map[string]int64) (T, error) {
	if g.closed.Load() {
		var zero T
		return zero, buffer.ErrShutdown
	}
	return g.engine.Next(business)
}

func (g *Generator[T]) GetIDWith(ctx context.Context, business map[string]int64) (T, error) {
	return g.GetID(ctx, business)
}

// Close 释放 worker id，重复调用无效
func (g *Generator[T]) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	return g.assigner.Close()
}
