package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hatlonely/uidgen/log"
	"github.com/hatlonely/uidgen/log/logger"
	"github.com/hatlonely/uidgen/uid/metrics"
	"github.com/pkg/errors"
)

var (
	ErrRejectTake = errors.New("ring buffer is empty")
	ErrShutdown   = errors.New("shutdown")
)

const (
	canPut  int32 = 0
	canTake int32 = 1

	startPoint int64 = -1

	DefaultPaddingFactor = 50
	// MaxSize 容量上限 2^30
	MaxSize = 1 << 30

	defaultTakePollInterval = time.Millisecond
)

// Padder 接收异步填充请求
type Padder interface {
	AsyncPadding()
	// Done 停止填充后关闭，不会停止时返回 nil
	Done() <-chan struct{}
}

// RejectedPutHandler 缓冲区满时处理被拒绝的值
type RejectedPutHandler[T any] func(rb *RingBuffer[T], v T)

// RejectedTakeHandler 缓冲区空时决定 Take 的结果
type RejectedTakeHandler[T any] func(ctx context.Context, rb *RingBuffer[T]) (T, error)

type Option[T any] func(rb *RingBuffer[T])

func WithLogger[T any](l logger.Logger) Option[T] {
	return func(rb *RingBuffer[T]) {
		if l != nil {
			rb.logger = l
		}
	}
}

func WithMetrics[T any](m *metrics.Metrics) Option[T] {
	return func(rb *RingBuffer[T]) {
		rb.metrics = m
	}
}

func WithRejectedPutHandler[T any](h RejectedPutHandler[T]) Option[T] {
	return func(rb *RingBuffer[T]) {
		if h != nil {
			rb.putHandler = h
		}
	}
}

func WithRejectedTakeHandler[T any](h RejectedTakeHandler[T]) Option[T] {
	return func(rb *RingBuffer[T]) {
		if h != nil {
			rb.takeHandler = h
		}
	}
}

// WithTakePollInterval 阻塞策略下的轮询间隔
func WithTakePollInterval[T any](d time.Duration) Option[T] {
	return func(rb *RingBuffer[T]) {
		if d > 0 {
			rb.pollInterval = d
		}
	}
}

// RingBuffer 预生成 id 的环形缓冲区
// tail 是生产者游标，cursor 是消费者游标，都从 -1 开始单调递增，tail-cursor 为可取数量
// 每个槽位有一个 canPut/canTake 标记，消费者读完槽位后才允许生产者覆盖
type RingBuffer[T any] struct {
	size      int64
	mask      int64
	threshold int64
	slots     []T
	flags     []atomic.Int32

	tail   atomic.Int64
	cursor atomic.Int64
	putMu  sync.Mutex

	putHandler   RejectedPutHandler[T]
	takeHandler  RejectedTakeHandler[T]
	padder       atomic.Pointer[Padder]
	pollInterval time.Duration
	logger       logger.Logger
	metrics      *metrics.Metrics
}

// NewRingBuffer size 必须是 2 的幂，paddingFactor 取值 (0, 100)
// 可取数量不超过 size*paddingFactor/100 时触发填充
func NewRingBuffer[T any](size int, paddingFactor int, options ...Option[T]) (*RingBuffer[T], error) {
	if size <= 0 || size > MaxSize || size&(size-1) != 0 {
		return nil, errors.Errorf("size %d must be a power of 2 in (0, %d]", size, MaxSize)
	}
	if paddingFactor <= 0 || paddingFactor >= 100 {
		return nil, errors.Errorf("padding factor %d must be in (0, 100)", paddingFactor)
	}

	rb := &RingBuffer[T]{
		size:         int64(size),
		mask:         int64(size - 1),
		threshold:    int64(size) * int64(paddingFactor) / 100,
		slots:        make([]T, size),
		flags:        make([]atomic.Int32, size),
		putHandler:   LogPutHandler[T],
		takeHandler:  BlockTakeHandler[T],
		pollInterval: defaultTakePollInterval,
		logger:       log.Default().WithGroup("ringBuffer"),
	}
	rb.tail.Store(startPoint)
	rb.cursor.Store(startPoint)

	for _, option := range options {
		option(rb)
	}
	rb.metrics.SetBufferCapacity(rb.size)

	return rb, nil
}

// SetPadder 设置填充执行器，由 PaddingExecutor 创建时调用
func (rb *RingBuffer[T]) SetPadder(p Padder) {
	rb.padder.Store(&p)
}

// Put 放入一个值，缓冲区满时交给 RejectedPutHandler 并返回 false
// 同一时刻只有一个生产者
func (rb *RingBuffer[T]) Put(v T) bool {
	rb.putMu.Lock()
	defer rb.putMu.Unlock()

	tail := rb.tail.Load()
	cursor := rb.cursor.Load()
	if tail-cursor >= rb.size {
		rb.rejectPut(v)
		return false
	}

	index := (tail + 1) & rb.mask
	if rb.flags[index].Load() != canPut {
		rb.rejectPut(v)
		return false
	}

	rb.slots[index] = v
	rb.flags[index].Store(canTake)
	rb.tail.Store(tail + 1)
	return true
}

func (rb *RingBuffer[T]) rejectPut(v T) {
	rb.metrics.IncRejectedPut()
	rb.putHandler(rb, v)
}

// Take 取出一个值，缓冲区空时交给 RejectedTakeHandler
func (rb *RingBuffer[T]) Take(ctx context.Context) (T, error) {
	if v, ok := rb.TryTake(); ok {
		return v, nil
	}
	rb.metrics.IncRejectedTake()
	return rb.takeHandler(ctx, rb)
}

// TryTake 非阻塞地取出一个值
func (rb *RingBuffer[T]) TryTake() (T, bool) {
	var zero T
	for {
		cursor := rb.cursor.Load()
		tail := rb.tail.Load()
		if cursor >= tail {
			rb.AsyncPadding()
			return zero, false
		}

		next := cursor + 1
		if !rb.cursor.CompareAndSwap(cursor, next) {
			continue
		}

		if available := tail - next; available <= rb.threshold {
			rb.AsyncPadding()
		}

		index := next & rb.mask
		v := rb.slots[index]
		rb.slots[index] = zero
		rb.flags[index].Store(canPut)
		return v, true
	}
}

// AsyncPadding 请求填充执行器异步填充，没有执行器时忽略
func (rb *RingBuffer[T]) AsyncPadding() {
	rb.metrics.SetBufferAvailable(rb.Len())
	if p := rb.padder.Load(); p != nil {
		(*p).AsyncPadding()
	}
}

func (rb *RingBuffer[T]) Size() int64             { return rb.size }
func (rb *RingBuffer[T]) Tail() int64             { return rb.tail.Load() }
func (rb *RingBuffer[T]) Cursor() int64           { return rb.cursor.Load() }
func (rb *RingBuffer[T]) PaddingThreshold() int64 { return rb.threshold }

// Len 当前可取数量
func (rb *RingBuffer[T]) Len() int64 {
	n := rb.tail.Load() - rb.cursor.Load()
	if n < 0 {
		return 0
	}
	return n
}

// LogPutHandler 记录日志并丢弃，默认策略
func LogPutHandler[T any](rb *RingBuffer[T], v T) {
	rb.logger.Warn("rejected putting buffer", "value", v, "tail", rb.Tail(), "cursor", rb.Cursor(), "size", rb.size)
}

// DiscardPutHandler 直接丢弃
func DiscardPutHandler[T any](rb *RingBuffer[T], v T) {}

// ErrorTakeHandler 返回 ErrRejectTake
func ErrorTakeHandler[T any](ctx context.Context, rb *RingBuffer[T]) (T, error) {
	var zero T
	rb.logger.Warn("rejected take buffer", "tail", rb.Tail(), "cursor", rb.Cursor())
	return zero, errors.Wrapf(ErrRejectTake, "tail %d, cursor %d", rb.Tail(), rb.Cursor())
}

// BlockTakeHandler 触发填充并轮询等待，直到取到值、ctx 结束或填充停止，默认策略
func BlockTakeHandler[T any](ctx context.Context, rb *RingBuffer[T]) (T, error) {
	var zero T
	var done <-chan struct{}
	if p := rb.padder.Load(); p != nil {
		done = (*p).Done()
	}
	ticker := time.NewTicker(rb.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, errors.Wrap(ctx.Err(), "wait for ring buffer padding")
		case <-done:
			if v, ok := rb.TryTake(); ok {
				return v, nil
			}
			return zero, errors.Wrap(ErrShutdown, "padding executor is shut down")
		case <-ticker.C:
		}
		if v, ok := rb.TryTake(); ok {
			return v, nil
		}
	}
}

// FallbackTakeHandler 缓冲区空时同步调用 fn 生成
func FallbackTakeHandler[T any](fn func(ctx context.Context) (T, error)) RejectedTakeHandler[T] {
	return func(ctx context.Context, rb *RingBuffer[T]) (T, error) {
		return fn(ctx)
	}
}
