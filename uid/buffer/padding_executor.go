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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type PaddingOptions struct {
	// ScheduleInterval 定时填充间隔，0 表示只在消费触发时填充
	ScheduleInterval time.Duration
	Logger           logger.Logger
	Metrics          *metrics.Metrics
}

// FetchFunc 生成下一批待放入缓冲区的值
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// PaddingExecutor 填充缓冲区，同一时刻最多一次填充
// 异步请求写入容量为 1 的通道，重复请求被合并
type PaddingExecutor[T any] struct {
	rb               *RingBuffer[T]
	fetch            FetchFunc[T]
	scheduleInterval time.Duration
	logger           logger.Logger
	metrics          *metrics.Metrics
	tracer           trace.Tracer

	running  atomic.Bool
	started  atomic.Bool
	shutdown atomic.Bool
	trigger  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPaddingExecutor[T any](rb *RingBuffer[T], fetch FetchFunc[T], options *PaddingOptions) (*PaddingExecutor[T], error) {
	if rb == nil || fetch == nil {
		return nil, errors.New("ring buffer and fetch func are required")
	}
	if options == nil {
		options = &PaddingOptions{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PaddingExecutor[T]{
		rb:               rb,
		fetch:            fetch,
		scheduleInterval: options.ScheduleInterval,
		logger:           options.Logger,
		metrics:          options.Metrics,
		tracer:           otel.Tracer("github.com/hatlonely/uidgen/uid/buffer"),
		trigger:          make(chan struct{}, 1),
		ctx:              ctx,
		cancel:           cancel,
	}
	if p.logger == nil {
		p.logger = log.Default().WithGroup("paddingExecutor")
	}
	rb.SetPadder(p)

	return p, nil
}

// Start 启动填充协程和定时填充协程，重复调用无效
func (p *PaddingExecutor[T]) Start() {
	if p.shutdown.Load() || !p.started.CompareAndSwap(false, true) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-p.trigger:
				_ = p.PaddingBuffer(context.Background())
			}
		}
	}()

	if p.scheduleInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ticker := time.NewTicker(p.scheduleInterval)
			defer ticker.Stop()
			for {
				select {
				case <-p.ctx.Done():
					return
				case <-ticker.C:
					p.AsyncPadding()
				}
			}
		}()
	}

	p.logger.Info("padding executor started", "size", p.rb.Size(), "threshold", p.rb.PaddingThreshold(), "scheduleInterval", p.scheduleInterval)
}

// AsyncPadding 请求一次异步填充，已有待处理请求时合并
func (p *PaddingExecutor[T]) AsyncPadding() {
	if p.shutdown.Load() {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// PaddingBuffer 同步填充直到缓冲区满，已有填充在进行时直接返回
func (p *PaddingExecutor[T]) PaddingBuffer(ctx context.Context) error {
	if p.shutdown.Load() {
		return ErrShutdown
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	defer p.running.Store(false)

	ctx, span := p.tracer.Start(ctx, "buffer.PaddingBuffer", trace.WithAttributes(
		attribute.Int64("tail", p.rb.Tail()),
		attribute.Int64("cursor", p.rb.Cursor()),
	))
	defer span.End()

	start := time.Now()
	padded, err := p.fill(ctx)
	p.metrics.ObservePadding(time.Since(start).Seconds(), padded, err)
	p.metrics.SetBufferAvailable(p.rb.Len())

	span.SetAttributes(attribute.Int("padded", padded))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		p.logger.ErrorContext(ctx, "padding buffer failed", "padded", padded, "error", err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	p.logger.DebugContext(ctx, "padding buffer completed", "padded", padded, "tail", p.rb.Tail(), "cursor", p.rb.Cursor())
	return nil
}

func (p *PaddingExecutor[T]) fill(ctx context.Context) (int, error) {
	padded := 0
	for {
		if p.rb.Len() >= p.rb.Size() {
			return padded, nil
		}
		values, err := p.fetch(ctx)
		if err != nil {
			return padded, errors.WithMessage(err, "fetch failed")
		}
		if len(values) == 0 {
			return padded, nil
		}
		for _, v := range values {
			if !p.rb.Put(v) {
				return padded, nil
			}
			padded++
		}
	}
}

// Done Shutdown 后关闭
func (p *PaddingExecutor[T]) Done() <-chan struct{} {
	return p.ctx.Done()
}

func (p *PaddingExecutor[T]) IsRunning() bool {
	return p.running.Load()
}

// Shutdown 停止接受请求，等待进行中的填充和协程退出
func (p *PaddingExecutor[T]) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("padding executor shutdown")
}
