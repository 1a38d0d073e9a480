package sequence

import (
	"sync"
	"time"

	"github.com/hatlonely/uidgen/log"
	"github.com/hatlonely/uidgen/log/logger"
	"github.com/hatlonely/uidgen/uid/clock"
	"github.com/hatlonely/uidgen/uid/layout"
	"github.com/hatlonely/uidgen/uid/metrics"
	"github.com/pkg/errors"
)

// Resolution 周期粒度
type Resolution string

const (
	// ResolutionSecond 周期为距纪元的秒数
	ResolutionSecond Resolution = "second"
	// ResolutionDay 周期为 YYYYMMDD 形式的日期
	ResolutionDay Resolution = "day"
)

const defaultPollInterval = 5 * time.Millisecond

// DefaultEpoch 秒级周期的默认起点
var DefaultEpoch = time.Date(2020, 5, 12, 0, 0, 0, 0, time.Local)

type Options struct {
	Resolution Resolution
	// Epoch 秒级周期的起点，天级周期忽略
	Epoch    time.Time
	WorkerID int64
	Clock    clock.Clock
	// PollInterval 序列号用尽等待下一秒时的轮询间隔
	PollInterval time.Duration
	Logger       logger.Logger
	Metrics      *metrics.Metrics
}

// Engine 单节点的序列状态机，(lastPeriod, sequence, highSeq) 由同一把锁保护
// wallPeriod 记录观察到的最大时钟周期，用于检测时钟回拨
// lastPeriod 是编码进 id 的周期，批量生成时可以借用未来的秒，因此可能大于 wallPeriod
type Engine[T layout.ID] struct {
	codec        layout.Codec[T]
	layout       *layout.Layout
	resolution   Resolution
	epoch        time.Time
	workerID     int64
	clock        clock.Clock
	pollInterval time.Duration
	logger       logger.Logger
	metrics      *metrics.Metrics

	mu         sync.Mutex
	lastPeriod int64
	wallPeriod int64
	sequence   int64
	highSeq    int64
}

func New[T layout.ID](codec layout.Codec[T], options *Options) (*Engine[T], error) {
	if codec == nil {
		return nil, errors.New("codec is nil")
	}
	if options == nil {
		options = &Options{}
	}

	l := codec.Layout()
	e := &Engine[T]{
		codec:        codec,
		layout:       l,
		resolution:   options.Resolution,
		epoch:        options.Epoch,
		workerID:     options.WorkerID,
		clock:        options.Clock,
		pollInterval: options.PollInterval,
		logger:       options.Logger,
		metrics:      options.Metrics,
		lastPeriod:   -1,
		wallPeriod:   -1,
	}

	if e.resolution == "" {
		e.resolution = ResolutionSecond
		if l.Family() == layout.FamilyDigit {
			e.resolution = ResolutionDay
		}
	}
	switch e.resolution {
	case ResolutionSecond:
		if l.Family() == layout.FamilyDigit {
			return nil, errors.Wrap(layout.ErrInvalidLayout, "digit layout requires day resolution")
		}
	case ResolutionDay:
	default:
		return nil, errors.Errorf("unknown resolution %q", e.resolution)
	}

	if e.workerID < 0 || e.workerID > l.MaxWorkerID() {
		return nil, &layout.FieldOverflowError{
			Field: l.Fields()[l.WorkerIndex()].Name,
			Value: e.workerID,
			Max:   l.MaxWorkerID(),
		}
	}
	if e.epoch.IsZero() {
		e.epoch = DefaultEpoch
	}
	if e.clock == nil {
		e.clock = clock.NewSystemClock(e.epoch.Location())
	}
	if e.pollInterval <= 0 {
		e.pollInterval = defaultPollInterval
	}
	if e.logger == nil {
		e.logger = log.Default().WithGroup("sequence")
	}

	return e, nil
}

func (e *Engine[T]) Layout() *layout.Layout    { return e.layout }
func (e *Engine[T]) Codec() layout.Codec[T]    { return e.codec }
func (e *Engine[T]) Resolution() Resolution    { return e.resolution }
func (e *Engine[T]) Epoch() time.Time          { return e.epoch }
func (e *Engine[T]) WorkerID() int64           { return e.workerID }
func (e *Engine[T]) BatchSize() int            { return int(e.layout.MaxSequence()) + 1 }
func (e *Engine[T]) Metrics() *metrics.Metrics { return e.metrics }
func (e *Engine[T]) Logger() logger.Logger     { return e.logger }
func (e *Engine[T]) Clock() clock.Clock        { return e.clock }

// Next 生成一个 id，business 为业务字段的值，未出现的业务字段为 0
func (e *Engine[T]) Next(business map[string]int64) (T, error) {
	var zero T

	values, err := e.layout.BusinessValues(business)
	if err != nil {
		return zero, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.observe(); err != nil {
		return zero, err
	}

	if e.wallPeriod > e.lastPeriod {
		e.lastPeriod = e.wallPeriod
		e.sequence = 0
		e.highSeq = 0
	} else {
		e.sequence++
		if e.sequence > e.layout.MaxSequence() {
			if err := e.overflow(); err != nil {
				e.sequence = e.layout.MaxSequence()
				return zero, err
			}
		}
	}

	e.fill(values)
	values[e.layout.SequenceIndex()] = e.sequence
	e.metrics.AddGenerated("direct", 1)
	return e.codec.Encode(values), nil
}

// NextBatch 一次生成一个完整周期块的 id，数量为 maxSequence+1，业务字段为 0
// 当前周期已经使用过时，有 highSeq 字段则 highSeq+1，秒级周期借用下一秒
func (e *Engine[T]) NextBatch() ([]T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.observe(); err != nil {
		return nil, err
	}

	switch {
	case e.wallPeriod > e.lastPeriod:
		e.lastPeriod = e.wallPeriod
		e.highSeq = 0
	case e.layout.HasHighSeq():
		if err := e.nextHighSeq(); err != nil {
			return nil, err
		}
	case e.resolution == ResolutionSecond:
		if err := e.borrowPeriod(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrSequenceExhausted, "period %d", e.lastPeriod)
	}
	e.sequence = e.layout.MaxSequence()

	values := make([]int64, e.layout.Len())
	e.fill(values)
	n := e.BatchSize()
	e.metrics.AddGenerated("batch", n)
	return e.codec.EncodeSequences(values, n), nil
}

// PeriodTime 把 id 中的周期值还原成时间
func (e *Engine[T]) PeriodTime(period int64) (time.Time, error) {
	if e.resolution == ResolutionDay {
		return clock.ParseDay(period, e.epoch.Location())
	}
	return e.epoch.Add(time.Duration(period) * time.Second), nil
}

func (e *Engine[T]) fill(values []int64) {
	values[e.layout.PeriodIndex()] = e.lastPeriod
	values[e.layout.WorkerIndex()] = e.workerID
	if e.layout.HasHighSeq() {
		values[e.layout.HighSeqIndex()] = e.highSeq
	}
}

// observe 读取当前周期，检查时钟回拨并更新 wallPeriod，调用方持有锁
func (e *Engine[T]) observe() error {
	p, err := e.currentPeriod()
	if err != nil {
		return err
	}
	if p < e.wallPeriod {
		e.metrics.IncClockRegression()
		err := &ClockRegressionError{Resolution: e.resolution, Last: e.wallPeriod, Current: p}
		e.logger.Warn("clock moved backwards", "last", e.wallPeriod, "current", p, "workerId", e.workerID)
		return err
	}
	e.wallPeriod = p
	return nil
}

func (e *Engine[T]) currentPeriod() (int64, error) {
	now := e.clock.Now()

	var p int64
	if e.resolution == ResolutionDay {
		p = clock.Day(now)
	} else {
		p = now.Unix() - e.epoch.Unix()
	}

	if p < 0 || p > e.layout.MaxPeriod() {
		return 0, errors.Wrapf(ErrTimestampExhausted, "period %d out of range [0, %d]", p, e.layout.MaxPeriod())
	}
	return p, nil
}

// overflow 处理同一周期内序列号用尽
func (e *Engine[T]) overflow() error {
	if e.layout.HasHighSeq() {
		if err := e.nextHighSeq(); err != nil {
			return err
		}
		e.sequence = 0
		return nil
	}

	if e.resolution == ResolutionDay {
		return errors.Wrapf(ErrSequenceExhausted, "period %d", e.lastPeriod)
	}

	if e.lastPeriod > e.wallPeriod {
		if err := e.borrowPeriod(); err != nil {
			return err
		}
		e.sequence = 0
		return nil
	}

	e.metrics.IncSequenceWait()
	for {
		time.Sleep(e.pollInterval)
		if err := e.observe(); err != nil {
			return err
		}
		if e.wallPeriod > e.lastPeriod {
			break
		}
	}
	e.lastPeriod = e.wallPeriod
	e.sequence = 0
	return nil
}

func (e *Engine[T]) nextHighSeq() error {
	if e.highSeq >= e.layout.MaxHighSeq() {
		return errors.Wrapf(ErrHighSeqExhausted, "period %d, high sequence %d", e.lastPeriod, e.highSeq)
	}
	e.highSeq++
	e.metrics.IncHighSeq()
	return nil
}

func (e *Engine[T]) borrowPeriod() error {
	if e.lastPeriod+1 > e.layout.MaxPeriod() {
		return errors.Wrapf(ErrTimestampExhausted, "period %d", e.lastPeriod+1)
	}
	e.lastPeriod++
	return nil
}
