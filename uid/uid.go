package uid

import (
	"context"
	"io"
	"time"

	"github.com/hatlonely/uidgen/cfg"
	"github.com/hatlonely/uidgen/log"
	"github.com/hatlonely/uidgen/log/logger"
	"github.com/hatlonely/uidgen/ref"
	"github.com/hatlonely/uidgen/uid/buffer"
	"github.com/hatlonely/uidgen/uid/clock"
	"github.com/hatlonely/uidgen/uid/layout"
	"github.com/hatlonely/uidgen/uid/metrics"
	"github.com/hatlonely/uidgen/uid/sequence"
	"github.com/hatlonely/uidgen/uid/worker"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	ref.MustRegister("github.com/hatlonely/uidgen/uid", "IntGenerator", NewIntGeneratorWithOptions)
	ref.MustRegister("github.com/hatlonely/uidgen/uid", "StrGenerator", NewStrGeneratorWithOptions)
	ref.MustRegister("github.com/hatlonely/uidgen/uid", "CachedIntGenerator", NewCachedIntGeneratorWithOptions)
	ref.MustRegister("github.com/hatlonely/uidgen/uid", "CachedStrGenerator", NewCachedStrGeneratorWithOptions)
}

var (
	ErrClockRegression     = sequence.ErrClockRegression
	ErrTimestampExhausted  = sequence.ErrTimestampExhausted
	ErrHighSeqExhausted    = sequence.ErrHighSeqExhausted
	ErrSequenceExhausted   = sequence.ErrSequenceExhausted
	ErrInvalidLayout       = layout.ErrInvalidLayout
	ErrLayoutOverflow      = layout.ErrLayoutOverflow
	ErrFieldOverflow       = layout.ErrFieldOverflow
	ErrUnknownField        = layout.ErrUnknownField
	ErrMalformedID         = layout.ErrMalformedID
	ErrNoAvailableWorkerID = worker.ErrNoAvailableWorkerID
	ErrWorkerIDExhausted   = worker.ErrWorkerIDExhausted
	ErrRejectTake          = buffer.ErrRejectTake
	ErrShutdown            = buffer.ErrShutdown
)

// IDGenerator 缓存和非缓存生成器的公共接口
type IDGenerator[T layout.ID] interface {
	// GetIDWith 生成一个带业务字段的 id
	GetIDWith(ctx context.Context, business map[string]int64) (T, error)
	// Parse 把 id 拆成字段，额外输出 uid 和 timestamp
	Parse(id T) (map[string]any, error)
	WorkerID() int64
	Close() error
}

type CacheOptions struct {
	// BoostPower 缓冲区大小为 (maxSequence+1) << BoostPower，向上取 2 的幂
	BoostPower int `cfg:"boostPower" def:"3" validate:"gt=0,lte=20"`
	// PaddingFactor 可取数量低于容量的百分比时触发填充
	PaddingFactor int `cfg:"paddingFactor" def:"50" validate:"gt=0,lt=100"`
	// ScheduleInterval 定时填充间隔，0 表示不定时填充
	ScheduleInterval time.Duration `cfg:"scheduleInterval"`

	RejectedPutPolicy  string `cfg:"rejectedPutPolicy" def:"log" validate:"oneof=log discard"`
	RejectedTakePolicy string `cfg:"rejectedTakePolicy" def:"block" validate:"oneof=block error fallback"`
}

type MetricsOptions struct {
	Enable bool   `cfg:"enable"`
	Name   string `cfg:"name" def:"uidgen"`
}

type Options struct {
	Family layout.Family `cfg:"family" def:"binary" validate:"oneof=binary digit"`
	// Resolution 为空时 binary 取 second，digit 取 day
	Resolution sequence.Resolution `cfg:"resolution" validate:"omitempty,oneof=second day"`
	// Epoch 秒级周期的起点，格式 2006-01-02 或 RFC3339，默认 2020-05-12
	Epoch    string `cfg:"epoch"`
	Timezone string `cfg:"timezone"`
	// Fields 为空时使用对应 family 的默认布局
	Fields []layout.Field `cfg:"fields" validate:"dive"`

	// Worker worker id 分配方式，为空时固定为 0，选项由对应的构造函数校验
	Worker *ref.TypeOptions `cfg:"worker" validate:"-"`

	Cache   CacheOptions     `cfg:"cache"`
	Metrics MetricsOptions   `cfg:"metrics"`
	Logger  *ref.TypeOptions `cfg:"logger" validate:"-"`

	Clock      clock.Clock           `cfg:"-"`
	Registerer prometheus.Registerer `cfg:"-"`
}

// NewGeneratorWithOptions 通过注册表创建生成器
func NewGeneratorWithOptions[T layout.ID](options *ref.TypeOptions) (IDGenerator[T], error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	obj, err := ref.NewWithOptions(options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewWithOptions failed")
	}
	generator, ok := obj.(IDGenerator[T])
	if !ok {
		if closer, ok := obj.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, errors.Errorf("%s:%s is not a %T generator", options.Namespace, options.Type, *new(T))
	}
	return generator, nil
}

// core 缓存和非缓存生成器共用的部分
type core[T layout.ID] struct {
	engine   *sequence.Engine[T]
	assigner worker.Assigner
	metrics  *metrics.Metrics
	logger   logger.Logger
	options  Options
}

func newCore[T layout.ID](options *Options, family layout.Family, newCodec func(*layout.Layout) (layout.Codec[T], error)) (*core[T], error) {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.Family == "" {
		opts.Family = family
	}
	opts.Fields = append([]layout.Field(nil), opts.Fields...)
	if opts.Family != family {
		return nil, errors.Wrapf(layout.ErrInvalidLayout, "family %s does not match %s generator", opts.Family, family)
	}
	if err := cfg.SetDefaults(&opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(&opts); err != nil {
		return nil, err
	}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = layout.DefaultFields(family)
	}
	l, err := layout.New(family, fields)
	if err != nil {
		return nil, err
	}
	codec, err := newCodec(l)
	if err != nil {
		return nil, err
	}

	loc, err := clock.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, err
	}
	epoch := sequence.DefaultEpoch.In(loc)
	epoch = time.Date(epoch.Year(), epoch.Month(), epoch.Day(), 0, 0, 0, 0, loc)
	if opts.Epoch != "" {
		if epoch, err = clock.ParseEpoch(opts.Epoch, loc); err != nil {
			return nil, err
		}
	}

	lg, err := log.NewLoggerWithOptions(opts.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}

	var m *metrics.Metrics
	if opts.Metrics.Enable {
		m = metrics.New(opts.Metrics.Name)
		if err := m.Register(opts.Registerer); err != nil {
			return nil, err
		}
	}

	assigner, err := newAssigner(opts.Worker)
	if err != nil {
		return nil, err
	}
	if s, ok := assigner.(interface{ SetMetrics(*metrics.Metrics) }); ok {
		s.SetMetrics(m)
	}
	workerID, err := assigner.AssignWorkerID(context.Background(), l.MaxWorkerID())
	if err != nil {
		_ = assigner.Close()
		return nil, errors.WithMessage(err, "failed to assign worker id")
	}

	engine, err := sequence.New(codec, &sequence.Options{
		Resolution: opts.Resolution,
		Epoch:      epoch,
		WorkerID:   workerID,
		Clock:      opts.Clock,
		Logger:     lg.WithGroup("sequence"),
		Metrics:    m,
	})
	if err != nil {
		_ = assigner.Close()
		return nil, err
	}

	lg.Info("uid generator initialized",
		"family", family,
		"resolution", engine.Resolution(),
		"epoch", engine.Epoch().Format(time.RFC3339),
		"workerId", workerID,
		"maxSequence", l.MaxSequence(),
	)

	return &core[T]{
		engine:   engine,
		assigner: assigner,
		metrics:  m,
		logger:   lg,
		options:  opts,
	}, nil
}

func newAssigner(options *ref.TypeOptions) (worker.Assigner, error) {
	if options == nil {
		return worker.NewFixedAssignerWithOptions(nil)
	}
	obj, err := ref.NewWithOptions(options)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create worker assigner")
	}
	assigner, ok := obj.(worker.Assigner)
	if !ok {
		return nil, errors.Errorf("%s:%s is not a worker.Assigner", options.Namespace, options.Type)
	}
	return assigner, nil
}

func (c *core[T]) WorkerID() int64 {
	return c.engine.WorkerID()
}

func (c *core[T]) Layout() *layout.Layout {
	return c.engine.Layout()
}

func (c *core[T]) Metrics() *metrics.Metrics {
	return c.metrics
}

// Parse 字段名到字段值，uid 为原始 id，timestamp 为周期对应的时间
func (c *core[T]) Parse(id T) (map[string]any, error) {
	values, err := c.engine.Codec().Decode(id)
	if err != nil {
		return nil, err
	}

	l := c.engine.Layout()
	t, err := c.engine.PeriodTime(values[l.PeriodIndex()])
	if err != nil {
		return nil, errors.Wrapf(layout.ErrMalformedID, "%v: %v", id, err)
	}
	format := "2006-01-02 15:04:05"
	if c.engine.Resolution() == sequence.ResolutionDay {
		format = "2006-01-02"
	}

	res := map[string]any{}
	for name, v := range l.ToMap(values) {
		res[name] = v
	}
	// 周期字段可能也叫 timestamp，以格式化后的时间为准
	res["uid"] = id
	res["timestamp"] = t.Format(format)
	return res, nil
}
