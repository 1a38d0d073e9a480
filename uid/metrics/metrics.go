package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics uid 生成相关的 prometheus 指标
// 所有方法对 nil 接收者安全，组件不启用指标时直接传 nil
type Metrics struct {
	generated        *prometheus.CounterVec
	clockRegressions prometheus.Counter
	sequenceWaits    prometheus.Counter
	highSeqBumps     prometheus.Counter

	bufferCapacity  prometheus.Gauge
	bufferAvailable prometheus.Gauge
	rejectedPuts    prometheus.Counter
	rejectedTakes   prometheus.Counter

	paddingPasses   *prometheus.CounterVec
	paddingDuration prometheus.Histogram
	paddedIDs       prometheus.Counter

	leaseAttempts *prometheus.CounterVec
	leaseRenewals *prometheus.CounterVec
	workerID      prometheus.Gauge
}

// New 创建指标，name 作为指标名前缀
func New(name string) *Metrics {
	if name == "" {
		name = "uidgen"
	}
	return &Metrics{
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_ids_generated_total",
			Help: "Total number of generated ids",
		}, []string{"path"}),
		clockRegressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_clock_regressions_total",
			Help: "Total number of refused generations caused by clock regression",
		}),
		sequenceWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_sequence_waits_total",
			Help: "Total number of waits for the next period after sequence overflow",
		}),
		highSeqBumps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_high_seq_increments_total",
			Help: "Total number of high sequence increments",
		}),
		bufferCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name + "_buffer_capacity",
			Help: "Capacity of the ring buffer",
		}),
		bufferAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name + "_buffer_available",
			Help: "Number of ids available in the ring buffer",
		}),
		rejectedPuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_buffer_rejected_puts_total",
			Help: "Total number of rejected puts into a full ring buffer",
		}),
		rejectedTakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_buffer_rejected_takes_total",
			Help: "Total number of rejected takes from an empty ring buffer",
		}),
		paddingPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_padding_passes_total",
			Help: "Total number of padding passes",
		}, []string{"status"}),
		paddingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name + "_padding_duration_seconds",
			Help:    "Duration of padding passes in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		paddedIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_padded_ids_total",
			Help: "Total number of ids put into the ring buffer",
		}),
		leaseAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_lease_attempts_total",
			Help: "Total number of worker id lease attempts",
		}, []string{"status"}),
		leaseRenewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_lease_renewals_total",
			Help: "Total number of worker id lease renewals",
		}, []string{"status"}),
		workerID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name + "_worker_id",
			Help: "Worker id held by this node",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.generated, m.clockRegressions, m.sequenceWaits, m.highSeqBumps,
		m.bufferCapacity, m.bufferAvailable, m.rejectedPuts, m.rejectedTakes,
		m.paddingPasses, m.paddingDuration, m.paddedIDs,
		m.leaseAttempts, m.leaseRenewals, m.workerID,
	}
}

// Register 注册到 reg，reg 为 nil 时使用默认 registry
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "prometheus.Register failed")
		}
	}
	return nil
}

func (m *Metrics) AddGenerated(path string, n int) {
	if m == nil {
		return
	}
	m.generated.WithLabelValues(path).Add(float64(n))
}

func (m *Metrics) IncClockRegression() {
	if m == nil {
		return
	}
	m.clockRegressions.Inc()
}

func (m *Metrics) IncSequenceWait() {
	if m == nil {
		return
	}
	m.sequenceWaits.Inc()
}

func (m *Metrics) IncHighSeq() {
	if m == nil {
		return
	}
	m.highSeqBumps.Inc()
}

func (m *Metrics) SetBufferCapacity(n int64) {
	if m == nil {
		return
	}
	m.bufferCapacity.Set(float64(n))
}

func (m *Metrics) SetBufferAvailable(n int64) {
	if m == nil {
		return
	}
	m.bufferAvailable.Set(float64(n))
}

func (m *Metrics) IncRejectedPut() {
	if m == nil {
		return
	}
	m.rejectedPuts.Inc()
}

func (m *Metrics) IncRejectedTake() {
	if m == nil {
		return
	}
	m.rejectedTakes.Inc()
}

// ObservePadding 记录一次填充，err 非 nil 时 status 为 error
func (m *Metrics) ObservePadding(seconds float64, padded int, err error) {
	if m == nil {
		return
	}
	m.paddingPasses.WithLabelValues(status(err)).Inc()
	m.paddingDuration.Observe(seconds)
	m.paddedIDs.Add(float64(padded))
}

func (m *Metrics) IncLeaseAttempt(err error) {
	if m == nil {
		return
	}
	m.leaseAttempts.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) IncLeaseRenewal(err error) {
	if m == nil {
		return
	}
	m.leaseRenewals.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) SetWorkerID(id int64) {
	if m == nil {
		return
	}
	m.workerID.Set(float64(id))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
