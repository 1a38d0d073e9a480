package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetrics(t *testing.T) {
	Convey("Metrics", t, func() {
		m := New("test")
		reg := prometheus.NewRegistry()
		So(m.Register(reg), ShouldBeNil)

		Convey("重复注册返回错误", func() {
			So(m.Register(reg), ShouldNotBeNil)
		})

		Convey("计数", func() {
			m.AddGenerated("batch", 8)
			m.AddGenerated("direct", 1)
			m.IncClockRegression()
			m.IncRejectedTake()
			m.ObservePadding(0.01, 16, nil)
			m.ObservePadding(0.01, 0, errors.New("fetch failed"))
			m.IncLeaseAttempt(nil)
			m.SetWorkerID(7)
			m.SetBufferAvailable(12)

			So(testutil.ToFloat64(m.generated.WithLabelValues("batch")), ShouldEqual, 8)
			So(testutil.ToFloat64(m.generated.WithLabelValues("direct")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.clockRegressions), ShouldEqual, 1)
			So(testutil.ToFloat64(m.rejectedTakes), ShouldEqual, 1)
			So(testutil.ToFloat64(m.paddingPasses.WithLabelValues("success")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.paddingPasses.WithLabelValues("error")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.paddedIDs), ShouldEqual, 16)
			So(testutil.ToFloat64(m.leaseAttempts.WithLabelValues("success")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.workerID), ShouldEqual, 7)
			So(testutil.ToFloat64(m.bufferAvailable), ShouldEqual, 12)
		})
	})
}

func TestNilMetrics(t *testing.T) {
	Convey("nil Metrics 不会 panic", t, func() {
		var m *Metrics
		So(func() {
			m.AddGenerated("direct", 1)
			m.IncClockRegression()
			m.IncSequenceWait()
			m.IncHighSeq()
			m.SetBufferCapacity(1)
			m.SetBufferAvailable(1)
			m.IncRejectedPut()
			m.IncRejectedTake()
			m.ObservePadding(0, 0, nil)
			m.IncLeaseAttempt(nil)
			m.IncLeaseRenewal(nil)
			m.SetWorkerID(1)
		}, ShouldNotPanic)
		So(m.Register(prometheus.NewRegistry()), ShouldBeNil)
	})
}
