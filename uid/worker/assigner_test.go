package worker

import (
	"context"
	"net"
	"testing"

	"github.com/hatlonely/uidgen/ref"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFixedAssigner(t *testing.T) {
	Convey("FixedAssigner", t, func() {
		a, err := NewFixedAssignerWithOptions(&FixedAssignerOptions{WorkerID: 5})
		So(err, ShouldBeNil)

		id, err := a.AssignWorkerID(context.Background(), 15)
		So(err, ShouldBeNil)
		So(id, ShouldEqual, 5)

		_, err = a.AssignWorkerID(context.Background(), 3)
		So(errors.Is(err, ErrWorkerIDExhausted), ShouldBeTrue)

		_, err = NewFixedAssignerWithOptions(&FixedAssignerOptions{WorkerID: -1})
		So(err, ShouldNotBeNil)

		a, err = NewFixedAssignerWithOptions(nil)
		So(err, ShouldBeNil)
		id, err = a.AssignWorkerID(context.Background(), 0)
		So(err, ShouldBeNil)
		So(id, ShouldEqual, 0)
		So(a.Close(), ShouldBeNil)
	})
}

func TestIPAssigner(t *testing.T) {
	Convey("IPAssigner", t, func() {
		addrs := func(ips ...string) func() ([]net.Addr, error) {
			return func() ([]net.Addr, error) {
				var res []net.Addr
				for _, ip := range ips {
					res = append(res, &net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(24, 32)})
				}
				return res, nil
			}
		}

		Convey("跳过回环地址", func() {
			a := &IPAssigner{interfaceAddrs: addrs("127.0.0.1", "10.0.1.2")}
			id, err := a.AssignWorkerID(context.Background(), 15)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, (1<<8|2)%16)
		})

		Convey("没有可用地址", func() {
			a := &IPAssigner{interfaceAddrs: addrs("127.0.0.1", "::1")}
			_, err := a.AssignWorkerID(context.Background(), 15)
			So(errors.Is(err, ErrNoAvailableWorkerID), ShouldBeTrue)
		})

		Convey("获取地址失败", func() {
			a := &IPAssigner{interfaceAddrs: func() ([]net.Addr, error) {
				return nil, errors.New("permission denied")
			}}
			_, err := a.AssignWorkerID(context.Background(), 15)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestAssignerRegistry(t *testing.T) {
	Convey("通过 ref 创建 Assigner", t, func() {
		obj, err := ref.New("github.com/hatlonely/uidgen/uid/worker", "FixedAssigner", &FixedAssignerOptions{WorkerID: 2})
		So(err, ShouldBeNil)
		a, ok := obj.(Assigner)
		So(ok, ShouldBeTrue)
		id, err := a.AssignWorkerID(context.Background(), 3)
		So(err, ShouldBeNil)
		So(id, ShouldEqual, 2)

		obj, err = ref.New("github.com/hatlonely/uidgen/uid/worker", "IPAssigner", nil)
		So(err, ShouldBeNil)
		_, ok = obj.(Assigner)
		So(ok, ShouldBeTrue)
	})
}
