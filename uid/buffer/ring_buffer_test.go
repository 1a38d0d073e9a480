package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type countingPadder struct {
	n atomic.Int32
}

func (p *countingPadder) AsyncPadding() {
	p.n.Add(1)
}

func (p *countingPadder) Done() <-chan struct{} {
	return nil
}

func TestNewRingBuffer(t *testing.T) {
	Convey("NewRingBuffer 参数校验", t, func() {
		_, err := NewRingBuffer[int64](0, 50)
		So(err, ShouldNotBeNil)
		_, err = NewRingBuffer[int64](12, 50)
		So(err, ShouldNotBeNil)
		_, err = NewRingBuffer[int64](16, 0)
		So(err, ShouldNotBeNil)
		_, err = NewRingBuffer[int64](16, 100)
		So(err, ShouldNotBeNil)

		rb, err := NewRingBuffer[int64](16, 50)
		So(err, ShouldBeNil)
		So(rb.Size(), ShouldEqual, 16)
		So(rb.PaddingThreshold(), ShouldEqual, 8)
		So(rb.Tail(), ShouldEqual, -1)
		So(rb.Cursor(), ShouldEqual, -1)
		So(rb.Len(), ShouldEqual, 0)
	})
}

func TestRingBufferPutTake(t *testing.T) {
	Convey("Put/Take", t, func() {
		var rejectedPuts []int64
		rb, err := NewRingBuffer[int64](8, 50,
			WithRejectedPutHandler(func(rb *RingBuffer[int64], v int64) {
				rejectedPuts = append(rejectedPuts, v)
			}),
			WithRejectedTakeHandler(ErrorTakeHandler[int64]),
		)
		So(err, ShouldBeNil)

		for i := int64(0); i < 8; i++ {
			So(rb.Put(i), ShouldBeTrue)
		}
		So(rb.Len(), ShouldEqual, 8)

		Convey("容量满后拒绝", func() {
			So(rb.Put(8), ShouldBeFalse)
			So(rejectedPuts, ShouldResemble, []int64{8})
		})

		Convey("取出 C 个成功，第 C+1 个被拒绝", func() {
			for i := int64(0); i < 8; i++ {
				v, err := rb.Take(context.Background())
				So(err, ShouldBeNil)
				So(v, ShouldEqual, i)
			}
			_, err := rb.Take(context.Background())
			So(errors.Is(err, ErrRejectTake), ShouldBeTrue)
			So(rb.Len(), ShouldEqual, 0)
		})

		Convey("取出后可以继续放入", func() {
			for i := 0; i < 3; i++ {
				_, err := rb.Take(context.Background())
				So(err, ShouldBeNil)
			}
			for i := int64(8); i < 11; i++ {
				So(rb.Put(i), ShouldBeTrue)
			}
			So(rb.Put(11), ShouldBeFalse)

			for i := int64(3); i < 11; i++ {
				v, err := rb.Take(context.Background())
				So(err, ShouldBeNil)
				So(v, ShouldEqual, i)
			}
		})
	})
}

func TestRingBufferPaddingTrigger(t *testing.T) {
	Convey("低于阈值时触发填充", t, func() {
		rb, err := NewRingBuffer[int64](8, 50, WithRejectedTakeHandler(ErrorTakeHandler[int64]))
		So(err, ShouldBeNil)
		padder := &countingPadder{}
		rb.SetPadder(padder)

		for i := int64(0); i < 8; i++ {
			rb.Put(i)
		}

		for i := 0; i < 3; i++ {
			_, err := rb.Take(context.Background())
			So(err, ShouldBeNil)
		}
		So(padder.n.Load(), ShouldEqual, 0)

		// 剩余数量等于阈值时也触发
		_, err = rb.Take(context.Background())
		So(err, ShouldBeNil)
		So(rb.Len(), ShouldEqual, rb.PaddingThreshold())
		So(padder.n.Load(), ShouldEqual, 1)
	})
}

func TestRingBufferTakePolicies(t *testing.T) {
	Convey("Take 策略", t, func() {
		Convey("block 等待生产者", func() {
			rb, err := NewRingBuffer[int64](8, 50)
			So(err, ShouldBeNil)

			go func() {
				time.Sleep(20 * time.Millisecond)
				rb.Put(42)
			}()
			v, err := rb.Take(context.Background())
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 42)
		})

		Convey("block 超时", func() {
			rb, err := NewRingBuffer[int64](8, 50)
			So(err, ShouldBeNil)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = rb.Take(ctx)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})

		Convey("fallback", func() {
			handler, err := TakeHandler[string](TakePolicyFallback, func(ctx context.Context) (string, error) {
				return "direct", nil
			})
			So(err, ShouldBeNil)
			rb, err := NewRingBuffer[string](8, 50, WithRejectedTakeHandler(handler))
			So(err, ShouldBeNil)

			v, err := rb.Take(context.Background())
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "direct")
		})

		Convey("策略名", func() {
			_, err := PutHandler[int64]("log")
			So(err, ShouldBeNil)
			_, err = PutHandler[int64]("discard")
			So(err, ShouldBeNil)
			_, err = PutHandler[int64]("panic")
			So(err, ShouldNotBeNil)

			_, err = TakeHandler[int64]("", nil)
			So(err, ShouldBeNil)
			_, err = TakeHandler[int64]("error", nil)
			So(err, ShouldBeNil)
			_, err = TakeHandler[int64]("fallback", nil)
			So(err, ShouldNotBeNil)
			_, err = TakeHandler[int64]("retry", nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRingBufferConcurrentTake(t *testing.T) {
	Convey("并发 Take 不重复不丢失", t, func() {
		rb, err := NewRingBuffer[int64](1024, 50,
			WithRejectedTakeHandler(ErrorTakeHandler[int64]),
			WithRejectedPutHandler(DiscardPutHandler[int64]),
		)
		So(err, ShouldBeNil)
		for i := int64(0); i < 1024; i++ {
			rb.Put(i)
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		seen := map[int64]bool{}
		duplicates := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					v, err := rb.Take(context.Background())
					if err != nil {
						return
					}
					mu.Lock()
					if seen[v] {
						duplicates++
					}
					seen[v] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		So(duplicates, ShouldEqual, 0)
		So(len(seen), ShouldEqual, 1024)
	})

	Convey("生产者和消费者并发", t, func() {
		rb, err := NewRingBuffer[int64](64, 50,
			WithRejectedPutHandler(DiscardPutHandler[int64]),
			WithTakePollInterval[int64](100*time.Microsecond),
		)
		So(err, ShouldBeNil)

		const total = 10000
		go func() {
			for i := int64(0); i < total; {
				if rb.Put(i) {
					i++
				} else {
					time.Sleep(10 * time.Microsecond)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var got []int64
		for i := 0; i < total; i++ {
			v, err := rb.Take(ctx)
			if err != nil {
				break
			}
			got = append(got, v)
		}
		So(len(got), ShouldEqual, total)
		for i, v := range got {
			if v != int64(i) {
				So(v, ShouldEqual, i)
				break
			}
		}
	})
}
