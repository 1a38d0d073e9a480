package sequence

import (
	"fmt"
	"time"

	"github.com/hatlonely/uidgen/uid/clock"
	"github.com/pkg/errors"
)

var (
	ErrClockRegression    = errors.New("clock moved backwards")
	ErrTimestampExhausted = errors.New("timestamp exhausted")
	ErrHighSeqExhausted   = errors.New("high sequence exhausted")
	ErrSequenceExhausted  = errors.New("sequence exhausted")
)

// ClockRegressionError 当前周期小于上次观察到的周期，拒绝生成
type ClockRegressionError struct {
	Resolution Resolution
	Last       int64
	Current    int64
}

// Periods 回拨的秒数或天数
func (e *ClockRegressionError) Periods() int64 {
	if e.Resolution != ResolutionDay {
		return e.Last - e.Current
	}
	last, err1 := clock.ParseDay(e.Last, time.UTC)
	current, err2 := clock.ParseDay(e.Current, time.UTC)
	if err1 != nil || err2 != nil {
		return e.Last - e.Current
	}
	return int64(last.Sub(current) / (24 * time.Hour))
}

func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("clock moved backwards, refusing to generate id for %d %ss", e.Periods(), e.Resolution)
}

func (e *ClockRegressionError) Is(target error) bool {
	return target == ErrClockRegression
}
