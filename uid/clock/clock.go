package clock

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Clock 时间来源，测试中替换成 ManualClock
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟，日期按 Location 计算
type SystemClock struct {
	Location *time.Location
}

func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.Local
	}
	return &SystemClock{Location: loc}
}

func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.Location)
}

// ManualClock 手动推进的时钟，并发安全
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Day 把时间转换成 YYYYMMDD 形式的整数
func Day(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

// ParseDay 把 YYYYMMDD 整数转换成当天零点
func ParseDay(day int64, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := int(day/10000), time.Month(day/100%100), int(day%100)
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if day < 0 || t.Year() != y || t.Month() != m || t.Day() != d {
		return time.Time{}, errors.Errorf("invalid day %d", day)
	}
	return t, nil
}

// EndOfDay 返回 t 所在日期的下一天零点
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// ParseEpoch 解析纪元时间，支持 2006-01-02 和 RFC3339
func ParseEpoch(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid epoch %q", s)
	}
	return t, nil
}

// LoadLocation 空字符串表示本地时区
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load location %q", name)
	}
	return loc, nil
}
