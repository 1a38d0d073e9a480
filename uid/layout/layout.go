package layout

import (
	"github.com/pkg/errors"
)

// Family 标识编码方式
type Family string

const (
	// FamilyBinary 64 位整数，字段按位拼接
	FamilyBinary Family = "binary"
	// FamilyDigit 29 位十进制字符串，字段按十进制位左补零拼接
	FamilyDigit Family = "digit"
)

const (
	BinaryWidth = 64
	DigitWidth  = 29
	// DayWidth 日期前缀 YYYYMMDD 的位数
	DayWidth = 8

	maxBinaryFieldWidth = 63
	maxDigitFieldWidth  = 17
)

// Role 字段在 id 中的作用
type Role string

const (
	RoleSign     Role = "sign"
	RolePeriod   Role = "period"
	RoleHighSeq  Role = "highSeq"
	RoleWorker   Role = "worker"
	RoleBusiness Role = "business"
	RoleSequence Role = "sequence"
)

// Field 布局中的一个字段
// Max 为 0 时取宽度决定的最大值，非 0 时只能调小
type Field struct {
	Name  string `cfg:"name" validate:"required"`
	Role  Role   `cfg:"role" def:"business" validate:"oneof=sign period highSeq worker business sequence"`
	Width int    `cfg:"width" validate:"gt=0"`
	Max   int64  `cfg:"max" validate:"gte=0"`
}

// Layout 校验过的字段布局，创建后不可修改
type Layout struct {
	family  Family
	fields  []Field
	offsets []int
	index   map[string]int

	period   int
	highSeq  int
	worker   int
	sequence int
	business []int
}

// DefaultBinaryFields 二进制布局的默认字段
// sign(1) timestamp(30) source(10) type(5) ext(3) worker(4) sequence(11)
func DefaultBinaryFields() []Field {
	return []Field{
		{Name: "sign", Role: RoleSign, Width: 1},
		{Name: "timestamp", Role: RolePeriod, Width: 30},
		{Name: "source", Role: RoleBusiness, Width: 10},
		{Name: "type", Role: RoleBusiness, Width: 5},
		{Name: "ext", Role: RoleBusiness, Width: 3},
		{Name: "worker", Role: RoleWorker, Width: 4},
		{Name: "sequence", Role: RoleSequence, Width: 11},
	}
}

// DefaultDigitFields 十进制布局的默认字段
// date(8) highSeq(6) worker(2) appId(4) bizType(2) extraTag(2) shardingId(3) sequence(2)
func DefaultDigitFields() []Field {
	return []Field{
		{Name: "date", Role: RolePeriod, Width: DayWidth},
		{Name: "highSeq", Role: RoleHighSeq, Width: 6},
		{Name: "worker", Role: RoleWorker, Width: 2},
		{Name: "appId", Role: RoleBusiness, Width: 4},
		{Name: "bizType", Role: RoleBusiness, Width: 2},
		{Name: "extraTag", Role: RoleBusiness, Width: 2},
		{Name: "shardingId", Role: RoleBusiness, Width: 3},
		{Name: "sequence", Role: RoleSequence, Width: 2},
	}
}

// DefaultFields 返回 family 对应的默认字段
func DefaultFields(family Family) []Field {
	if family == FamilyDigit {
		return DefaultDigitFields()
	}
	return DefaultBinaryFields()
}

// New 校验并创建布局
func New(family Family, fields []Field) (*Layout, error) {
	var total int
	switch family {
	case FamilyBinary:
		total = BinaryWidth
	case FamilyDigit:
		total = DigitWidth
	default:
		return nil, errors.Wrapf(ErrInvalidLayout, "unknown family %q", family)
	}
	if len(fields) == 0 {
		return nil, errors.Wrap(ErrInvalidLayout, "no fields")
	}

	l := &Layout{
		family:   family,
		fields:   make([]Field, len(fields)),
		offsets:  make([]int, len(fields)),
		index:    make(map[string]int, len(fields)),
		period:   -1,
		highSeq:  -1,
		worker:   -1,
		sequence: -1,
	}
	copy(l.fields, fields)

	sum := 0
	for i := range l.fields {
		f := &l.fields[i]
		if f.Name == "" {
			return nil, errors.Wrapf(ErrInvalidLayout, "field %d has no name", i)
		}
		if _, ok := l.index[f.Name]; ok {
			return nil, errors.Wrapf(ErrInvalidLayout, "duplicate field %s", f.Name)
		}
		l.index[f.Name] = i

		if f.Width <= 0 {
			return nil, errors.Wrapf(ErrInvalidLayout, "field %s width %d", f.Name, f.Width)
		}
		if family == FamilyBinary && f.Width > maxBinaryFieldWidth {
			return nil, errors.Wrapf(ErrInvalidLayout, "field %s width %d", f.Name, f.Width)
		}
		if family == FamilyDigit && f.Width > maxDigitFieldWidth {
			return nil, errors.Wrapf(ErrLayoutOverflow, "field %s width %d", f.Name, f.Width)
		}
		sum += f.Width

		if err := l.setRole(i); err != nil {
			return nil, err
		}

		declared := maxValue(family, f.Width)
		if f.Role == RoleSign {
			declared = 0
		}
		switch {
		case f.Max < 0 || f.Max > declared:
			return nil, errors.Wrapf(ErrInvalidLayout, "field %s max %d exceeds %d", f.Name, f.Max, declared)
		case f.Max == 0:
			f.Max = declared
		}
	}

	if sum != total {
		return nil, errors.Wrapf(ErrInvalidLayout, "total width %d, expect %d", sum, total)
	}
	if l.period < 0 || l.worker < 0 || l.sequence < 0 {
		return nil, errors.Wrap(ErrInvalidLayout, "period, worker and sequence fields are required")
	}

	switch family {
	case FamilyBinary:
		if l.fields[0].Role != RoleSign || l.fields[0].Width != 1 {
			return nil, errors.Wrap(ErrInvalidLayout, "binary layout must start with a 1-bit sign field")
		}
		shift := 0
		for i := len(l.fields) - 1; i >= 0; i-- {
			l.offsets[i] = shift
			shift += l.fields[i].Width
		}
	case FamilyDigit:
		if l.period != 0 || l.fields[0].Width != DayWidth {
			return nil, errors.Wrap(ErrInvalidLayout, "digit layout must start with the 8-digit date field")
		}
		begin := 0
		for i := range l.fields {
			l.offsets[i] = begin
			begin += l.fields[i].Width
		}
	}

	return l, nil
}

func (l *Layout) setRole(i int) error {
	f := l.fields[i]
	single := func(slot *int) error {
		if *slot >= 0 {
			return errors.Wrapf(ErrInvalidLayout, "more than one %s field", f.Role)
		}
		*slot = i
		return nil
	}

	switch f.Role {
	case RoleSign:
		if l.family != FamilyBinary || i != 0 {
			return errors.Wrapf(ErrInvalidLayout, "unexpected sign field %s", f.Name)
		}
		return nil
	case RolePeriod:
		return single(&l.period)
	case RoleHighSeq:
		return single(&l.highSeq)
	case RoleWorker:
		return single(&l.worker)
	case RoleSequence:
		return single(&l.sequence)
	case RoleBusiness:
		l.business = append(l.business, i)
		return nil
	}
	return errors.Wrapf(ErrInvalidLayout, "field %s has unknown role %q", f.Name, f.Role)
}

func maxValue(family Family, width int) int64 {
	if family == FamilyBinary {
		return int64(1)<<width - 1
	}
	v := int64(1)
	for i := 0; i < width; i++ {
		v *= 10
	}
	return v - 1
}

func (l *Layout) Family() Family {
	return l.family
}

// Fields 返回字段副本
func (l *Layout) Fields() []Field {
	fields := make([]Field, len(l.fields))
	copy(fields, l.fields)
	return fields
}

func (l *Layout) Len() int {
	return len(l.fields)
}

// Index 返回字段下标
func (l *Layout) Index(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

func (l *Layout) PeriodIndex() int   { return l.period }
func (l *Layout) WorkerIndex() int   { return l.worker }
func (l *Layout) SequenceIndex() int { return l.sequence }

// HighSeqIndex 没有 highSeq 字段时返回 -1
func (l *Layout) HighSeqIndex() int { return l.highSeq }

func (l *Layout) HasHighSeq() bool { return l.highSeq >= 0 }

// BusinessIndexes 业务字段下标，按布局顺序
func (l *Layout) BusinessIndexes() []int {
	return append([]int(nil), l.business...)
}

func (l *Layout) Max(i int) int64 { return l.fields[i].Max }

func (l *Layout) MaxPeriod() int64   { return l.fields[l.period].Max }
func (l *Layout) MaxWorkerID() int64 { return l.fields[l.worker].Max }
func (l *Layout) MaxSequence() int64 { return l.fields[l.sequence].Max }

// MaxHighSeq 没有 highSeq 字段时返回 0
func (l *Layout) MaxHighSeq() int64 {
	if l.highSeq < 0 {
		return 0
	}
	return l.fields[l.highSeq].Max
}

// Check 检查每个字段值都在 [0, Max] 范围内
func (l *Layout) Check(values []int64) error {
	if len(values) != len(l.fields) {
		return errors.Wrapf(ErrInvalidLayout, "expect %d values, got %d", len(l.fields), len(values))
	}
	for i, v := range values {
		if v < 0 || v > l.fields[i].Max {
			return &FieldOverflowError{Field: l.fields[i].Name, Value: v, Max: l.fields[i].Max}
		}
	}
	return nil
}

// BusinessValues 把业务字段按名字填进完整的字段值数组，其余字段为 0
// 非业务字段或不存在的字段返回 ErrUnknownField
func (l *Layout) BusinessValues(business map[string]int64) ([]int64, error) {
	values := make([]int64, len(l.fields))
	if err := l.SetBusiness(values, business); err != nil {
		return nil, err
	}
	return values, nil
}

// SetBusiness 用 business 覆盖 values 中对应的业务字段
func (l *Layout) SetBusiness(values []int64, business map[string]int64) error {
	for name, v := range business {
		i, ok := l.index[name]
		if !ok || l.fields[i].Role != RoleBusiness {
			return errors.Wrapf(ErrUnknownField, "field %s", name)
		}
		if v < 0 || v > l.fields[i].Max {
			return &FieldOverflowError{Field: name, Value: v, Max: l.fields[i].Max}
		}
		values[i] = v
	}
	return nil
}

// ToMap 字段名到字段值的映射，sign 字段不输出
func (l *Layout) ToMap(values []int64) map[string]int64 {
	m := make(map[string]int64, len(l.fields))
	for i, f := range l.fields {
		if f.Role == RoleSign || i >= len(values) {
			continue
		}
		m[f.Name] = values[i]
	}
	return m
}
