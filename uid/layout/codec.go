package layout

import (
	"strconv"

	"github.com/pkg/errors"
)

// ID 生成的 id 类型，二进制布局是 int64，十进制布局是 string
type ID interface {
	int64 | string
}

// Codec 在字段值和 id 之间转换
// Encode 和 EncodeSequences 的输入需要先经过 Layout.Check
type Codec[T ID] interface {
	Layout() *Layout
	Encode(values []int64) T
	// EncodeSequences 生成 n 个 id，sequence 依次为 values[sequence] + 0..n-1
	EncodeSequences(values []int64, n int) []T
	Decode(id T) ([]int64, error)
}

// BinaryCodec 64 位整数编码，shift(i) 等于 i 右边所有字段宽度之和
type BinaryCodec struct {
	layout *Layout
}

func NewBinaryCodec(l *Layout) (*BinaryCodec, error) {
	if l == nil || l.family != FamilyBinary {
		return nil, errors.Wrap(ErrInvalidLayout, "binary codec requires a binary layout")
	}
	return &BinaryCodec{layout: l}, nil
}

func (c *BinaryCodec) Layout() *Layout {
	return c.layout
}

func (c *BinaryCodec) Encode(values []int64) int64 {
	var id int64
	for i, v := range values {
		id |= v << c.layout.offsets[i]
	}
	return id
}

func (c *BinaryCodec) EncodeSequences(values []int64, n int) []int64 {
	first := c.Encode(values)
	step := int64(1) << c.layout.offsets[c.layout.sequence]

	ids := make([]int64, n)
	for i := range ids {
		ids[i] = first + int64(i)*step
	}
	return ids
}

func (c *BinaryCodec) Decode(id int64) ([]int64, error) {
	if id < 0 {
		return nil, errors.Wrapf(ErrMalformedID, "negative id %d", id)
	}
	values := make([]int64, len(c.layout.fields))
	for i, f := range c.layout.fields {
		values[i] = (id >> c.layout.offsets[i]) & (int64(1)<<f.Width - 1)
	}
	return values, nil
}

// DigitCodec 29 位十进制字符串编码，每个字段左补零到固定宽度
type DigitCodec struct {
	layout *Layout
}

func NewDigitCodec(l *Layout) (*DigitCodec, error) {
	if l == nil || l.family != FamilyDigit {
		return nil, errors.Wrap(ErrInvalidLayout, "digit codec requires a digit layout")
	}
	return &DigitCodec{layout: l}, nil
}

func (c *DigitCodec) Layout() *Layout {
	return c.layout
}

func (c *DigitCodec) Encode(values []int64) string {
	return string(c.encode(values))
}

func (c *DigitCodec) encode(values []int64) []byte {
	buf := make([]byte, 0, DigitWidth)
	for i, v := range values {
		buf = appendPadded(buf, v, c.layout.fields[i].Width)
	}
	return buf
}

func (c *DigitCodec) EncodeSequences(values []int64, n int) []string {
	buf := c.encode(values)
	seq := c.layout.sequence
	begin, width := c.layout.offsets[seq], c.layout.fields[seq].Width

	ids := make([]string, n)
	for i := range ids {
		appendPadded(buf[begin:begin], values[seq]+int64(i), width)
		ids[i] = string(buf)
	}
	return ids
}

func (c *DigitCodec) Decode(id string) ([]int64, error) {
	if len(id) != DigitWidth {
		return nil, errors.Wrapf(ErrMalformedID, "id %q has %d digits, expect %d", id, len(id), DigitWidth)
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return nil, errors.Wrapf(ErrMalformedID, "id %q contains non-digit characters", id)
		}
	}

	values := make([]int64, len(c.layout.fields))
	for i, f := range c.layout.fields {
		begin := c.layout.offsets[i]
		v, err := strconv.ParseInt(id[begin:begin+f.Width], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedID, "field %s: %v", f.Name, err)
		}
		values[i] = v
	}
	return values, nil
}

func appendPadded(buf []byte, v int64, width int) []byte {
	var tmp [20]byte
	digits := strconv.AppendInt(tmp[:0], v, 10)
	for i := len(digits); i < width; i++ {
		buf = append(buf, '0')
	}
	return append(buf, digits...)
}
