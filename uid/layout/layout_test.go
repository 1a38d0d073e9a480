package layout

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNew(t *testing.T) {
	Convey("New", t, func() {
		Convey("默认布局", func() {
			l, err := New(FamilyBinary, DefaultBinaryFields())
			So(err, ShouldBeNil)
			So(l.MaxWorkerID(), ShouldEqual, 15)
			So(l.MaxSequence(), ShouldEqual, 2047)
			So(l.MaxPeriod(), ShouldEqual, 1<<30-1)
			So(l.HasHighSeq(), ShouldBeFalse)
			So(l.BusinessIndexes(), ShouldResemble, []int{2, 3, 4})

			l, err = New(FamilyDigit, DefaultDigitFields())
			So(err, ShouldBeNil)
			So(l.MaxWorkerID(), ShouldEqual, 99)
			So(l.MaxSequence(), ShouldEqual, 99)
			So(l.MaxHighSeq(), ShouldEqual, 999999)
			So(l.HighSeqIndex(), ShouldEqual, 1)
		})

		Convey("总宽度不对", func() {
			fields := DefaultBinaryFields()
			fields[1].Width = 29
			_, err := New(FamilyBinary, fields)
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)
		})

		Convey("十进制字段宽度超过 17 位", func() {
			fields := []Field{
				{Name: "date", Role: RolePeriod, Width: 8},
				{Name: "worker", Role: RoleWorker, Width: 1},
				{Name: "big", Role: RoleBusiness, Width: 18},
				{Name: "sequence", Role: RoleSequence, Width: 2},
			}
			_, err := New(FamilyDigit, fields)
			So(errors.Is(err, ErrLayoutOverflow), ShouldBeTrue)
		})

		Convey("缺少 sign 字段", func() {
			fields := DefaultBinaryFields()[1:]
			fields[0].Width = 31
			_, err := New(FamilyBinary, fields)
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)
		})

		Convey("重复字段和重复角色", func() {
			fields := DefaultBinaryFields()
			fields[3].Name = "source"
			_, err := New(FamilyBinary, fields)
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)

			fields = DefaultBinaryFields()
			fields[2].Role = RoleWorker
			_, err = New(FamilyBinary, fields)
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)
		})

		Convey("十进制布局必须以日期开头", func() {
			fields := DefaultDigitFields()
			fields[0], fields[1] = fields[1], fields[0]
			_, err := New(FamilyDigit, fields)
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)
		})

		Convey("Max 只能调小", func() {
			fields := DefaultDigitFields()
			fields[7].Max = 3
			l, err := New(FamilyDigit, fields)
			So(err, ShouldBeNil)
			So(l.MaxSequence(), ShouldEqual, 3)

			fields[7].Max = 100
			_, err = New(FamilyDigit, fields)
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)
		})

		Convey("未知 family", func() {
			_, err := New("hex", DefaultBinaryFields())
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)
		})
	})
}

func TestCheck(t *testing.T) {
	Convey("Check", t, func() {
		l, err := New(FamilyBinary, DefaultBinaryFields())
		So(err, ShouldBeNil)

		So(l.Check([]int64{0, 100, 0, 0, 0, 5, 3}), ShouldBeNil)

		err = l.Check([]int64{0, 100, 0, 0, 0, 16, 3})
		So(errors.Is(err, ErrFieldOverflow), ShouldBeTrue)
		var overflow *FieldOverflowError
		So(errors.As(err, &overflow), ShouldBeTrue)
		So(overflow.Field, ShouldEqual, "worker")
		So(overflow.Max, ShouldEqual, 15)

		err = l.Check([]int64{0, -1, 0, 0, 0, 0, 0})
		So(errors.Is(err, ErrFieldOverflow), ShouldBeTrue)

		So(errors.Is(l.Check([]int64{0}), ErrInvalidLayout), ShouldBeTrue)
	})
}

func TestBusinessValues(t *testing.T) {
	Convey("BusinessValues", t, func() {
		l, err := New(FamilyBinary, DefaultBinaryFields())
		So(err, ShouldBeNil)

		values, err := l.BusinessValues(map[string]int64{"source": 1023, "ext": 7})
		So(err, ShouldBeNil)
		So(values, ShouldResemble, []int64{0, 0, 1023, 0, 7, 0, 0})

		_, err = l.BusinessValues(map[string]int64{"source": 1024})
		So(errors.Is(err, ErrFieldOverflow), ShouldBeTrue)

		_, err = l.BusinessValues(map[string]int64{"region": 1})
		So(errors.Is(err, ErrUnknownField), ShouldBeTrue)

		_, err = l.BusinessValues(map[string]int64{"worker": 1})
		So(errors.Is(err, ErrUnknownField), ShouldBeTrue)
	})
}

func TestBinaryCodec(t *testing.T) {
	Convey("BinaryCodec", t, func() {
		l, err := New(FamilyBinary, DefaultBinaryFields())
		So(err, ShouldBeNil)
		c, err := NewBinaryCodec(l)
		So(err, ShouldBeNil)

		Convey("timestamp=100 worker=5 sequence=3", func() {
			values := []int64{0, 100, 0, 0, 0, 5, 3}
			id := c.Encode(values)
			So(id, ShouldEqual, int64(100)<<33|5<<11|3)

			decoded, err := c.Decode(id)
			So(err, ShouldBeNil)
			So(decoded, ShouldResemble, values)
			So(l.ToMap(decoded), ShouldResemble, map[string]int64{
				"timestamp": 100, "source": 0, "type": 0, "ext": 0, "worker": 5, "sequence": 3,
			})
		})

		Convey("每个字段取最大值", func() {
			values := []int64{0, 1<<30 - 1, 1023, 31, 7, 15, 2047}
			id := c.Encode(values)
			So(id, ShouldEqual, int64(math.MaxInt64))
			decoded, err := c.Decode(id)
			So(err, ShouldBeNil)
			So(decoded, ShouldResemble, values)
		})

		Convey("EncodeSequences", func() {
			values := []int64{0, 100, 1, 2, 3, 5, 10}
			ids := c.EncodeSequences(values, 4)
			So(len(ids), ShouldEqual, 4)
			for i, id := range ids {
				values[6] = 10 + int64(i)
				So(id, ShouldEqual, c.Encode(values))
			}
		})

		Convey("负数 id", func() {
			_, err := c.Decode(-1)
			So(errors.Is(err, ErrMalformedID), ShouldBeTrue)
		})

		Convey("布局类型不匹配", func() {
			_, err := NewDigitCodec(l)
			So(errors.Is(err, ErrInvalidLayout), ShouldBeTrue)
		})
	})
}

func TestDigitCodec(t *testing.T) {
	Convey("DigitCodec", t, func() {
		l, err := New(FamilyDigit, DefaultDigitFields())
		So(err, ShouldBeNil)
		c, err := NewDigitCodec(l)
		So(err, ShouldBeNil)

		values := []int64{20240101, 1, 2, 3, 4, 5, 6, 7}
		id := c.Encode(values)
		So(id, ShouldEqual, "20240101000001020003040500607")
		So(len(id), ShouldEqual, DigitWidth)

		decoded, err := c.Decode(id)
		So(err, ShouldBeNil)
		So(decoded, ShouldResemble, values)

		Convey("EncodeSequences", func() {
			ids := c.EncodeSequences([]int64{20240101, 1, 2, 0, 0, 0, 0, 97}, 3)
			So(ids, ShouldResemble, []string{
				"20240101000001020000000000097",
				"20240101000001020000000000098",
				"20240101000001020000000000099",
			})
		})

		Convey("格式错误", func() {
			_, err := c.Decode("2024")
			So(errors.Is(err, ErrMalformedID), ShouldBeTrue)
			_, err = c.Decode("2024010100000102000304050060x")
			So(errors.Is(err, ErrMalformedID), ShouldBeTrue)
		})
	})
}
