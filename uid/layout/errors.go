package layout

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidLayout  = errors.New("invalid layout")
	ErrLayoutOverflow = errors.New("layout overflow")
	ErrFieldOverflow  = errors.New("field overflow")
	ErrUnknownField   = errors.New("unknown field")
	ErrMalformedID    = errors.New("malformed id")
)

// FieldOverflowError 字段值超出取值范围 [0, Max]
type FieldOverflowError struct {
	Field string
	Value int64
	Max   int64
}

func (e *FieldOverflowError) Error() string {
	return fmt.Sprintf("field overflow: %s=%d, max=%d", e.Field, e.Value, e.Max)
}

func (e *FieldOverflowError) Is(target error) bool {
	return target == ErrFieldOverflow
}
