package weights

import (
	"fmt"
	"math"
	"slices"
)

// View is a shaped, read-only window over a contiguous range of a Buffer.
// Data aliases the buffer and must not be modified.
type View struct {
	Shape           []int
	ByteOffsetBegin int
	ByteOffsetEnd   int
	Data            []float32
}

// ElementCount returns the product of the shape. An empty shape has no elements.
func (v View) ElementCount() int {
	return elementCount(v.Shape)
}

// ByteLength is ByteOffsetEnd-ByteOffsetBegin.
func (v View) ByteLength() int {
	return v.ByteOffsetEnd - v.ByteOffsetBegin
}

// Read builds a view of shape starting at byteOffsetBegin.
//
// The offset is absolute (see Buffer) and must be element aligned relative to
// the buffer start. Reads that would run past the buffer end fail with
// ErrOutOfBounds and expose nothing.
func Read(buf *Buffer, byteOffsetBegin int, shape []int) (View, error) {
	if buf == nil {
		return View{}, fmt.Errorf("%w: nil buffer", ErrOutOfBounds)
	}
	count, err := checkedCount(shape)
	if err != nil {
		return View{}, err
	}
	if byteOffsetBegin < buf.Begin() {
		return View{}, fmt.Errorf("%w: begin %d precedes buffer start %d", ErrOutOfBounds, byteOffsetBegin, buf.Begin())
	}
	rel := byteOffsetBegin - buf.Begin()
	if rel%ElementSize != 0 {
		return View{}, fmt.Errorf("%w: offset %d", ErrMisaligned, byteOffsetBegin)
	}
	if count > (math.MaxInt-byteOffsetBegin)/ElementSize {
		return View{}, fmt.Errorf("%w: shape %v overflows", ErrOutOfBounds, shape)
	}
	end := byteOffsetBegin + count*ElementSize
	if end > buf.End() {
		return View{}, fmt.Errorf("%w: shape %v needs bytes [%d,%d) but buffer ends at %d",
			ErrOutOfBounds, shape, byteOffsetBegin, end, buf.End())
	}
	first := rel / ElementSize
	return View{
		Shape:           slices.Clone(shape),
		ByteOffsetBegin: byteOffsetBegin,
		ByteOffsetEnd:   end,
		Data:            buf.data[first : first+count : first+count],
	}, nil
}

func elementCount(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkedCount(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, nil
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrBadShape, shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: %v overflows", ErrBadShape, shape)
		}
		n *= d
	}
	return n, nil
}
