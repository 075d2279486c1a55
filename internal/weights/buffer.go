package weights

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ElementSize is the width in bytes of one buffer element (IEEE-754 float32).
const ElementSize = 4

var (
	ErrOutOfBounds = errors.New("weights: read out of bounds")
	ErrMisaligned  = errors.New("weights: byte offset not element aligned")
	ErrBadShape    = errors.New("weights: invalid shape")
	ErrRawSize     = errors.New("weights: raw byte length not a multiple of 4")
)

// Buffer is a read-only float32 sequence shared by every consumer that
// decodes parameters out of it.
//
// start is the byte position of Data[0] inside whatever larger storage the
// values were sliced from, so offsets handed around by callers are absolute:
// a buffer that begins at byte 64 of its backing file accepts reads from
// offset 64 upwards. A Buffer must never be written to after construction.
type Buffer struct {
	data  []float32
	start int
}

// NewBuffer wraps data with a start offset of zero.
func NewBuffer(data []float32) *Buffer {
	return &Buffer{data: data}
}

// NewBufferAt wraps data whose first element lives at byteStart.
func NewBufferAt(data []float32, byteStart int) (*Buffer, error) {
	if byteStart < 0 {
		return nil, fmt.Errorf("%w: negative start %d", ErrOutOfBounds, byteStart)
	}
	if byteStart%ElementSize != 0 {
		return nil, fmt.Errorf("%w: start %d", ErrMisaligned, byteStart)
	}
	return &Buffer{data: data, start: byteStart}, nil
}

// FromBytes decodes little-endian float32 values. The result does not alias raw.
func FromBytes(raw []byte) (*Buffer, error) {
	if len(raw)%ElementSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrRawSize, len(raw))
	}
	out := make([]float32, len(raw)/ElementSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*ElementSize:]))
	}
	return NewBuffer(out), nil
}

// Begin is the first legal byte offset.
func (b *Buffer) Begin() int {
	if b == nil {
		return 0
	}
	return b.start
}

// End is one past the last legal byte offset.
func (b *Buffer) End() int {
	if b == nil {
		return 0
	}
	return b.start + len(b.data)*ElementSize
}

// ByteLength is End()-Begin().
func (b *Buffer) ByteLength() int {
	return b.End() - b.Begin()
}

// Len returns the number of float32 elements.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Bytes encodes the buffer back to little-endian bytes.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.Len()*ElementSize)
	for i, v := range b.data {
		binary.LittleEndian.PutUint32(out[i*ElementSize:], math.Float32bits(v))
	}
	return out
}
