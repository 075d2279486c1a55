package weights

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestReadBounds(t *testing.T) {
	t.Parallel()

	buf, err := NewBufferAt([]float32{1, 2, 3, 4, 5, 6}, 8)
	if err != nil {
		t.Fatalf("NewBufferAt: %v", err)
	}

	tests := []struct {
		name    string
		begin   int
		shape   []int
		wantErr error
	}{
		{name: "whole buffer", begin: 8, shape: []int{2, 3}},
		{name: "scalar at end", begin: 28, shape: []int{1}},
		{name: "empty shape", begin: 32, shape: nil},
		{name: "zero dim", begin: 12, shape: []int{4, 0}},
		{name: "before start", begin: 4, shape: []int{1}, wantErr: ErrOutOfBounds},
		{name: "past end", begin: 28, shape: []int{2}, wantErr: ErrOutOfBounds},
		{name: "misaligned", begin: 10, shape: []int{1}, wantErr: ErrMisaligned},
		{name: "negative dim", begin: 8, shape: []int{-1}, wantErr: ErrBadShape},
	}
	for _, tt := range tests {
		v, err := Read(buf, tt.begin, tt.shape)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("%s: err=%v want %v", tt.name, err, tt.wantErr)
			}
			if v.Data != nil {
				t.Fatalf("%s: failed read exposed data", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if got, want := v.ByteLength(), v.ElementCount()*ElementSize; got != want {
			t.Fatalf("%s: byte length %d want %d", tt.name, got, want)
		}
		if len(v.Data) != v.ElementCount() {
			t.Fatalf("%s: data length %d want %d", tt.name, len(v.Data), v.ElementCount())
		}
	}
}

func TestReadAliasesBuffer(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]float32{10, 20, 30, 40})
	v, err := Read(buf, 4, []int{2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.Data[0] != 20 || v.Data[1] != 30 {
		t.Fatalf("unexpected data %v", v.Data)
	}
	if cap(v.Data) != 2 {
		t.Fatalf("view capacity leaks past its range: %d", cap(v.Data))
	}
}

func TestCursorThreading(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]float32{1, 2, 3, 4, 5})
	c0 := NewCursor(buf, 0)

	s, c1, err := c0.Scalar()
	if err != nil || s != 1 {
		t.Fatalf("Scalar: %v %v", s, err)
	}
	if c0.Offset() != 0 {
		t.Fatalf("receiver advanced to %d", c0.Offset())
	}
	v, c2, err := c1.Read([]int{2, 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.ByteOffsetBegin != c1.Offset() || v.ByteOffsetEnd != c2.Offset() {
		t.Fatalf("offsets not contiguous: view [%d,%d) cursors %d %d",
			v.ByteOffsetBegin, v.ByteOffsetEnd, c1.Offset(), c2.Offset())
	}
	if c2.Remaining() != 0 {
		t.Fatalf("remaining %d", c2.Remaining())
	}

	_, c3, err := c2.Scalar()
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}
	if c3 != c2 {
		t.Fatalf("failed read moved cursor")
	}
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "w.f32")
	want := []float32{0.5, -1.25, 3, 1e-7}
	if err := WriteFile(path, NewBuffer(want)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	buf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if buf.Len() != len(want) {
		t.Fatalf("len %d want %d", buf.Len(), len(want))
	}
	v, err := Read(buf, 0, []int{len(want)})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range want {
		if v.Data[i] != want[i] {
			t.Fatalf("value %d: got %v want %v", i, v.Data[i], want[i])
		}
	}
}

func TestFromBytesRejectsPartialElement(t *testing.T) {
	t.Parallel()

	if _, err := FromBytes(make([]byte, 7)); !errors.Is(err, ErrRawSize) {
		t.Fatalf("expected ErrRawSize, got %v", err)
	}
}
