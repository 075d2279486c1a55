package weights

// Cursor is a position in a Buffer. It is a value: reads return the advanced
// cursor and leave the receiver untouched, so callers thread it explicitly
// and can always fall back to an earlier position.
type Cursor struct {
	buf    *Buffer
	offset int
}

// NewCursor positions a cursor at byteOffset. The offset is validated lazily
// by the first read.
func NewCursor(buf *Buffer, byteOffset int) Cursor {
	return Cursor{buf: buf, offset: byteOffset}
}

func (c Cursor) Buffer() *Buffer { return c.buf }
func (c Cursor) Offset() int     { return c.offset }

// Remaining is the number of bytes between the cursor and the buffer end.
func (c Cursor) Remaining() int {
	if r := c.buf.End() - c.offset; r > 0 {
		return r
	}
	return 0
}

// Read returns a view of shape at the cursor and the cursor positioned just
// past it. On error the returned cursor equals c.
func (c Cursor) Read(shape []int) (View, Cursor, error) {
	v, err := Read(c.buf, c.offset, shape)
	if err != nil {
		return View{}, c, err
	}
	return v, Cursor{buf: c.buf, offset: v.ByteOffsetEnd}, nil
}

// Scalar reads a single element.
func (c Cursor) Scalar() (float32, Cursor, error) {
	v, next, err := c.Read([]int{1})
	if err != nil {
		return 0, c, err
	}
	return v.Data[0], next, nil
}
