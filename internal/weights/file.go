package weights

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Open loads a raw little-endian float32 weight file.
// The file is mapped read-only while decoding; if mmap is unavailable it
// falls back to ReadAt-based loading. The returned buffer does not reference
// the file.
func Open(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("weights: %s: unsupported size %d", path, size64)
	}
	size := int(size64)
	if size == 0 {
		return NewBuffer(nil), nil
	}
	if size%ElementSize != 0 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrRawSize, path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		buf, decodeErr := FromBytes(data)
		if unmapErr := unix.Munmap(data); unmapErr != nil && decodeErr == nil {
			decodeErr = unmapErr
		}
		return buf, decodeErr
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return FromBytes(data)
}

// WriteFile stores buf as raw little-endian float32 values.
func WriteFile(path string, buf *Buffer) error {
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
