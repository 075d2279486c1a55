// Package cpu is the reference float32 backend. Tensors live in host memory
// but follow the same explicit allocate/release discipline as a device
// backend, and the backend counts live allocations so leaks are observable.
package cpu

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/blockwise/internal/backend"
)

func init() {
	backend.Register(backend.CPU, func() (backend.Backend, error) { return New(), nil })
}

type Backend struct {
	mu   sync.Mutex
	live int
}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string {
	return backend.CPU
}

// Live returns the number of allocated, unreleased tensors.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

type tensor struct {
	owner    *Backend
	shape    []int
	data     []float32
	released bool
}

func (t *tensor) Shape() []int {
	return slices.Clone(t.shape)
}

func (b *Backend) alloc(shape []int) *tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	b.mu.Lock()
	b.live++
	b.mu.Unlock()
	return &tensor{owner: b, shape: slices.Clone(shape), data: make([]float32, n)}
}

func (b *Backend) Upload(shape []int, data []float32) (backend.Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", backend.ErrShapeMismatch, shape)
		}
		n *= d
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", backend.ErrShapeMismatch, shape, n, len(data))
	}
	t := b.alloc(shape)
	copy(t.data, data)
	return t, nil
}

func (b *Backend) Download(x backend.Tensor) ([]float32, error) {
	t, err := b.own(x)
	if err != nil {
		return nil, err
	}
	return slices.Clone(t.data), nil
}

// Release frees t. Releasing nil or an already released tensor is a no-op.
func (b *Backend) Release(x backend.Tensor) {
	t, ok := x.(*tensor)
	if !ok || t == nil || t.owner != b {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	t.data = nil
	b.live--
}

func (b *Backend) Clone(x backend.Tensor) (backend.Tensor, error) {
	t, err := b.own(x)
	if err != nil {
		return nil, err
	}
	out := b.alloc(t.shape)
	copy(out.data, t.data)
	return out, nil
}

func (b *Backend) own(x backend.Tensor) (*tensor, error) {
	t, ok := x.(*tensor)
	if !ok || t == nil || t.owner != b {
		return nil, backend.ErrForeignTensor
	}
	b.mu.Lock()
	released := t.released
	b.mu.Unlock()
	if released {
		return nil, backend.ErrReleased
	}
	return t, nil
}

func (b *Backend) image(x backend.Tensor) (*tensor, int, int, int, error) {
	t, err := b.own(x)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	h, w, c, err := backend.ImageDims(t)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	return t, h, w, c, nil
}
