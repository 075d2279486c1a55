package backend

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CPU  = "cpu"
	Auto = "auto"
)

var (
	ErrShapeMismatch = errors.New("backend: shape mismatch")
	ErrReleased      = errors.New("backend: tensor already released")
	ErrForeignTensor = errors.New("backend: tensor belongs to another backend")
)

// Tensor is a device-resident array. Its storage is owned by exactly one
// holder at a time and must be handed back through Backend.Release; it is
// never reclaimed implicitly.
//
// Image tensors are laid out [height, width, channels].
type Tensor interface {
	Shape() []int
}

// Backend executes tensor operations. Every operation returns a newly
// allocated tensor and leaves its operands untouched; callers decide when
// operands are released.
type Backend interface {
	Name() string

	// Upload copies data into a new tensor of the given shape.
	Upload(shape []int, data []float32) (Tensor, error)
	// Download copies a tensor's values back to the host.
	Download(t Tensor) ([]float32, error)
	Release(t Tensor)

	// PointwiseConv applies a [1, 1, inC, outC] filter.
	PointwiseConv(x, filter Tensor) (Tensor, error)
	// DepthwiseConv applies a [size, size, C, multiplier] filter; output
	// channel c*multiplier+q comes from input channel c.
	DepthwiseConv(x, filter Tensor, w Window) (Tensor, error)
	AvgPool(x Tensor, w Window) (Tensor, error)
	MaxPool(x Tensor, w Window) (Tensor, error)
	// AddBias broadcasts a [C] bias over every pixel.
	AddBias(x, bias Tensor) (Tensor, error)
	Activate(x Tensor, fn Activation) (Tensor, error)
	// Add sums two tensors of identical shape.
	Add(a, b Tensor) (Tensor, error)
	Clone(x Tensor) (Tensor, error)
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case CPU, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto or cpu)", backend)
	}
}
