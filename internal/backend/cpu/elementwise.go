package cpu

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/samcharles93/blockwise/internal/backend"
)

func (b *Backend) AddBias(x, bias backend.Tensor) (backend.Tensor, error) {
	in, _, _, c, err := b.image(x)
	if err != nil {
		return nil, err
	}
	bt, err := b.own(bias)
	if err != nil {
		return nil, err
	}
	if len(bt.shape) != 1 || bt.shape[0] != c {
		return nil, fmt.Errorf("%w: bias %v for %d channels", backend.ErrShapeMismatch, bt.shape, c)
	}
	out := b.alloc(in.shape)
	copy(out.data, in.data)
	if c == 0 {
		return out, nil
	}
	for p := 0; p < len(out.data); p += c {
		px := out.data[p : p+c]
		for ch, v := range bt.data {
			px[ch] += v
		}
	}
	return out, nil
}

// Add computes a+b with a single SAXPY over the flattened tensors.
func (b *Backend) Add(x, y backend.Tensor) (backend.Tensor, error) {
	a, err := b.own(x)
	if err != nil {
		return nil, err
	}
	c, err := b.own(y)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(a.shape, c.shape) {
		return nil, fmt.Errorf("%w: add %v and %v", backend.ErrShapeMismatch, a.shape, c.shape)
	}
	out := b.alloc(a.shape)
	copy(out.data, a.data)
	if n := len(out.data); n > 0 {
		blas32.Axpy(1, blas32.Vector{N: n, Inc: 1, Data: c.data}, blas32.Vector{N: n, Inc: 1, Data: out.data})
	}
	return out, nil
}

func (b *Backend) Activate(x backend.Tensor, fn backend.Activation) (backend.Tensor, error) {
	in, err := b.own(x)
	if err != nil {
		return nil, err
	}
	f, err := activationFunc(fn)
	if err != nil {
		return nil, err
	}
	out := b.alloc(in.shape)
	for i, v := range in.data {
		out.data[i] = f(v)
	}
	return out, nil
}

func activationFunc(fn backend.Activation) (func(float32) float32, error) {
	switch fn {
	case backend.ActNone:
		return func(x float32) float32 { return x }, nil
	case backend.ActReLU:
		return func(x float32) float32 { return max(x, 0) }, nil
	case backend.ActReLU6:
		return func(x float32) float32 { return min(max(x, 0), 6) }, nil
	case backend.ActSigmoid:
		return sigmoid, nil
	case backend.ActTanh:
		return func(x float32) float32 { return float32(math.Tanh(float64(x))) }, nil
	case backend.ActSin:
		return func(x float32) float32 { return float32(math.Sin(float64(x))) }, nil
	case backend.ActCos:
		return func(x float32) float32 { return float32(math.Cos(float64(x))) }, nil
	case backend.ActSoftplus:
		return func(x float32) float32 { return float32(math.Log1p(math.Exp(float64(x)))) }, nil
	case backend.ActSiLU:
		return func(x float32) float32 { return x * sigmoid(x) }, nil
	default:
		return nil, fmt.Errorf("cpu: unsupported activation %v", fn)
	}
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}
