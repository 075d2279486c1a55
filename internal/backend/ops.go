package backend

import (
	"fmt"
	"slices"
)

// Activation selects the element-wise function applied after a stage.
type Activation uint8

const (
	ActNone Activation = iota
	ActReLU
	ActReLU6
	ActSigmoid
	ActTanh
	ActSin
	ActCos
	ActSoftplus
	ActSiLU
)

// activationNames is indexed by Activation and doubles as the coercion table
// for activation parameters, so its order is part of the weight format.
var activationNames = [...]string{
	ActNone:     "none",
	ActReLU:     "relu",
	ActReLU6:    "relu6",
	ActSigmoid:  "sigmoid",
	ActTanh:     "tanh",
	ActSin:      "sin",
	ActCos:      "cos",
	ActSoftplus: "softplus",
	ActSiLU:     "silu",
}

// ActivationNames returns the activation table in value order.
func ActivationNames() []string {
	return slices.Clone(activationNames[:])
}

func (a Activation) String() string {
	if int(a) < len(activationNames) {
		return activationNames[a]
	}
	return fmt.Sprintf("activation(%d)", a)
}

// Padding is the spatial padding style of a windowed operation.
type Padding uint8

const (
	PadValid Padding = iota
	PadSame
)

func (p Padding) String() string {
	if p == PadSame {
		return "same"
	}
	return "valid"
}

// Window describes a square sliding window.
type Window struct {
	Size    int
	Stride  int
	Padding Padding
}

// OutputSize returns the output extent of one spatial dimension.
func (w Window) OutputSize(in int) int {
	if w.Stride <= 0 || w.Size <= 0 || in <= 0 {
		return 0
	}
	if w.Padding == PadSame {
		return (in + w.Stride - 1) / w.Stride
	}
	if in < w.Size {
		return 0
	}
	return (in-w.Size)/w.Stride + 1
}

// PadBefore returns the leading padding for one dimension.
func (w Window) PadBefore(in int) int {
	if w.Padding != PadSame {
		return 0
	}
	out := w.OutputSize(in)
	total := max((out-1)*w.Stride+w.Size-in, 0)
	return total / 2
}

// PreservesSize reports whether the window keeps every input size unchanged.
func (w Window) PreservesSize() bool {
	if w.Stride != 1 {
		return false
	}
	return w.Padding == PadSame || w.Size == 1
}

func (w Window) String() string {
	return fmt.Sprintf("%dx%d/s%d/%s", w.Size, w.Size, w.Stride, w.Padding)
}

// HWC builds an image tensor shape.
func HWC(h, w, c int) []int {
	return []int{h, w, c}
}

// ImageDims unpacks an image tensor shape.
func ImageDims(t Tensor) (h, w, c int, err error) {
	s := t.Shape()
	if len(s) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: want [h w c], got %v", ErrShapeMismatch, s)
	}
	return s[0], s[1], s[2], nil
}
