package block

import (
	"fmt"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/params"
)

// Parameter names. Their order inside each decoder below is the on-buffer
// layout, and the groups are interleaved with filter and bias arrays:
//
//	header params
//	pointwise1 params, pointwise1 filter, pointwise1 bias
//	depthwise params,  depthwise filter,  depthwise bias
//	pointwise2 params, pointwise2 filter, pointwise2 bias
//
// Changing any of this changes the meaning of every existing weight buffer.
const (
	ParamResidual = "residual"

	ParamPointwise1ChannelCount = "pointwise1ChannelCount"
	ParamPointwise1Bias         = "pointwise1Bias"
	ParamPointwise1Activation   = "pointwise1Activation"

	ParamDepthwiseOperation         = "depthwiseOperation"
	ParamDepthwiseChannelMultiplier = "depthwiseChannelMultiplier"
	ParamDepthwiseFilterSize        = "depthwiseFilterSize"
	ParamDepthwiseStridePad         = "depthwiseStridePad"
	ParamDepthwiseBias              = "depthwiseBias"
	ParamDepthwiseActivation        = "depthwiseActivation"

	ParamPointwise2ChannelCount = "pointwise2ChannelCount"
	ParamPointwise2Bias         = "pointwise2Bias"
	ParamPointwise2Activation   = "pointwise2Activation"
)

const (
	MaxChannelCount        = 1024
	MaxChannelMultiplier   = 32
	MaxDepthwiseFilterSize = 9
)

// DepthwiseOp selects what the depthwise stage computes.
type DepthwiseOp uint8

const (
	DepthwiseNone DepthwiseOp = iota
	DepthwiseAvgPool
	DepthwiseMaxPool
	DepthwiseConv
)

var depthwiseOpNames = [...]string{
	DepthwiseNone:    "none",
	DepthwiseAvgPool: "avg",
	DepthwiseMaxPool: "max",
	DepthwiseConv:    "conv",
}

func (o DepthwiseOp) String() string {
	if int(o) < len(depthwiseOpNames) {
		return depthwiseOpNames[o]
	}
	return fmt.Sprintf("depthwise(%d)", o)
}

// StridePad is the depthwise stride and padding mode.
type StridePad uint8

const (
	Stride1Valid StridePad = iota
	Stride1Same
	Stride2Same
)

var stridePadNames = [...]string{
	Stride1Valid: "stride1-valid",
	Stride1Same:  "stride1-same",
	Stride2Same:  "stride2-same",
}

var stridePadModes = [...]struct {
	stride  int
	padding backend.Padding
}{
	Stride1Valid: {1, backend.PadValid},
	Stride1Same:  {1, backend.PadSame},
	Stride2Same:  {2, backend.PadSame},
}

func (s StridePad) String() string {
	if int(s) < len(stridePadNames) {
		return stridePadNames[s]
	}
	return fmt.Sprintf("stridepad(%d)", s)
}

// Window maps the mode to a concrete square window of the given size.
func (s StridePad) Window(size int) backend.Window {
	m := stridePadModes[s]
	return backend.Window{Size: size, Stride: m.stride, Padding: m.padding}
}

var (
	headerParams = params.MustDecoder(
		params.NewBool(ParamResidual),
	)
	pointwise1Params = params.MustDecoder(
		params.NewInt(ParamPointwise1ChannelCount, 0, MaxChannelCount),
		params.NewBool(ParamPointwise1Bias),
		params.NewEnum(ParamPointwise1Activation, backend.ActivationNames()...),
	)
	depthwiseParams = params.MustDecoder(
		params.NewEnum(ParamDepthwiseOperation, depthwiseOpNames[:]...),
		params.NewInt(ParamDepthwiseChannelMultiplier, 1, MaxChannelMultiplier),
		params.NewInt(ParamDepthwiseFilterSize, 1, MaxDepthwiseFilterSize),
		params.NewEnum(ParamDepthwiseStridePad, stridePadNames[:]...),
		params.NewBool(ParamDepthwiseBias),
		params.NewEnum(ParamDepthwiseActivation, backend.ActivationNames()...),
	)
	pointwise2Params = params.MustDecoder(
		params.NewInt(ParamPointwise2ChannelCount, 0, MaxChannelCount),
		params.NewBool(ParamPointwise2Bias),
		params.NewEnum(ParamPointwise2Activation, backend.ActivationNames()...),
	)
)

// Decoders returns the parameter groups in buffer order.
func Decoders() []*params.Decoder {
	return []*params.Decoder{headerParams, pointwise1Params, depthwiseParams, pointwise2Params}
}

// Descriptors lists every block parameter in buffer order.
func Descriptors() []params.Descriptor {
	var out []params.Descriptor
	for _, d := range Decoders() {
		out = append(out, d.Descriptors()...)
	}
	return out
}

// CheckOverrides rejects unknown parameter names and values outside their
// legal domain without reading any weights.
func CheckOverrides(overrides params.Overrides) error {
	if err := params.CheckOverrides(overrides, Decoders()...); err != nil {
		return err
	}
	for _, dec := range Decoders() {
		for _, d := range dec.Descriptors() {
			if v, ok := overrides[d.Name]; ok {
				if err := d.Validate(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
