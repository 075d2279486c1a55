package block

import (
	"fmt"
	"strings"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/params"
	"github.com/samcharles93/blockwise/internal/weights"
)

// StageKind identifies one of the three candidate stages.
type StageKind uint8

const (
	StagePointwise1 StageKind = iota
	StageDepthwise
	StagePointwise2
)

var stageNames = [...]string{
	StagePointwise1: "pointwise1",
	StageDepthwise:  "depthwise",
	StagePointwise2: "pointwise2",
}

func (k StageKind) String() string {
	if int(k) < len(stageNames) {
		return stageNames[k]
	}
	return fmt.Sprintf("stage(%d)", k)
}

// Stage is the resolved configuration of one stage. For an absent stage only
// Kind, InputChannels and OutputChannels (equal to InputChannels) carry
// meaning; bias and activation are never resolved for it.
type Stage struct {
	Kind           StageKind
	Present        bool
	InputChannels  int
	OutputChannels int
	HasBias        bool
	Activation     backend.Activation

	// Depthwise only.
	Operation         DepthwiseOp
	ChannelMultiplier int
	StridePad         StridePad
	Window            backend.Window

	// Params is the decoded parameter group, including values that were
	// ignored because the stage is absent.
	Params params.Set
	// Filter and Bias alias the weight buffer; empty when not read.
	Filter weights.View
	Bias   weights.View
}

// Config is the immutable resolved configuration of a block.
type Config struct {
	InputChannels  int
	OutputChannels int

	Pointwise1 Stage
	Depthwise  Stage
	Pointwise2 Stage

	ResidualRequested bool
	ResidualLegal     bool
	RetainInput       bool

	ByteOffsetBegin int
	ByteOffsetEnd   int

	Header params.Set
}

// Stages returns the three stages in pipeline order.
func (c Config) Stages() [3]Stage {
	return [3]Stage{c.Pointwise1, c.Depthwise, c.Pointwise2}
}

// KeepsInput reports whether the first operation must preserve its input.
func (c Config) KeepsInput() bool {
	return c.RetainInput || c.ResidualLegal
}

// OutputShape predicts the output shape for an h x w input.
func (c Config) OutputShape(h, w int) []int {
	if c.Depthwise.Present {
		h, w = c.Depthwise.Window.OutputSize(h), c.Depthwise.Window.OutputSize(w)
	}
	return backend.HWC(h, w, c.OutputChannels)
}

// ParameterCount is the number of float32 elements the block consumed.
func (c Config) ParameterCount() int {
	return (c.ByteOffsetEnd - c.ByteOffsetBegin) / weights.ElementSize
}

func (s Stage) String() string {
	if !s.Present {
		return fmt.Sprintf("%s: absent (%d channels pass through)", s.Kind, s.InputChannels)
	}
	var b strings.Builder
	switch s.Kind {
	case StageDepthwise:
		fmt.Fprintf(&b, "%s: %s %s", s.Kind, s.Operation, s.Window)
		if s.Operation == DepthwiseConv {
			fmt.Fprintf(&b, " x%d", s.ChannelMultiplier)
		}
	default:
		fmt.Fprintf(&b, "%s: conv 1x1", s.Kind)
	}
	fmt.Fprintf(&b, " %d->%d", s.InputChannels, s.OutputChannels)
	if s.HasBias {
		b.WriteString(" +bias")
	}
	if s.Activation != backend.ActNone {
		fmt.Fprintf(&b, " %s", s.Activation)
	}
	return b.String()
}

// resolvePointwise turns a decoded pointwise group into a stage.
func resolvePointwise(kind StageKind, set params.Set, inC int, countName, biasName, actName string) Stage {
	s := Stage{Kind: kind, InputChannels: inC, OutputChannels: inC, Params: set}
	outC := set.Value(countName)
	if outC <= 0 {
		return s
	}
	s.Present = true
	s.OutputChannels = outC
	s.HasBias = set.Bool(biasName)
	s.Activation = backend.Activation(set.Value(actName))
	return s
}

func resolveDepthwise(set params.Set, inC int) Stage {
	s := Stage{Kind: StageDepthwise, InputChannels: inC, OutputChannels: inC, Params: set}
	op := DepthwiseOp(set.Value(ParamDepthwiseOperation))
	if op == DepthwiseNone {
		return s
	}
	s.Present = true
	s.Operation = op
	s.StridePad = StridePad(set.Value(ParamDepthwiseStridePad))
	s.Window = s.StridePad.Window(set.Value(ParamDepthwiseFilterSize))
	s.ChannelMultiplier = 1
	if op == DepthwiseConv {
		s.ChannelMultiplier = set.Value(ParamDepthwiseChannelMultiplier)
	}
	s.OutputChannels = inC * s.ChannelMultiplier
	s.HasBias = set.Bool(ParamDepthwiseBias)
	s.Activation = backend.Activation(set.Value(ParamDepthwiseActivation))
	return s
}

// filterShape returns the shape of the stage's learned filter, or nil when
// the stage reads none.
func (s Stage) filterShape() []int {
	if !s.Present {
		return nil
	}
	switch s.Kind {
	case StageDepthwise:
		if s.Operation != DepthwiseConv {
			return nil
		}
		return []int{s.Window.Size, s.Window.Size, s.InputChannels, s.ChannelMultiplier}
	default:
		return []int{1, 1, s.InputChannels, s.OutputChannels}
	}
}

func (s Stage) biasShape() []int {
	if !s.Present || !s.HasBias {
		return nil
	}
	return []int{s.OutputChannels}
}
