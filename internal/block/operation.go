package block

import (
	"fmt"

	"github.com/samcharles93/blockwise/internal/backend"
)

type opKind uint8

const (
	opPointwise opKind = iota
	opDepthwiseConv
	opAvgPool
	opMaxPool
	opPassThrough
)

var opKindNames = [...]string{
	opPointwise:     "pointwise",
	opDepthwiseConv: "depthwise",
	opAvgPool:       "avgpool",
	opMaxPool:       "maxpool",
	opPassThrough:   "passthrough",
}

// inputPolicy says what an operation does with its input once it has
// produced its output. Only the first operation of a pipeline ever keeps its
// input; later operations always consume their predecessor's output.
type inputPolicy uint8

const (
	consumeInput inputPolicy = iota
	keepInput
)

// operation is one step of an assembled pipeline, selected at construction
// and interpreted by Apply.
type operation struct {
	kind       opKind
	policy     inputPolicy
	stage      StageKind
	window     backend.Window
	filter     backend.Tensor
	bias       backend.Tensor
	activation backend.Activation
}

func (op operation) String() string {
	s := opKindNames[op.kind]
	if op.kind != opPassThrough {
		s = fmt.Sprintf("%s[%s]", s, op.stage)
	}
	if op.kind != opPointwise && op.kind != opPassThrough {
		s += " " + op.window.String()
	}
	if op.bias != nil {
		s += " +bias"
	}
	if op.activation != backend.ActNone {
		s += " " + op.activation.String()
	}
	if op.policy == keepInput {
		s += " (keep input)"
	}
	return s
}

func stageOperation(s Stage, filter, bias backend.Tensor) operation {
	op := operation{
		stage:      s.Kind,
		window:     s.Window,
		filter:     filter,
		bias:       bias,
		activation: s.Activation,
	}
	switch {
	case s.Kind != StageDepthwise:
		op.kind = opPointwise
	case s.Operation == DepthwiseAvgPool:
		op.kind = opAvgPool
	case s.Operation == DepthwiseMaxPool:
		op.kind = opMaxPool
	default:
		op.kind = opDepthwiseConv
	}
	return op
}

// run executes op on in. It never releases in; for a consuming pass-through
// it returns in itself.
func (op operation) run(be backend.Backend, in backend.Tensor) (backend.Tensor, error) {
	var (
		out backend.Tensor
		err error
	)
	switch op.kind {
	case opPassThrough:
		if op.policy == consumeInput {
			return in, nil
		}
		return be.Clone(in)
	case opPointwise:
		out, err = be.PointwiseConv(in, op.filter)
	case opDepthwiseConv:
		out, err = be.DepthwiseConv(in, op.filter, op.window)
	case opAvgPool:
		out, err = be.AvgPool(in, op.window)
	case opMaxPool:
		out, err = be.MaxPool(in, op.window)
	default:
		return nil, fmt.Errorf("block: unknown operation %d", op.kind)
	}
	if err != nil {
		return nil, err
	}
	if op.bias != nil {
		biased, err := be.AddBias(out, op.bias)
		be.Release(out)
		if err != nil {
			return nil, err
		}
		out = biased
	}
	if op.activation != backend.ActNone {
		activated, err := be.Activate(out, op.activation)
		be.Release(out)
		if err != nil {
			return nil, err
		}
		out = activated
	}
	return out, nil
}
