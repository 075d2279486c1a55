package block

import (
	"errors"
	"fmt"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/params"
	"github.com/samcharles93/blockwise/internal/progress"
	"github.com/samcharles93/blockwise/internal/weights"
)

var (
	ErrInvalidBlock = errors.New("block: invalid block")
	ErrReleased     = errors.New("block: block already released")
)

// ConstructionUnits is the number of progress units one construction
// consumes: the header, three units per stage (params, filter, bias) and the
// final assembly.
const ConstructionUnits = 1 + 3*3 + 1

// Options are the caller-supplied inputs of a construction.
type Options struct {
	InputChannels int
	// Overrides fixes parameters by name; the rest are extracted.
	Overrides params.Overrides
	// RetainInput keeps the caller's input tensor alive after Apply.
	RetainInput bool
}

type phase uint8

const (
	phaseHeader phase = iota
	phaseStageParams
	phaseStageFilter
	phaseStageBias
	phaseAssemble
	phaseFinished
)

// Constructor builds a Block one unit of work per Resume, reporting progress
// on its node. It implements progress.Task[*Block].
//
// Abandoning a constructor part way leaves already uploaded filters
// allocated; call Abort to release them.
type Constructor struct {
	be   backend.Backend
	opts Options
	node *progress.Node

	begin weights.Cursor
	cur   weights.Cursor
	phase phase
	stage StageKind

	cfg     Config
	stages  [3]Stage
	filters [3]backend.Tensor
	biases  [3]backend.Tensor
	err     error
}

// NewConstructor prepares a construction starting at cur. If node is nil the
// constructor reports on a private node of ConstructionUnits units.
func NewConstructor(be backend.Backend, cur weights.Cursor, opts Options, node *progress.Node) *Constructor {
	if node == nil {
		node = progress.NewNode(ConstructionUnits)
	}
	return &Constructor{
		be:    be,
		opts:  opts,
		node:  node,
		begin: cur,
		cur:   cur,
	}
}

// Construct builds a block synchronously. On failure the returned error
// wraps ErrInvalidBlock and the cause; no block or tensor is left behind.
func Construct(be backend.Backend, buf *weights.Buffer, byteOffsetBegin int, opts Options) (*Block, error) {
	return progress.Drain[*Block](NewConstructor(be, weights.NewCursor(buf, byteOffsetBegin), opts, nil))
}

// Progress returns the node the constructor advances.
func (c *Constructor) Progress() *progress.Node { return c.node }

// Cursor returns the position reached so far.
func (c *Constructor) Cursor() weights.Cursor { return c.cur }

// Resume performs one unit of construction.
func (c *Constructor) Resume() (progress.Step[*Block], error) {
	switch c.phase {
	case phaseFinished:
		if c.err != nil {
			return progress.Step[*Block]{}, c.err
		}
		return progress.Step[*Block]{}, progress.ErrFinished
	case phaseAssemble:
		b := c.assemble()
		c.phase = phaseFinished
		c.node.Complete()
		return progress.Step[*Block]{Done: true, Progress: c.node.Snapshot(), Value: b}, nil
	}

	if err := c.step(); err != nil {
		c.fail(err)
		return progress.Step[*Block]{}, c.err
	}
	c.node.Advance(1)
	return progress.Step[*Block]{Progress: c.node.Snapshot()}, nil
}

// Abort releases everything uploaded so far and finishes the constructor.
func (c *Constructor) Abort() {
	if c.phase == phaseFinished {
		return
	}
	c.fail(errors.New("construction aborted"))
}

func (c *Constructor) step() error {
	switch c.phase {
	case phaseHeader:
		if c.opts.InputChannels <= 0 {
			return &params.Error{Name: "inputChannels", Value: c.opts.InputChannels, Err: params.ErrIllegalParameter}
		}
		if err := params.CheckOverrides(c.opts.Overrides, Decoders()...); err != nil {
			return err
		}
		set, next, err := headerParams.Decode(c.cur, c.opts.Overrides)
		if err != nil {
			return err
		}
		c.cur = next
		c.cfg.Header = set
		c.cfg.InputChannels = c.opts.InputChannels
		c.cfg.RetainInput = c.opts.RetainInput
		c.cfg.ResidualRequested = set.Bool(ParamResidual)
		c.phase = phaseStageParams
		c.stage = StagePointwise1

	case phaseStageParams:
		inC := c.cfg.InputChannels
		if c.stage > StagePointwise1 {
			inC = c.stages[c.stage-1].OutputChannels
		}
		var dec *params.Decoder
		switch c.stage {
		case StagePointwise1:
			dec = pointwise1Params
		case StageDepthwise:
			dec = depthwiseParams
		default:
			dec = pointwise2Params
		}
		set, next, err := dec.Decode(c.cur, c.opts.Overrides)
		if err != nil {
			return err
		}
		c.cur = next
		switch c.stage {
		case StagePointwise1:
			c.stages[c.stage] = resolvePointwise(StagePointwise1, set, inC,
				ParamPointwise1ChannelCount, ParamPointwise1Bias, ParamPointwise1Activation)
		case StageDepthwise:
			c.stages[c.stage] = resolveDepthwise(set, inC)
		default:
			c.stages[c.stage] = resolvePointwise(StagePointwise2, set, inC,
				ParamPointwise2ChannelCount, ParamPointwise2Bias, ParamPointwise2Activation)
		}
		c.phase = phaseStageFilter

	case phaseStageFilter:
		s := &c.stages[c.stage]
		if shape := s.filterShape(); shape != nil {
			view, t, err := c.upload(shape)
			if err != nil {
				return fmt.Errorf("%s filter: %w", s.Kind, err)
			}
			s.Filter = view
			c.filters[c.stage] = t
		}
		c.phase = phaseStageBias

	case phaseStageBias:
		s := &c.stages[c.stage]
		if shape := s.biasShape(); shape != nil {
			view, t, err := c.upload(shape)
			if err != nil {
				return fmt.Errorf("%s bias: %w", s.Kind, err)
			}
			s.Bias = view
			c.biases[c.stage] = t
		}
		if c.stage == StagePointwise2 {
			c.phase = phaseAssemble
		} else {
			c.stage++
			c.phase = phaseStageParams
		}
	}
	return nil
}

func (c *Constructor) upload(shape []int) (weights.View, backend.Tensor, error) {
	view, next, err := c.cur.Read(shape)
	if err != nil {
		return weights.View{}, nil, err
	}
	t, err := c.be.Upload(view.Shape, view.Data)
	if err != nil {
		return weights.View{}, nil, err
	}
	c.cur = next
	return view, t, nil
}

func (c *Constructor) fail(err error) {
	for i := range c.filters {
		if c.filters[i] != nil {
			c.be.Release(c.filters[i])
			c.filters[i] = nil
		}
		if c.biases[i] != nil {
			c.be.Release(c.biases[i])
			c.biases[i] = nil
		}
	}
	c.cfg = Config{}
	c.stages = [3]Stage{}
	c.cur = c.begin
	c.phase = phaseFinished
	c.err = fmt.Errorf("%w at byte %d: %w", ErrInvalidBlock, c.begin.Offset(), err)
}

// assemble resolves residual legality and the ownership policy, then builds
// the operation list.
func (c *Constructor) assemble() *Block {
	cfg := c.cfg
	cfg.Pointwise1, cfg.Depthwise, cfg.Pointwise2 = c.stages[0], c.stages[1], c.stages[2]
	cfg.OutputChannels = cfg.Pointwise2.OutputChannels
	cfg.ByteOffsetBegin = c.begin.Offset()
	cfg.ByteOffsetEnd = c.cur.Offset()

	spatialKept := !cfg.Depthwise.Present || cfg.Depthwise.Window.PreservesSize()
	cfg.ResidualLegal = cfg.ResidualRequested && spatialKept && cfg.OutputChannels == cfg.InputChannels

	var ops []operation
	for i, s := range c.stages {
		if !s.Present {
			continue
		}
		ops = append(ops, stageOperation(s, c.filters[i], c.biases[i]))
	}
	if len(ops) == 0 {
		ops = append(ops, operation{kind: opPassThrough})
	}
	if cfg.KeepsInput() {
		ops[0].policy = keepInput
	}

	b := &Block{
		be:      c.be,
		cfg:     cfg,
		ops:     ops,
		filters: c.filters,
		biases:  c.biases,
	}
	c.filters = [3]backend.Tensor{}
	c.biases = [3]backend.Tensor{}
	return b
}
