package chain

import (
	"context"
	"time"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/block"
	"github.com/samcharles93/blockwise/internal/logger"
	"github.com/samcharles93/blockwise/internal/progress"
	"github.com/samcharles93/blockwise/internal/weights"
)

var _ progress.Task[*Chain] = (*Builder)(nil)

// Builder constructs a chain one construction unit per Resume. Its progress
// tree has one child per spec, declared up front, so percentages never move
// backwards as blocks start.
type Builder struct {
	be    backend.Backend
	buf   *weights.Buffer
	specs []Spec
	log   logger.Logger

	root  *progress.Node
	nodes []*progress.Node

	cur      weights.Cursor
	channels int
	next     int
	ctor     *block.Constructor
	chain    *Chain
	finished bool
}

// NewBuilder prepares a chain build. The logger is taken from ctx.
func NewBuilder(ctx context.Context, be backend.Backend, buf *weights.Buffer, byteOffsetBegin, inputChannels int, specs []Spec) *Builder {
	root := progress.NewNode(0)
	nodes := make([]*progress.Node, len(specs))
	for i := range specs {
		nodes[i] = root.AddChild(block.ConstructionUnits)
	}
	return &Builder{
		be:       be,
		buf:      buf,
		specs:    specs,
		log:      logger.FromContext(ctx).With("component", "chain"),
		root:     root,
		nodes:    nodes,
		cur:      weights.NewCursor(buf, byteOffsetBegin),
		channels: inputChannels,
		chain: &Chain{
			be:            be,
			begin:         byteOffsetBegin,
			end:           byteOffsetBegin,
			inputChannels: inputChannels,
			FailedAt:      -1,
		},
	}
}

// Progress returns the root of the progress tree.
func (b *Builder) Progress() *progress.Node { return b.root }

// Resume performs one unit of work on the current block.
func (b *Builder) Resume() (progress.Step[*Chain], error) {
	if b.finished {
		return progress.Step[*Chain]{}, progress.ErrFinished
	}
	if b.next >= len(b.specs) {
		return b.finish(), nil
	}
	if b.ctor == nil {
		spec := b.specs[b.next]
		b.ctor = block.NewConstructor(b.be, b.cur, block.Options{
			InputChannels: b.channels,
			Overrides:     spec.Overrides,
			RetainInput:   spec.RetainInput,
		}, b.nodes[b.next])
	}

	step, err := b.ctor.Resume()
	if err != nil {
		b.chain.Err = err
		b.chain.FailedAt = b.next
		b.log.Warn("block construction failed", "block", b.next, "offset", b.cur.Offset(), "error", err)
		b.ctor = nil
		return b.finish(), nil
	}
	if !step.Done {
		return progress.Step[*Chain]{Progress: b.root.Snapshot()}, nil
	}

	blk := step.Value
	b.chain.blocks = append(b.chain.blocks, blk)
	b.chain.end = blk.ByteOffsetEnd()
	b.log.Debug("block built",
		"block", b.next,
		"begin", blk.ByteOffsetBegin(),
		"end", blk.ByteOffsetEnd(),
		"channels", blk.OutputChannels(),
		"residual", blk.Config().ResidualLegal,
	)
	b.cur = weights.NewCursor(b.buf, blk.ByteOffsetEnd())
	b.channels = blk.OutputChannels()
	b.ctor = nil
	b.next++
	if b.next == len(b.specs) {
		return b.finish(), nil
	}
	return progress.Step[*Chain]{Progress: b.root.Snapshot()}, nil
}

func (b *Builder) finish() progress.Step[*Chain] {
	b.finished = true
	b.root.Complete()
	return progress.Step[*Chain]{Done: true, Progress: b.root.Snapshot(), Value: b.chain}
}

// Abort releases every tensor acquired so far and finishes the builder.
func (b *Builder) Abort() {
	if b.ctor != nil {
		b.ctor.Abort()
		b.ctor = nil
	}
	if !b.finished {
		b.chain.Release()
		b.finished = true
	}
}

// Run drives the builder to completion with progress.Run. A block failure
// yields the partial chain together with its error; cancellation aborts the
// build and returns no chain.
func (b *Builder) Run(ctx context.Context, onProgress func(progress.Snapshot), minDelay time.Duration) (*Chain, error) {
	c, err := progress.Run[*Chain](ctx, b, onProgress, minDelay)
	if err != nil {
		b.Abort()
		return nil, err
	}
	return c, c.Err
}
