// Package chain builds sequences of blocks over one shared weight buffer,
// feeding each block's output channels and end offset into the next.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/block"
	"github.com/samcharles93/blockwise/internal/params"
	"github.com/samcharles93/blockwise/internal/weights"
)

var (
	ErrIncomplete = errors.New("chain: chain stopped at a failed block")
	ErrReleased   = errors.New("chain: chain already released")
)

// Spec is the caller-supplied part of one block in a chain.
type Spec struct {
	Overrides   params.Overrides `yaml:"overrides,omitempty" json:"overrides,omitempty"`
	RetainInput bool             `yaml:"retain_input,omitempty" json:"retain_input,omitempty"`
}

// Chain is an ordered list of built blocks. When a block fails to build the
// chain keeps the blocks before it, records the failure and stops.
type Chain struct {
	be            backend.Backend
	blocks        []*block.Block
	begin, end    int
	inputChannels int
	released      bool

	// Err is the construction error of block FailedAt, nil when every block
	// was built. FailedAt is -1 on success.
	Err      error
	FailedAt int
}

func (c *Chain) Blocks() []*block.Block { return c.blocks }
func (c *Chain) Len() int               { return len(c.blocks) }
func (c *Chain) ByteOffsetBegin() int   { return c.begin }
func (c *Chain) ByteOffsetEnd() int     { return c.end }
func (c *Chain) InputChannels() int     { return c.inputChannels }

// Consumed is the number of bytes the built blocks read from the buffer.
func (c *Chain) Consumed() int { return c.end - c.begin }

// OutputChannels is the channel count of the last built block, or the input
// channel count of an empty chain.
func (c *Chain) OutputChannels() int {
	if len(c.blocks) == 0 {
		return c.inputChannels
	}
	return c.blocks[len(c.blocks)-1].OutputChannels()
}

// OutputShape predicts the output shape for an h x w input.
func (c *Chain) OutputShape(h, w int) []int {
	shape := backend.HWC(h, w, c.inputChannels)
	for _, b := range c.blocks {
		shape = b.OutputShape(shape[0], shape[1])
	}
	return shape
}

// Apply runs x through every block. Ownership of x follows the first block's
// policy; intermediates are always released. A chain that stopped at a failed
// block refuses to run.
func (c *Chain) Apply(x backend.Tensor) (backend.Tensor, error) {
	if c.released {
		return nil, ErrReleased
	}
	if c.Err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrIncomplete, c.FailedAt, c.Err)
	}
	cur := x
	for i, b := range c.blocks {
		next, err := b.Apply(cur)
		if i > 0 && b.Config().RetainInput {
			c.be.Release(cur)
		}
		if err != nil {
			return nil, fmt.Errorf("chain: block %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}

// Release frees every block. It is safe to call twice.
func (c *Chain) Release() {
	if c == nil || c.released {
		return
	}
	for _, b := range c.blocks {
		b.Release()
	}
	c.blocks = nil
	c.released = true
}

// Build constructs one block per spec starting at byteOffsetBegin. A block
// that fails to build stops the chain: the returned chain holds the blocks
// before it and the returned error equals chain.Err. Cancelling ctx releases
// everything built so far and returns ctx.Err().
func Build(ctx context.Context, be backend.Backend, buf *weights.Buffer, byteOffsetBegin, inputChannels int, specs []Spec) (*Chain, error) {
	b := NewBuilder(ctx, be, buf, byteOffsetBegin, inputChannels, specs)
	return b.Run(ctx, nil, 0)
}

// Check verifies that block boundaries line up and that the chain's total
// consumption equals the sum of each block's own consumption.
func (c *Chain) Check() error {
	at := c.begin
	sum := 0
	for i, b := range c.blocks {
		if b.ByteOffsetBegin() != at {
			return fmt.Errorf("chain: block %d begins at %d, previous ended at %d", i, b.ByteOffsetBegin(), at)
		}
		sum += b.ByteOffsetEnd() - b.ByteOffsetBegin()
		at = b.ByteOffsetEnd()
	}
	if at != c.end || sum != c.Consumed() {
		return fmt.Errorf("chain: consumed %d bytes but blocks account for %d", c.Consumed(), sum)
	}
	return nil
}
