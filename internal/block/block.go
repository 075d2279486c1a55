// Package block assembles pointwise -> depthwise -> pointwise convolution
// blocks whose parameters and filters are decoded from a shared weight
// buffer, and runs them on a backend.
package block

import (
	"fmt"

	"github.com/samcharles93/blockwise/internal/backend"
)

// Block is an assembled pipeline plus the device tensors it owns. It is
// immutable after construction; Release must be called to free its filters.
type Block struct {
	be       backend.Backend
	cfg      Config
	ops      []operation
	filters  [3]backend.Tensor
	biases   [3]backend.Tensor
	released bool
}

func (b *Block) Config() Config       { return b.cfg }
func (b *Block) InputChannels() int   { return b.cfg.InputChannels }
func (b *Block) OutputChannels() int  { return b.cfg.OutputChannels }
func (b *Block) ByteOffsetBegin() int { return b.cfg.ByteOffsetBegin }
func (b *Block) ByteOffsetEnd() int   { return b.cfg.ByteOffsetEnd }

// Backend returns the backend that owns the block's tensors.
func (b *Block) Backend() backend.Backend { return b.be }

// OutputShape predicts the output shape for an h x w input.
func (b *Block) OutputShape(h, w int) []int {
	return b.cfg.OutputShape(h, w)
}

// Pipeline describes the assembled operations in execution order.
func (b *Block) Pipeline() []string {
	out := make([]string, 0, len(b.ops)+1)
	for _, op := range b.ops {
		out = append(out, op.String())
	}
	if b.cfg.ResidualLegal {
		out = append(out, "add input")
	}
	return out
}

// Apply runs the pipeline on x and returns a new tensor owned by the caller.
//
// Unless the block retains its input, x is released by Apply (or returned
// as the output itself when every stage is absent). Input shape errors leave
// x untouched; backend errors release every tensor the block owned at that
// point, including x when it was being consumed, and are returned as is.
func (b *Block) Apply(x backend.Tensor) (backend.Tensor, error) {
	if b.released {
		return nil, ErrReleased
	}
	_, _, c, err := backend.ImageDims(x)
	if err != nil {
		return nil, err
	}
	if c != b.cfg.InputChannels {
		return nil, fmt.Errorf("%w: block expects %d input channels, got %d",
			backend.ErrShapeMismatch, b.cfg.InputChannels, c)
	}

	keep := b.cfg.KeepsInput()
	inputLive := true
	cur := x
	for _, op := range b.ops {
		next, err := op.run(b.be, cur)
		if err != nil {
			if cur != x {
				b.be.Release(cur)
			}
			if inputLive && !b.cfg.RetainInput {
				b.be.Release(x)
			}
			return nil, fmt.Errorf("block: %s: %w", op, err)
		}
		switch {
		case cur != x:
			b.be.Release(cur)
		case next != x && !keep:
			b.be.Release(x)
			inputLive = false
		}
		cur = next
	}

	if !b.cfg.ResidualLegal {
		return cur, nil
	}
	sum, err := b.be.Add(cur, x)
	b.be.Release(cur)
	if !b.cfg.RetainInput {
		b.be.Release(x)
	}
	if err != nil {
		return nil, fmt.Errorf("block: residual add: %w", err)
	}
	return sum, nil
}

// Release frees the block's filters and biases. It is safe to call twice.
func (b *Block) Release() {
	if b == nil || b.released {
		return
	}
	for i := range b.filters {
		if b.filters[i] != nil {
			b.be.Release(b.filters[i])
			b.filters[i] = nil
		}
		if b.biases[i] != nil {
			b.be.Release(b.biases[i])
			b.biases[i] = nil
		}
	}
	b.ops = nil
	b.released = true
}
