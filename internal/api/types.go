package api

import (
	"github.com/samcharles93/blockwise/internal/chain"
)

// ParamInfo describes one block parameter.
type ParamInfo struct {
	Name  string   `json:"name"`
	Kind  string   `json:"kind"`
	Min   int      `json:"min"`
	Max   int      `json:"max"`
	Names []string `json:"names,omitempty"`
}

type ParamsResponse struct {
	Object string      `json:"object"`
	Data   []ParamInfo `json:"data"`
}

// CreateChainRequest starts a chain build over Weights, beginning ByteOffset
// bytes into the buffer.
type CreateChainRequest struct {
	Weights       []float32    `json:"weights"`
	ByteOffset    int          `json:"byte_offset"`
	InputChannels int          `json:"input_channels"`
	Blocks        []chain.Spec `json:"blocks"`
	MinDelayMS    int          `json:"min_delay_ms,omitempty"`
}

type Status string

const (
	StatusBuilding  Status = "building"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type BlockInfo struct {
	Index           int            `json:"index"`
	ByteOffsetBegin int            `json:"byte_offset_begin"`
	ByteOffsetEnd   int            `json:"byte_offset_end"`
	InputChannels   int            `json:"input_channels"`
	OutputChannels  int            `json:"output_channels"`
	ResidualLegal   bool           `json:"residual"`
	RetainInput     bool           `json:"retain_input,omitempty"`
	Pipeline        []string       `json:"pipeline"`
	Params          map[string]int `json:"params"`
}

type ChainResponse struct {
	ID              string      `json:"id"`
	Object          string      `json:"object"`
	CreatedAt       int64       `json:"created_at"`
	Status          Status      `json:"status"`
	Percentage      float64     `json:"percentage"`
	InputChannels   int         `json:"input_channels"`
	OutputChannels  int         `json:"output_channels,omitempty"`
	ByteOffsetBegin int         `json:"byte_offset_begin"`
	ByteOffsetEnd   int         `json:"byte_offset_end,omitempty"`
	Blocks          []BlockInfo `json:"blocks,omitempty"`
	FailedAt        *int        `json:"failed_at,omitempty"`
	Error           string      `json:"error,omitempty"`
}

type ApplyRequest struct {
	Height int       `json:"height"`
	Width  int       `json:"width"`
	Data   []float32 `json:"data"`
}

type ApplyResponse struct {
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	Channels int       `json:"channels"`
	Data     []float32 `json:"data"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
