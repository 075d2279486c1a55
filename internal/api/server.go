// Package api serves chain construction and execution over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/block"
	"github.com/samcharles93/blockwise/internal/chain"
	"github.com/samcharles93/blockwise/internal/logger"
	"github.com/samcharles93/blockwise/internal/params"
	"github.com/samcharles93/blockwise/internal/weights"
)

// MaxMinDelay caps the per-request pacing between construction units.
const MaxMinDelay = 10 * time.Second

type Server struct {
	store *ChainStore
	be    backend.Backend
	log   logger.Logger
	clock func() time.Time
}

func NewServer(store *ChainStore, be backend.Backend, log logger.Logger) *Server {
	if store == nil {
		store = NewChainStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		store: store,
		be:    be,
		log:   log.With("component", "api"),
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/params", s.handleParams)
	e.POST("/v1/chains", s.handleCreateChain)
	e.GET("/v1/chains/:id", s.handleGetChain)
	e.POST("/v1/chains/:id/apply", s.handleApply)
	e.DELETE("/v1/chains/:id", s.handleDeleteChain)
}

func (s *Server) handleParams(c *echo.Context) error {
	descs := block.Descriptors()
	out := ParamsResponse{Object: "list", Data: make([]ParamInfo, 0, len(descs))}
	for _, d := range descs {
		out.Data = append(out.Data, ParamInfo{
			Name:  d.Name,
			Kind:  d.Kind.String(),
			Min:   d.Min,
			Max:   d.Max,
			Names: d.Names,
		})
	}
	return writeJSON(c, http.StatusOK, out)
}

func (s *Server) handleCreateChain(c *echo.Context) error {
	req, err := decodeJSON[CreateChainRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := validateCreate(&req); err != nil {
		return writeBadRequest(c, err.Error())
	}

	buf := weights.NewBuffer(req.Weights)
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), s.log))
	job := newChainJob(req.InputChannels, req.ByteOffset, s.clock(), cancel)
	s.store.add(job)

	b := chain.NewBuilder(ctx, s.be, buf, req.ByteOffset, req.InputChannels, req.Blocks)
	delay := time.Duration(req.MinDelayMS) * time.Millisecond
	go func() {
		defer close(job.done)
		ch, err := b.Run(ctx, job.setProgress, delay)
		job.finish(ch, err)
		if err != nil {
			s.log.Warn("chain build stopped", "id", job.id, "error", err)
			return
		}
		s.log.Info("chain built", "id", job.id, "blocks", ch.Len(), "bytes", ch.Consumed())
	}()

	s.log.Debug("chain build started", "id", job.id, "blocks", len(req.Blocks), "min_delay", delay)
	return writeJSON(c, http.StatusAccepted, s.describe(job))
}

func validateCreate(req *CreateChainRequest) error {
	if req.InputChannels <= 0 {
		return newInvalidRequest("input_channels must be positive")
	}
	if req.ByteOffset < 0 || req.ByteOffset > len(req.Weights)*weights.ElementSize {
		return newInvalidRequest(fmt.Sprintf("byte_offset %d outside weights", req.ByteOffset))
	}
	if req.ByteOffset%weights.ElementSize != 0 {
		return newInvalidRequest(fmt.Sprintf("byte_offset %d is not a multiple of %d", req.ByteOffset, weights.ElementSize))
	}
	if req.MinDelayMS < 0 || time.Duration(req.MinDelayMS)*time.Millisecond > MaxMinDelay {
		return newInvalidRequest(fmt.Sprintf("min_delay_ms must be within [0, %d]", MaxMinDelay.Milliseconds()))
	}
	for i, spec := range req.Blocks {
		if err := block.CheckOverrides(spec.Overrides); err != nil {
			return newInvalidRequest(fmt.Sprintf("blocks[%d]: %v", i, err))
		}
	}
	return nil
}

func (s *Server) handleGetChain(c *echo.Context) error {
	job, ok := s.store.get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "chain not found")
	}
	return writeJSON(c, http.StatusOK, s.describe(job))
}

func (s *Server) describe(job *chainJob) ChainResponse {
	job.mu.RLock()
	defer job.mu.RUnlock()

	resp := ChainResponse{
		ID:              job.id,
		Object:          "chain",
		CreatedAt:       job.createdAt.Unix(),
		Status:          job.status,
		Percentage:      job.snapshot.Percentage,
		InputChannels:   job.inputChannels,
		ByteOffsetBegin: job.begin,
	}
	if job.err != nil {
		resp.Error = job.err.Error()
	}
	ch := job.chain
	if ch == nil {
		return resp
	}
	resp.Percentage = 100
	resp.OutputChannels = ch.OutputChannels()
	resp.ByteOffsetEnd = ch.ByteOffsetEnd()
	if ch.FailedAt >= 0 {
		at := ch.FailedAt
		resp.FailedAt = &at
	}
	for i, b := range ch.Blocks() {
		cfg := b.Config()
		p := make(map[string]int)
		for _, set := range []params.Set{cfg.Header, cfg.Pointwise1.Params, cfg.Depthwise.Params, cfg.Pointwise2.Params} {
			for _, name := range set.Names() {
				p[name] = set.Value(name)
			}
		}
		resp.Blocks = append(resp.Blocks, BlockInfo{
			Index:           i,
			ByteOffsetBegin: b.ByteOffsetBegin(),
			ByteOffsetEnd:   b.ByteOffsetEnd(),
			InputChannels:   b.InputChannels(),
			OutputChannels:  b.OutputChannels(),
			ResidualLegal:   cfg.ResidualLegal,
			RetainInput:     cfg.RetainInput,
			Pipeline:        b.Pipeline(),
			Params:          p,
		})
	}
	return resp
}

func (s *Server) handleApply(c *echo.Context) error {
	job, ok := s.store.get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "chain not found")
	}
	req, err := decodeJSON[ApplyRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	out, err := s.apply(job, req)
	switch {
	case err == nil:
		return writeJSON(c, http.StatusOK, out)
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, ErrNotReady):
		return writeError(c, http.StatusConflict, "conflict_error", err.Error(), "")
	default:
		s.log.Error("apply failed", "id", job.id, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
}

func (s *Server) apply(job *chainJob, req ApplyRequest) (ApplyResponse, error) {
	job.mu.RLock()
	defer job.mu.RUnlock()
	if job.status != StatusReady || job.chain == nil {
		return ApplyResponse{}, fmt.Errorf("%w: chain is %s", ErrNotReady, job.status)
	}
	ch := job.chain

	if req.Height <= 0 || req.Width <= 0 {
		return ApplyResponse{}, newInvalidRequest("height and width must be positive")
	}
	if want := req.Height * req.Width * ch.InputChannels(); len(req.Data) != want {
		return ApplyResponse{}, newInvalidRequest(fmt.Sprintf("data has %d values, want %d", len(req.Data), want))
	}

	x, err := s.be.Upload(backend.HWC(req.Height, req.Width, ch.InputChannels()), req.Data)
	if err != nil {
		return ApplyResponse{}, err
	}
	y, err := ch.Apply(x)
	// Only a retaining first block leaves x with the caller.
	if ch.Len() == 0 || ch.Blocks()[0].Config().RetainInput {
		if y != x {
			s.be.Release(x)
		}
	}
	if err != nil {
		return ApplyResponse{}, err
	}
	defer s.be.Release(y)

	h, w, cOut, err := backend.ImageDims(y)
	if err != nil {
		return ApplyResponse{}, err
	}
	data, err := s.be.Download(y)
	if err != nil {
		return ApplyResponse{}, err
	}
	return ApplyResponse{Height: h, Width: w, Channels: cOut, Data: data}, nil
}

func (s *Server) handleDeleteChain(c *echo.Context) error {
	id := c.Param("id")
	job, ok := s.store.remove(id)
	if !ok {
		return writeNotFound(c, "chain not found")
	}
	job.release()
	s.log.Debug("chain released", "id", id)
	return writeJSON(c, http.StatusOK, DeleteResponse{ID: id, Object: "chain.deleted", Deleted: true})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return out, nil
}

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(b)
	return err
}
