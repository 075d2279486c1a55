package block

import (
	"context"
	"errors"
	"maps"
	"testing"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/backend/cpu"
	"github.com/samcharles93/blockwise/internal/params"
	"github.com/samcharles93/blockwise/internal/progress"
	"github.com/samcharles93/blockwise/internal/weights"
)

// fixed returns overrides that pin every parameter to "absent / off" except
// those given in extra.
func fixed(extra params.Overrides) params.Overrides {
	o := params.Overrides{}
	for _, d := range Descriptors() {
		o[d.Name] = d.Min
	}
	maps.Copy(o, extra)
	return o
}

func depthwiseIdentity(residual int) params.Overrides {
	return fixed(params.Overrides{
		ParamResidual:                   residual,
		ParamDepthwiseOperation:         int(DepthwiseConv),
		ParamDepthwiseChannelMultiplier: 1,
		ParamDepthwiseFilterSize:        1,
		ParamDepthwiseStridePad:         int(Stride1Same),
	})
}

func upload(t *testing.T, be backend.Backend, h, w, c int, data []float32) backend.Tensor {
	t.Helper()
	x, err := be.Upload(backend.HWC(h, w, c), data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return x
}

func download(t *testing.T, be backend.Backend, x backend.Tensor) []float32 {
	t.Helper()
	out, err := be.Download(x)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	return out
}

func equalFloats(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDepthwiseIdentityWithResidualDoublesInput(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	buf := weights.NewBuffer([]float32{1, 1})
	blk, err := Construct(be, buf, 0, Options{InputChannels: 2, Overrides: depthwiseIdentity(1)})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()

	cfg := blk.Config()
	if !cfg.ResidualLegal || cfg.Pointwise1.Present || cfg.Pointwise2.Present || !cfg.Depthwise.Present {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if blk.ByteOffsetEnd() != 2*weights.ElementSize {
		t.Fatalf("end offset %d", blk.ByteOffsetEnd())
	}

	in := []float32{1, -2, 3, 4, 0.5, 6, -7, 8}
	y, err := blk.Apply(upload(t, be, 2, 2, 2, in))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := download(t, be, y)
	for i := range in {
		if got[i] != 2*in[i] {
			t.Fatalf("[%d]=%v want %v", i, got[i], 2*in[i])
		}
	}
	be.Release(y)
	blk.Release()
	if be.Live() != 0 {
		t.Fatalf("leaked %d tensors", be.Live())
	}
}

func TestShortBufferFailsWithoutExposure(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	// pointwise1 2->3 needs six filter values and succeeds; the depthwise
	// 3x3 filter that follows does not fit.
	overrides := fixed(params.Overrides{
		ParamPointwise1ChannelCount:     3,
		ParamDepthwiseOperation:         int(DepthwiseConv),
		ParamDepthwiseChannelMultiplier: 1,
		ParamDepthwiseFilterSize:        3,
		ParamDepthwiseStridePad:         int(Stride1Same),
	})
	buf := weights.NewBuffer(make([]float32, 6+5))

	blk, err := Construct(be, buf, 0, Options{InputChannels: 2, Overrides: overrides})
	if blk != nil {
		t.Fatalf("failed construction returned a block")
	}
	if !errors.Is(err, ErrInvalidBlock) || !errors.Is(err, weights.ErrOutOfBounds) {
		t.Fatalf("expected invalid block / out of bounds, got %v", err)
	}
	if be.Live() != 0 {
		t.Fatalf("partial construction left %d tensors", be.Live())
	}
}

func TestIllegalOverrideFails(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	_, err := Construct(be, weights.NewBuffer(nil), 0, Options{
		InputChannels: 2,
		Overrides:     fixed(params.Overrides{ParamDepthwiseStridePad: 7}),
	})
	if !errors.Is(err, params.ErrIllegalParameter) {
		t.Fatalf("expected ErrIllegalParameter, got %v", err)
	}

	_, err = Construct(be, weights.NewBuffer(nil), 0, Options{
		InputChannels: 2,
		Overrides:     fixed(params.Overrides{"noSuchParam": 1}),
	})
	if !errors.Is(err, params.ErrIllegalParameter) {
		t.Fatalf("expected unknown override rejection, got %v", err)
	}
}

func TestExtractedLayout(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	data := []float32{
		0.2,           // residual -> 0
		3.4, 0.9, 1.1, // pointwise1: 3 channels, bias, relu
		1, 0, 0, 0, 1, 0, // pointwise1 filter [1,1,2,3]
		0.5, 0.5, 0.5, // pointwise1 bias
		2, 5, 2.6, 1, 0, 0, // depthwise: max pool, (x5 ignored), 3x3, stride1-same, no bias, none
		0, 1, 3, // pointwise2: absent, bias and activation ignored
	}
	buf := weights.NewBuffer(data)
	blk, err := Construct(be, buf, 0, Options{InputChannels: 2})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()

	cfg := blk.Config()
	if cfg.ByteOffsetEnd != len(data)*weights.ElementSize {
		t.Fatalf("consumed %d bytes, want %d", cfg.ByteOffsetEnd, len(data)*weights.ElementSize)
	}
	if cfg.ResidualRequested {
		t.Fatalf("residual should be off")
	}
	pw1 := cfg.Pointwise1
	if !pw1.Present || pw1.OutputChannels != 3 || !pw1.HasBias || pw1.Activation != backend.ActReLU {
		t.Fatalf("pointwise1 = %s", pw1)
	}
	dw := cfg.Depthwise
	if !dw.Present || dw.Operation != DepthwiseMaxPool || dw.ChannelMultiplier != 1 || dw.Window.Size != 3 || dw.OutputChannels != 3 {
		t.Fatalf("depthwise = %s", dw)
	}
	if dw.Filter.ElementCount() != 0 {
		t.Fatalf("pooling read a filter")
	}
	pw2 := cfg.Pointwise2
	if pw2.Present || pw2.HasBias || pw2.Activation != backend.ActNone || pw2.OutputChannels != 3 {
		t.Fatalf("absent pointwise2 resolved fields: %+v", pw2)
	}
	if cfg.OutputChannels != 3 {
		t.Fatalf("output channels %d", cfg.OutputChannels)
	}
	if got := blk.OutputShape(4, 5); got[0] != 4 || got[1] != 5 || got[2] != 3 {
		t.Fatalf("output shape %v", got)
	}
}

func TestDecodeDeterminism(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	data := []float32{1, 0, 0, 0, 2.2, 1, 1, 0, 0, 0, 1, 1}
	buf := weights.NewBuffer(data)
	overrides := params.Overrides{ParamDepthwiseFilterSize: 1}

	a, errA := Construct(be, buf, 0, Options{InputChannels: 1, Overrides: overrides})
	b, errB := Construct(be, buf, 0, Options{InputChannels: 1, Overrides: overrides})
	if errA != nil || errB != nil {
		t.Fatalf("Construct: %v %v", errA, errB)
	}
	defer a.Release()
	defer b.Release()

	ca, cb := a.Config(), b.Config()
	if ca.ByteOffsetEnd != cb.ByteOffsetEnd {
		t.Fatalf("end offsets differ: %d vs %d", ca.ByteOffsetEnd, cb.ByteOffsetEnd)
	}
	sa, sb := ca.Stages(), cb.Stages()
	for i := range sa {
		if !sa[i].Params.Equal(sb[i].Params) {
			t.Fatalf("stage %d params differ: %s vs %s", i, sa[i].Params, sb[i].Params)
		}
	}
	if !ca.Header.Equal(cb.Header) {
		t.Fatalf("header differs")
	}
}

func TestAllAbsentIsIdentity(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	blk, err := Construct(be, weights.NewBuffer(nil), 0, Options{InputChannels: 3, Overrides: fixed(nil)})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()

	in := []float32{1, 2, 3, 4, 5, 6}
	x := upload(t, be, 1, 2, 3, in)
	y, err := blk.Apply(x)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if y != x {
		t.Fatalf("consuming pass-through allocated a new tensor")
	}
	if got := download(t, be, y); !equalFloats(got, in) {
		t.Fatalf("identity changed values: %v", got)
	}
	be.Release(y)
	if be.Live() != 0 {
		t.Fatalf("leaked %d tensors", be.Live())
	}
}

func TestRetainInputKeepsCallerTensor(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	blk, err := Construct(be, weights.NewBuffer([]float32{2, 3}), 0, Options{
		InputChannels: 2,
		Overrides:     depthwiseIdentity(0),
		RetainInput:   true,
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()
	if blk.Pipeline()[0] != "depthwise[depthwise] 1x1/s1/same (keep input)" {
		t.Fatalf("pipeline %v", blk.Pipeline())
	}

	x := upload(t, be, 1, 1, 2, []float32{1, 1})
	y, err := blk.Apply(x)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := download(t, be, x); !equalFloats(got, []float32{1, 1}) {
		t.Fatalf("input not preserved: %v", got)
	}
	if got := download(t, be, y); !equalFloats(got, []float32{2, 3}) {
		t.Fatalf("output %v", got)
	}
	be.Release(x)
	be.Release(y)
}

func TestConsumedInputIsReleased(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	blk, err := Construct(be, weights.NewBuffer([]float32{2, 3}), 0, Options{
		InputChannels: 2,
		Overrides:     depthwiseIdentity(0),
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()

	x := upload(t, be, 1, 1, 2, []float32{1, 1})
	y, err := blk.Apply(x)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := be.Download(x); !errors.Is(err, backend.ErrReleased) {
		t.Fatalf("consumed input still alive: %v", err)
	}
	be.Release(y)
}

func TestResidualSkippedOnShapeMismatch(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	pool := func(residual int) params.Overrides {
		return fixed(params.Overrides{
			ParamResidual:            residual,
			ParamDepthwiseOperation:  int(DepthwiseAvgPool),
			ParamDepthwiseFilterSize: 2,
			ParamDepthwiseStridePad:  int(Stride2Same),
		})
	}
	withRes, err := Construct(be, weights.NewBuffer(nil), 0, Options{InputChannels: 1, Overrides: pool(1)})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer withRes.Release()
	without, err := Construct(be, weights.NewBuffer(nil), 0, Options{InputChannels: 1, Overrides: pool(0)})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer without.Release()

	if !withRes.Config().ResidualRequested || withRes.Config().ResidualLegal {
		t.Fatalf("stride 2 residual should be requested but illegal")
	}

	in := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	y1, err := withRes.Apply(upload(t, be, 4, 4, 1, in))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	y2, err := without.Apply(upload(t, be, 4, 4, 1, in))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if a, b := download(t, be, y1), download(t, be, y2); !equalFloats(a, b) {
		t.Fatalf("residual mismatch changed output: %v vs %v", a, b)
	}
	be.Release(y1)
	be.Release(y2)
}

func TestResidualChannelMismatchSkipped(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	blk, err := Construct(be, weights.NewBuffer([]float32{1, 1}), 0, Options{
		InputChannels: 1,
		Overrides: fixed(params.Overrides{
			ParamResidual:               1,
			ParamPointwise1ChannelCount: 2,
		}),
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()
	if blk.Config().ResidualLegal {
		t.Fatalf("1 -> 2 channels must not add the input")
	}
	if blk.Config().KeepsInput() {
		t.Fatalf("no reason to keep the input")
	}
}

func TestAllAbsentResidualDoubles(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	blk, err := Construct(be, weights.NewBuffer(nil), 0, Options{
		InputChannels: 1,
		Overrides:     fixed(params.Overrides{ParamResidual: 1}),
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()

	y, err := blk.Apply(upload(t, be, 1, 2, 1, []float32{3, -4}))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := download(t, be, y); !equalFloats(got, []float32{6, -8}) {
		t.Fatalf("output %v", got)
	}
	be.Release(y)
	if be.Live() != 0 {
		t.Fatalf("leaked %d tensors", be.Live())
	}
}

func TestFullPipelineWithBiasAndActivation(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	overrides := fixed(params.Overrides{
		ParamPointwise1ChannelCount:     2,
		ParamPointwise1Bias:             1,
		ParamDepthwiseOperation:         int(DepthwiseConv),
		ParamDepthwiseChannelMultiplier: 2,
		ParamDepthwiseFilterSize:        1,
		ParamDepthwiseStridePad:         int(Stride1Valid),
		ParamDepthwiseActivation:        int(backend.ActReLU),
		ParamPointwise2ChannelCount:     1,
	})
	buf := weights.NewBuffer([]float32{
		1, -1, // pointwise1 filter [1,1,1,2]
		0, 1, // pointwise1 bias
		1, 2, 1, -3, // depthwise filter [1,1,2,2]
		1, 1, 1, 1, // pointwise2 filter [1,1,4,1]
	})
	blk, err := Construct(be, buf, 0, Options{InputChannels: 1, Overrides: overrides})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()

	// x=2: pw1 -> [2, -2] + [0, 1] = [2, -1]
	// dw   -> [2*1, 2*2, -1*1, -1*-3] = [2, 4, -1, 3] -> relu [2, 4, 0, 3]
	// pw2  -> 9
	y, err := blk.Apply(upload(t, be, 1, 1, 1, []float32{2}))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := download(t, be, y); !equalFloats(got, []float32{9}) {
		t.Fatalf("output %v want [9]", got)
	}
	be.Release(y)
	blk.Release()
	if be.Live() != 0 {
		t.Fatalf("leaked %d tensors", be.Live())
	}
}

func TestApplyRejectsWrongChannels(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	blk, err := Construct(be, weights.NewBuffer(nil), 0, Options{InputChannels: 2, Overrides: fixed(nil)})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()

	x := upload(t, be, 1, 1, 3, []float32{1, 2, 3})
	if _, err := blk.Apply(x); !errors.Is(err, backend.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
	if _, err := be.Download(x); err != nil {
		t.Fatalf("rejected input was consumed: %v", err)
	}
	be.Release(x)
}

func TestReleasedBlock(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	blk, err := Construct(be, weights.NewBuffer([]float32{1, 1}), 0, Options{InputChannels: 2, Overrides: depthwiseIdentity(0)})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	blk.Release()
	blk.Release()
	if be.Live() != 0 {
		t.Fatalf("release left %d tensors", be.Live())
	}
	if _, err := blk.Apply(upload(t, be, 1, 1, 2, []float32{1, 1})); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestConstructorProgress(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	c := NewConstructor(be, weights.NewCursor(weights.NewBuffer([]float32{1, 1}), 0),
		Options{InputChannels: 2, Overrides: depthwiseIdentity(1)}, nil)
	var seen []float64
	blk, err := progress.Run[*Block](context.Background(), c, func(s progress.Snapshot) {
		seen = append(seen, s.Percentage)
	}, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer blk.Release()

	if len(seen) != ConstructionUnits {
		t.Fatalf("got %d snapshots, want %d", len(seen), ConstructionUnits)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress decreased: %v", seen)
		}
	}
	if seen[len(seen)-1] != 100 {
		t.Fatalf("final progress %v", seen[len(seen)-1])
	}
	if _, err := c.Resume(); !errors.Is(err, progress.ErrFinished) {
		t.Fatalf("resume after completion: %v", err)
	}
}

func TestConstructorAbortReleases(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	c := NewConstructor(be, weights.NewCursor(weights.NewBuffer([]float32{1, 1, 1, 1}), 0), Options{
		InputChannels: 2,
		Overrides:     fixed(params.Overrides{ParamPointwise1ChannelCount: 2}),
	}, nil)
	// header, pointwise1 params, pointwise1 filter
	for range 3 {
		if _, err := c.Resume(); err != nil {
			t.Fatalf("Resume: %v", err)
		}
	}
	if be.Live() != 1 {
		t.Fatalf("expected the pointwise1 filter to be live, got %d", be.Live())
	}
	c.Abort()
	if be.Live() != 0 {
		t.Fatalf("abort left %d tensors", be.Live())
	}
	if c.Cursor().Offset() != 0 {
		t.Fatalf("abort kept partial offset %d", c.Cursor().Offset())
	}
}

func TestBufferStartOffset(t *testing.T) {
	t.Parallel()
	be := cpu.New()

	buf, err := weights.NewBufferAt([]float32{1, 1}, 64)
	if err != nil {
		t.Fatalf("NewBufferAt: %v", err)
	}
	if _, err := Construct(be, buf, 0, Options{InputChannels: 2, Overrides: depthwiseIdentity(0)}); !errors.Is(err, weights.ErrOutOfBounds) {
		t.Fatalf("read before buffer start: %v", err)
	}
	blk, err := Construct(be, buf, 64, Options{InputChannels: 2, Overrides: depthwiseIdentity(0)})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	defer blk.Release()
	if blk.ByteOffsetBegin() != 64 || blk.ByteOffsetEnd() != 72 {
		t.Fatalf("offsets [%d,%d)", blk.ByteOffsetBegin(), blk.ByteOffsetEnd())
	}
}
