package cpu

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/blockwise/internal/backend"
)

func mustUpload(t *testing.T, b *Backend, shape []int, data []float32) backend.Tensor {
	t.Helper()
	x, err := b.Upload(shape, data)
	if err != nil {
		t.Fatalf("Upload %v: %v", shape, err)
	}
	return x
}

func mustDownload(t *testing.T, b *Backend, x backend.Tensor) []float32 {
	t.Helper()
	out, err := b.Download(x)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	return out
}

func assertClose(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length %d want %d (%v vs %v)", len(got), len(want), got, want)
	}
	const tol = 1e-5
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("[%d]=%v want %v (got %v)", i, got[i], want[i], got)
		}
	}
}

func TestPointwiseConvMatchesNaive(t *testing.T) {
	t.Parallel()
	b := New()

	// 1x2 image, 2 channels -> 3 channels
	x := mustUpload(t, b, backend.HWC(1, 2, 2), []float32{1, 2, 3, 4})
	f := mustUpload(t, b, []int{1, 1, 2, 3}, []float32{
		1, 0, -1,
		0.5, 2, 1,
	})
	y, err := b.PointwiseConv(x, f)
	if err != nil {
		t.Fatalf("PointwiseConv: %v", err)
	}
	assertClose(t, mustDownload(t, b, y), []float32{
		1 + 1, 0 + 4, -1 + 2,
		3 + 2, 0 + 8, -3 + 4,
	})
}

func TestDepthwiseConvSamePadding(t *testing.T) {
	t.Parallel()
	b := New()

	// 3x3 single channel, 3x3 box filter, stride 1 same
	img := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	x := mustUpload(t, b, backend.HWC(3, 3, 1), img)
	ones := make([]float32, 9)
	for i := range ones {
		ones[i] = 1
	}
	f := mustUpload(t, b, []int{3, 3, 1, 1}, ones)
	y, err := b.DepthwiseConv(x, f, backend.Window{Size: 3, Stride: 1, Padding: backend.PadSame})
	if err != nil {
		t.Fatalf("DepthwiseConv: %v", err)
	}
	assertClose(t, mustDownload(t, b, y), []float32{
		12, 21, 16,
		27, 45, 33,
		24, 39, 28,
	})
}

func TestDepthwiseConvMultiplier(t *testing.T) {
	t.Parallel()
	b := New()

	x := mustUpload(t, b, backend.HWC(1, 1, 2), []float32{3, 5})
	f := mustUpload(t, b, []int{1, 1, 2, 2}, []float32{1, 10, 2, 20})
	y, err := b.DepthwiseConv(x, f, backend.Window{Size: 1, Stride: 1, Padding: backend.PadValid})
	if err != nil {
		t.Fatalf("DepthwiseConv: %v", err)
	}
	if got := y.Shape(); got[2] != 4 {
		t.Fatalf("output channels %v", got)
	}
	assertClose(t, mustDownload(t, b, y), []float32{3, 30, 10, 100})
}

func TestPoolStride2(t *testing.T) {
	t.Parallel()
	b := New()

	x := mustUpload(t, b, backend.HWC(2, 2, 1), []float32{1, 2, 3, 8})
	win := backend.Window{Size: 2, Stride: 2, Padding: backend.PadSame}

	avg, err := b.AvgPool(x, win)
	if err != nil {
		t.Fatalf("AvgPool: %v", err)
	}
	assertClose(t, mustDownload(t, b, avg), []float32{3.5})

	mx, err := b.MaxPool(x, win)
	if err != nil {
		t.Fatalf("MaxPool: %v", err)
	}
	assertClose(t, mustDownload(t, b, mx), []float32{8})
}

func TestAvgPoolExcludesPadding(t *testing.T) {
	t.Parallel()
	b := New()

	x := mustUpload(t, b, backend.HWC(1, 2, 1), []float32{2, 4})
	y, err := b.AvgPool(x, backend.Window{Size: 3, Stride: 1, Padding: backend.PadSame})
	if err != nil {
		t.Fatalf("AvgPool: %v", err)
	}
	assertClose(t, mustDownload(t, b, y), []float32{3, 3})
}

func TestBiasActivationAdd(t *testing.T) {
	t.Parallel()
	b := New()

	x := mustUpload(t, b, backend.HWC(1, 2, 2), []float32{-1, 2, 7, -3})
	bias := mustUpload(t, b, []int{2}, []float32{1, 1})
	biased, err := b.AddBias(x, bias)
	if err != nil {
		t.Fatalf("AddBias: %v", err)
	}
	assertClose(t, mustDownload(t, b, biased), []float32{0, 3, 8, -2})

	act, err := b.Activate(biased, backend.ActReLU6)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	assertClose(t, mustDownload(t, b, act), []float32{0, 3, 6, 0})

	sum, err := b.Add(x, act)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	assertClose(t, mustDownload(t, b, sum), []float32{-1, 5, 13, -3})
}

func TestReleaseTracking(t *testing.T) {
	t.Parallel()
	b := New()

	x := mustUpload(t, b, []int{2}, []float32{1, 2})
	y, err := b.Clone(x)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if b.Live() != 2 {
		t.Fatalf("live %d want 2", b.Live())
	}
	b.Release(x)
	b.Release(x)
	if b.Live() != 1 {
		t.Fatalf("double release changed count: live %d", b.Live())
	}
	if _, err := b.Download(x); !errors.Is(err, backend.ErrReleased) {
		t.Fatalf("use after release: %v", err)
	}
	b.Release(y)
	if b.Live() != 0 {
		t.Fatalf("live %d want 0", b.Live())
	}
}

func TestShapeMismatch(t *testing.T) {
	t.Parallel()
	b := New()

	if _, err := b.Upload([]int{2, 2}, []float32{1}); !errors.Is(err, backend.ErrShapeMismatch) {
		t.Fatalf("Upload: %v", err)
	}
	x := mustUpload(t, b, backend.HWC(1, 1, 2), []float32{1, 2})
	f := mustUpload(t, b, []int{1, 1, 3, 1}, []float32{1, 1, 1})
	if _, err := b.PointwiseConv(x, f); !errors.Is(err, backend.ErrShapeMismatch) {
		t.Fatalf("PointwiseConv: %v", err)
	}
	if _, err := b.MaxPool(x, backend.Window{Size: 3, Stride: 1, Padding: backend.PadValid}); !errors.Is(err, backend.ErrShapeMismatch) {
		t.Fatalf("MaxPool oversized valid window: %v", err)
	}
}
