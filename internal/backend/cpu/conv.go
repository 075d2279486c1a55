package cpu

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/samcharles93/blockwise/internal/backend"
)

// PointwiseConv is a [h*w, inC] x [inC, outC] matrix product.
func (b *Backend) PointwiseConv(x, filter backend.Tensor) (backend.Tensor, error) {
	in, h, w, c, err := b.image(x)
	if err != nil {
		return nil, err
	}
	f, err := b.own(filter)
	if err != nil {
		return nil, err
	}
	if len(f.shape) != 4 || f.shape[0] != 1 || f.shape[1] != 1 || f.shape[2] != c {
		return nil, fmt.Errorf("%w: pointwise filter %v for %d input channels", backend.ErrShapeMismatch, f.shape, c)
	}
	outC := f.shape[3]
	out := b.alloc(backend.HWC(h, w, outC))
	pixels := h * w
	if pixels == 0 || c == 0 || outC == 0 {
		return out, nil
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: pixels, Cols: c, Stride: c, Data: in.data},
		blas32.General{Rows: c, Cols: outC, Stride: outC, Data: f.data},
		0,
		blas32.General{Rows: pixels, Cols: outC, Stride: outC, Data: out.data},
	)
	return out, nil
}

func (b *Backend) DepthwiseConv(x, filter backend.Tensor, win backend.Window) (backend.Tensor, error) {
	in, h, w, c, err := b.image(x)
	if err != nil {
		return nil, err
	}
	f, err := b.own(filter)
	if err != nil {
		return nil, err
	}
	if len(f.shape) != 4 || f.shape[0] != win.Size || f.shape[1] != win.Size || f.shape[2] != c {
		return nil, fmt.Errorf("%w: depthwise filter %v for window %s over %d channels",
			backend.ErrShapeMismatch, f.shape, win, c)
	}
	m := f.shape[3]
	oh, ow, err := outputDims(h, w, win)
	if err != nil {
		return nil, err
	}
	outC := c * m
	out := b.alloc(backend.HWC(oh, ow, outC))
	padT, padL := win.PadBefore(h), win.PadBefore(w)

	for oy := range oh {
		for ox := range ow {
			dst := out.data[(oy*ow+ox)*outC : (oy*ow+ox+1)*outC]
			for fy := range win.Size {
				iy := oy*win.Stride + fy - padT
				if iy < 0 || iy >= h {
					continue
				}
				for fx := range win.Size {
					ix := ox*win.Stride + fx - padL
					if ix < 0 || ix >= w {
						continue
					}
					src := in.data[(iy*w+ix)*c : (iy*w+ix+1)*c]
					taps := f.data[(fy*win.Size+fx)*c*m:]
					for ch, v := range src {
						for q := range m {
							dst[ch*m+q] += v * taps[ch*m+q]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// AvgPool averages only the taps that fall inside the input.
func (b *Backend) AvgPool(x backend.Tensor, win backend.Window) (backend.Tensor, error) {
	return b.pool(x, win, false)
}

// MaxPool ignores padded taps.
func (b *Backend) MaxPool(x backend.Tensor, win backend.Window) (backend.Tensor, error) {
	return b.pool(x, win, true)
}

func (b *Backend) pool(x backend.Tensor, win backend.Window, isMax bool) (backend.Tensor, error) {
	in, h, w, c, err := b.image(x)
	if err != nil {
		return nil, err
	}
	oh, ow, err := outputDims(h, w, win)
	if err != nil {
		return nil, err
	}
	out := b.alloc(backend.HWC(oh, ow, c))
	padT, padL := win.PadBefore(h), win.PadBefore(w)

	for oy := range oh {
		for ox := range ow {
			dst := out.data[(oy*ow+ox)*c : (oy*ow+ox+1)*c]
			if isMax {
				for ch := range dst {
					dst[ch] = float32(math.Inf(-1))
				}
			}
			count := 0
			for fy := range win.Size {
				iy := oy*win.Stride + fy - padT
				if iy < 0 || iy >= h {
					continue
				}
				for fx := range win.Size {
					ix := ox*win.Stride + fx - padL
					if ix < 0 || ix >= w {
						continue
					}
					count++
					src := in.data[(iy*w+ix)*c : (iy*w+ix+1)*c]
					for ch, v := range src {
						if isMax {
							dst[ch] = max(dst[ch], v)
						} else {
							dst[ch] += v
						}
					}
				}
			}
			if !isMax && count > 0 {
				inv := 1 / float32(count)
				for ch := range dst {
					dst[ch] *= inv
				}
			}
		}
	}
	return out, nil
}

func outputDims(h, w int, win backend.Window) (int, int, error) {
	if win.Size <= 0 || win.Stride <= 0 {
		return 0, 0, fmt.Errorf("%w: window %s", backend.ErrShapeMismatch, win)
	}
	oh, ow := win.OutputSize(h), win.OutputSize(w)
	if (h > 0 && oh == 0) || (w > 0 && ow == 0) {
		return 0, 0, fmt.Errorf("%w: window %s larger than %dx%d input", backend.ErrShapeMismatch, win, h, w)
	}
	return oh, ow, nil
}
