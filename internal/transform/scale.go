package transform

import (
	"context"
	"errors"
	"math"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
)

// ScaleSpec applies an explicit linear scale and offset to every layer.
// The factors are caller-supplied, never inferred by sampling pixel
// magnitudes: a single outlier pixel must not be able to misclassify the
// scale of a whole tile.
type ScaleSpec struct {
	Scale  float64
	Offset float64
}

func (ScaleSpec) Name() string { return "scale" }

func (ScaleSpec) Layers(in int) (int, error) {
	if in < 1 {
		return 0, errors.New("scale needs at least one input layer")
	}
	return in, nil
}

func (s ScaleSpec) Validate() error {
	if s.Scale == 0 || math.IsNaN(s.Scale) || math.IsInf(s.Scale, 0) {
		return errors.New("scale factor must be finite and non-zero")
	}
	if math.IsNaN(s.Offset) || math.IsInf(s.Offset, 0) {
		return errors.New("offset must be finite")
	}
	return nil
}

func scaleFn(s ScaleSpec) Fn {
	return func(_ context.Context, _ grid.OverlapBlock, in *raster.Frame) (*raster.Frame, error) {
		out := raster.NewFrame(in.Pixels, in.Layers)
		for p := 0; p < in.Pixels; p++ {
			for l := 0; l < in.Layers; l++ {
				v := in.At(p, l)
				if math.IsNaN(v) {
					out.Set(p, l, v)
					continue
				}
				out.Set(p, l, v*s.Scale+s.Offset)
			}
		}
		return out, nil
	}
}
