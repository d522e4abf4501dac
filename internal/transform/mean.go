package transform

import (
	"context"
	"errors"
	"math"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
)

// MeanSpec reduces a pixel's input layers (the time steps of one band) to
// their mean, skipping missing samples. A pixel missing in every layer stays
// missing.
type MeanSpec struct{}

func (MeanSpec) Name() string { return "mean" }

func (MeanSpec) Layers(in int) (int, error) {
	if in < 1 {
		return 0, errors.New("mean needs at least one input layer")
	}
	return 1, nil
}

func (MeanSpec) Validate() error { return nil }

func meanFn(MeanSpec) Fn {
	return func(_ context.Context, _ grid.OverlapBlock, in *raster.Frame) (*raster.Frame, error) {
		out := raster.NewFrame(in.Pixels, 1)
		for p := 0; p < in.Pixels; p++ {
			sum, n := 0.0, 0
			for l := 0; l < in.Layers; l++ {
				if v := in.At(p, l); !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n == 0 {
				out.Set(p, 0, math.NaN())
				continue
			}
			out.Set(p, 0, sum/float64(n))
		}
		return out, nil
	}
}
