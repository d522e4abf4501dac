package transform

import (
	"context"
	"errors"
	"math"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
)

// BayesSpec smooths class-probability layers with a Bayesian neighborhood
// estimator: each pixel's log-odds are blended with the mean log-odds of its
// Window x Window neighborhood, weighted by the neighborhood variance
// against the configured prior variance. Probabilities are stored scaled to
// [0, MaxProb]. The window reaches Window/2 pixels past the block edge, so
// blocks must be partitioned with at least that much overlap.
type BayesSpec struct {
	// Window is the odd neighborhood side length.
	Window int
	// Variance is the prior variance of the log-odds.
	Variance float64
	// MaxProb is the scaled value representing probability 1. Zero means
	// the conventional 10000.
	MaxProb float64
}

// DefaultMaxProb is the conventional integer scaling of probabilities.
const DefaultMaxProb = 10000

func (BayesSpec) Name() string { return "bayes" }

func (BayesSpec) Layers(in int) (int, error) {
	if in < 1 {
		return 0, errors.New("bayes needs at least one probability layer")
	}
	return in, nil
}

func (s BayesSpec) Validate() error {
	if s.Window < 3 || s.Window%2 == 0 {
		return errors.New("window must be an odd length of at least 3")
	}
	if s.Variance <= 0 {
		return errors.New("variance must be positive")
	}
	if s.MaxProb < 0 {
		return errors.New("max probability must be positive")
	}
	return nil
}

func (s BayesSpec) maxProb() float64 {
	if s.MaxProb == 0 {
		return DefaultMaxProb
	}
	return s.MaxProb
}

func bayesFn(s BayesSpec) Fn {
	maxProb := s.maxProb()
	half := s.Window / 2
	return func(_ context.Context, block grid.OverlapBlock, in *raster.Frame) (*raster.Frame, error) {
		nrows, ncols := block.NRows, block.NCols
		if in.Pixels != nrows*ncols {
			return nil, errors.New("frame does not match block extent")
		}
		out := raster.NewFrame(in.Pixels, in.Layers)
		logOdds := make([]float64, in.Pixels)
		neigh := make([]float64, 0, s.Window*s.Window)

		for l := 0; l < in.Layers; l++ {
			for p := 0; p < in.Pixels; p++ {
				logOdds[p] = logit(in.At(p, l), maxProb)
			}
			for r := 0; r < nrows; r++ {
				for c := 0; c < ncols; c++ {
					p := r*ncols + c
					x := logOdds[p]
					if math.IsNaN(x) {
						out.Set(p, l, math.NaN())
						continue
					}
					neigh = neigh[:0]
					for dr := -half; dr <= half; dr++ {
						for dc := -half; dc <= half; dc++ {
							nr, nc := r+dr, c+dc
							if nr < 0 || nc < 0 || nr >= nrows || nc >= ncols {
								continue
							}
							if v := logOdds[nr*ncols+nc]; !math.IsNaN(v) {
								neigh = append(neigh, v)
							}
						}
					}
					out.Set(p, l, expit(estimate(x, neigh, s.Variance), maxProb))
				}
			}
		}
		return out, nil
	}
}

// estimate blends a pixel's log-odds with its neighborhood: the smaller the
// neighborhood variance relative to the prior, the harder the pixel is
// pulled toward the local mean.
func estimate(x float64, neigh []float64, variance float64) float64 {
	if len(neigh) < 2 {
		return x
	}
	m := mean(neigh)
	v := sampleVariance(neigh, m)
	w1 := v / (variance + v)
	w2 := variance / (variance + v)
	return w1*x + w2*m
}

// logit maps a scaled probability to log-odds, nudging the endpoints inward
// so they stay finite.
func logit(p, maxProb float64) float64 {
	if math.IsNaN(p) {
		return math.NaN()
	}
	p = math.Max(0.5, math.Min(maxProb-0.5, p))
	return math.Log(p / (maxProb - p))
}

func expit(x, maxProb float64) float64 {
	return maxProb / (1 + math.Exp(-x))
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleVariance(values []float64, m float64) float64 {
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values)-1)
}
