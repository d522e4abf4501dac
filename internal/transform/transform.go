package transform

import (
	"context"
	"errors"
	"fmt"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
)

// Fn is the pure per-block function the scheduler runs: padded input frame
// in, output frame out. Implementations hold no state across calls; the
// caller owns all file I/O around them.
type Fn func(ctx context.Context, block grid.OverlapBlock, in *raster.Frame) (*raster.Frame, error)

// Spec is the configuration half of a transform. Building a Spec never
// touches data; Predictor resolves it into the runnable function. Keeping
// the two phases explicit means a Spec can be validated, logged, and
// persisted without dragging bound data along.
type Spec interface {
	Name() string
	// Layers returns the output layer count for a given input layer count.
	Layers(in int) (int, error)
	Validate() error
}

// ErrUnknownSpec reports a Spec type Predictor cannot resolve.
var ErrUnknownSpec = errors.New("unknown transform spec")

// Predictor resolves a validated Spec into its per-block function.
func Predictor(spec Spec) (Fn, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnknownSpec)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("transform %s: %w", spec.Name(), err)
	}
	switch s := spec.(type) {
	case MeanSpec:
		return meanFn(s), nil
	case ScaleSpec:
		return scaleFn(s), nil
	case BayesSpec:
		return bayesFn(s), nil
	case FuncSpec:
		return s.Run, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSpec, spec)
	}
}

// MinOverlap returns the padding a spec needs around each block so windowed
// computation stays free of edge effects. Specs without a window need none.
func MinOverlap(spec Spec) int {
	switch s := spec.(type) {
	case BayesSpec:
		return s.Window / 2
	case FuncSpec:
		return s.Overlap
	default:
		return 0
	}
}
