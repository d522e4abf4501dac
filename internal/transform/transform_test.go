package transform_test

import (
	"context"
	"math"
	"testing"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
	"cubemill/internal/transform"
)

func block(nrows, ncols int) grid.OverlapBlock {
	return grid.OverlapBlock{
		Block: grid.Block{Row: 1, Col: 1, NRows: nrows, NCols: ncols},
		Crop:  grid.Block{Row: 1, Col: 1, NRows: nrows, NCols: ncols},
	}
}

func TestMeanSkipsMissing(t *testing.T) {
	fn, err := transform.Predictor(transform.MeanSpec{})
	if err != nil {
		t.Fatalf("Predictor: %v", err)
	}

	in := raster.NewFrame(2, 3)
	in.Set(0, 0, 10)
	in.Set(0, 1, math.NaN())
	in.Set(0, 2, 20)
	for l := 0; l < 3; l++ {
		in.Set(1, l, math.NaN())
	}

	out, err := fn(context.Background(), block(1, 2), in)
	if err != nil {
		t.Fatalf("fn: %v", err)
	}
	if out.Layers != 1 {
		t.Fatalf("layers = %d, want 1", out.Layers)
	}
	if out.At(0, 0) != 15 {
		t.Fatalf("pixel 0 = %v, want 15", out.At(0, 0))
	}
	if !math.IsNaN(out.At(1, 0)) {
		t.Fatalf("all-missing pixel = %v, want NaN", out.At(1, 0))
	}
}

func TestScaleAppliesFactors(t *testing.T) {
	fn, err := transform.Predictor(transform.ScaleSpec{Scale: 0.0001, Offset: -0.1})
	if err != nil {
		t.Fatalf("Predictor: %v", err)
	}

	in := raster.NewFrame(1, 2)
	in.Set(0, 0, 5000)
	in.Set(0, 1, math.NaN())

	out, err := fn(context.Background(), block(1, 1), in)
	if err != nil {
		t.Fatalf("fn: %v", err)
	}
	if math.Abs(out.At(0, 0)-0.4) > 1e-9 {
		t.Fatalf("scaled value = %v, want 0.4", out.At(0, 0))
	}
	if !math.IsNaN(out.At(0, 1)) {
		t.Fatal("missing sample did not stay missing")
	}
}

func TestScaleRejectsZeroFactor(t *testing.T) {
	if _, err := transform.Predictor(transform.ScaleSpec{Scale: 0}); err == nil {
		t.Fatal("zero scale factor should be rejected")
	}
}

func TestBayesPullsOutlierTowardNeighbors(t *testing.T) {
	spec := transform.BayesSpec{Window: 3, Variance: 0.5}
	fn, err := transform.Predictor(spec)
	if err != nil {
		t.Fatalf("Predictor: %v", err)
	}

	// 5x5 field of high probability with one low outlier at the center.
	in := raster.NewFrame(25, 1)
	for p := 0; p < 25; p++ {
		in.Set(p, 0, 9000)
	}
	in.Set(12, 0, 1000)

	out, err := fn(context.Background(), block(5, 5), in)
	if err != nil {
		t.Fatalf("fn: %v", err)
	}
	smoothed := out.At(12, 0)
	if smoothed <= 1000 {
		t.Fatalf("outlier %v was not pulled toward its neighbors", smoothed)
	}
	if smoothed >= 9000 {
		t.Fatalf("outlier %v overshot the neighborhood", smoothed)
	}
	// A corner pixel inside the uniform field stays near its value.
	if v := out.At(0, 0); math.Abs(v-9000) > 500 {
		t.Fatalf("uniform pixel moved to %v", v)
	}
}

func TestBayesPropagatesMissing(t *testing.T) {
	fn, err := transform.Predictor(transform.BayesSpec{Window: 3, Variance: 1})
	if err != nil {
		t.Fatalf("Predictor: %v", err)
	}
	in := raster.NewFrame(9, 1)
	for p := 0; p < 9; p++ {
		in.Set(p, 0, 5000)
	}
	in.Set(4, 0, math.NaN())

	out, err := fn(context.Background(), block(3, 3), in)
	if err != nil {
		t.Fatalf("fn: %v", err)
	}
	if !math.IsNaN(out.At(4, 0)) {
		t.Fatalf("missing pixel = %v, want NaN", out.At(4, 0))
	}
	if math.IsNaN(out.At(0, 0)) {
		t.Fatal("missing neighbor poisoned a valid pixel")
	}
}

func TestBayesValidation(t *testing.T) {
	cases := []transform.BayesSpec{
		{Window: 4, Variance: 1},
		{Window: 1, Variance: 1},
		{Window: 3, Variance: 0},
	}
	for _, spec := range cases {
		if _, err := transform.Predictor(spec); err == nil {
			t.Fatalf("spec %+v should be rejected", spec)
		}
	}
}

func TestMinOverlap(t *testing.T) {
	if got := transform.MinOverlap(transform.MeanSpec{}); got != 0 {
		t.Fatalf("mean overlap = %d, want 0", got)
	}
	if got := transform.MinOverlap(transform.BayesSpec{Window: 7, Variance: 1}); got != 3 {
		t.Fatalf("bayes overlap = %d, want 3", got)
	}
}
