package memplan

import (
	"fmt"

	"cubemill/internal/grid"
)

// Plan fixes the block shape and worker count for one processing unit. It is
// computed once before dispatch and stays immutable while the unit runs.
type Plan struct {
	Block   grid.BlockShape
	Workers int
	JobGB   float64
}

// Request carries everything needed to derive a Plan.
type Request struct {
	Image        grid.BlockShape
	DefaultBlock grid.BlockShape
	Overlap      int
	// LayersPerPixel counts the values one pixel contributes to a job:
	// input bands times time steps plus output layers.
	LayersPerPixel int64
	BytesPerItem   int64
	BloatFactor    float64
	CeilingGB      float64
	Workers        int
}

// NewPlan derives the job plan for one unit: estimate the footprint of a
// default-sized padded block, cap the worker count by the ceiling, then grow
// or split blocks so every worker's job still fits. The returned plan
// re-estimates the footprint for the chosen shape, so
// Workers*JobGB <= CeilingGB holds within rounding.
func NewPlan(req Request) (Plan, error) {
	if !req.Image.Valid() {
		return Plan{}, fmt.Errorf("memory plan: invalid image size %s", req.Image)
	}
	block := req.DefaultBlock
	if !block.Valid() {
		block = DefaultBlock
	}
	block.NRows = min(block.NRows, req.Image.NRows)
	block.NCols = min(block.NCols, req.Image.NCols)
	if req.LayersPerPixel < 1 {
		req.LayersPerPixel = 1
	}
	if req.BytesPerItem < 1 {
		req.BytesPerItem = 8
	}
	if req.BloatFactor <= 0 {
		req.BloatFactor = DefaultBloat
	}

	budget := Budget{
		ItemsPerJob:  paddedPixels(block, req.Overlap) * req.LayersPerPixel,
		BytesPerItem: req.BytesPerItem,
		BloatFactor:  req.BloatFactor,
		CeilingGB:    req.CeilingGB,
	}
	jobGB := budget.JobMemsizeGB()
	workers, err := budget.MaxConcurrency(req.Workers)
	if err != nil {
		return Plan{}, err
	}

	shape := OptimalBlockShape(jobGB, block, req.Image, req.CeilingGB, workers)
	budget.ItemsPerJob = paddedPixels(shape, req.Overlap) * req.LayersPerPixel
	return Plan{Block: shape, Workers: workers, JobGB: budget.JobMemsizeGB()}, nil
}

// paddedPixels sizes a block grown by the overlap margin on every side,
// which is what a job actually holds in memory.
func paddedPixels(s grid.BlockShape, overlap int) int64 {
	if overlap < 0 {
		overlap = 0
	}
	return int64(s.NRows+2*overlap) * int64(s.NCols+2*overlap)
}

// Defaults applied when the caller leaves the knobs zero. The block matches
// the stock tile chunking of the source imagery; the bloat factor accounts
// for the intermediate copies a transform makes while computing.
var (
	DefaultBlock = grid.BlockShape{NRows: 512, NCols: 512}
)

const (
	DefaultBloat = 5.0
)
