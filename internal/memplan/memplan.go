package memplan

import (
	"errors"
	"fmt"
	"math"

	"cubemill/internal/grid"
)

// ErrInsufficientMemory reports that the configured ceiling cannot hold even
// a single job. It is fatal and surfaced before any work starts.
var ErrInsufficientMemory = errors.New("insufficient memory")

// Budget captures the inputs of the per-job memory estimate.
type Budget struct {
	BytesPerItem int64
	ItemsPerJob  int64
	BloatFactor  float64
	CeilingGB    float64
}

// JobMemsizeGB returns the estimated footprint of one job in decimal
// gigabytes: a plain product of item count, item width, and the processing
// bloat safety factor. It never clamps; feasibility is the caller's check.
func JobMemsizeGB(items, bytesPerItem int64, bloat float64) float64 {
	return float64(items) * float64(bytesPerItem) * bloat * 1e-9
}

// JobMemsizeGB returns the budget's derived per-job footprint.
func (b Budget) JobMemsizeGB() float64 {
	return JobMemsizeGB(b.ItemsPerJob, b.BytesPerItem, b.BloatFactor)
}

// MaxConcurrency returns how many jobs of the budget's size fit under its
// ceiling, capped at requested.
func (b Budget) MaxConcurrency(requested int) (int, error) {
	return MaxConcurrency(b.JobMemsizeGB(), b.CeilingGB, requested)
}

// MaxConcurrency returns how many jobs of jobGB may run under ceilingGB,
// capped at requested. A job that does not fit at all fails with
// ErrInsufficientMemory rather than silently degrading.
func MaxConcurrency(jobGB, ceilingGB float64, requested int) (int, error) {
	if jobGB >= ceilingGB {
		return 0, fmt.Errorf("%w: one job needs %.3f GB but the ceiling is %.3f GB",
			ErrInsufficientMemory, jobGB, ceilingGB)
	}
	if requested < 1 {
		requested = 1
	}
	return min(requested, int(math.Floor(ceilingGB/jobGB))), nil
}

// OptimalBlockShape picks the block shape for an image given the footprint of
// one default-sized block. Blocks shrink only as much as the ceiling demands:
//
// When the memory share of one core holds fewer than twice the blocks needed
// to span the image horizontally, each row band is split into the smallest
// number of horizontal segments that fit, keeping the default height.
// Otherwise whole row bands fit per core and the block grows to full image
// width with as many default rows stacked per band as memory allows.
//
// The result is clamped to the image dimensions.
func OptimalBlockShape(blockGB float64, defaultBlock, image grid.BlockShape, ceilingGB float64, workers int) grid.BlockShape {
	if !defaultBlock.Valid() || !image.Valid() {
		return defaultBlock
	}
	if workers < 1 {
		workers = 1
	}

	memPerCore := ceilingGB / float64(workers)
	blocksPerCore := max(1, int(math.Floor(memPerCore/blockGB)))
	horizNeeded := ceilDiv(image.NCols, defaultBlock.NCols)

	var shape grid.BlockShape
	if blocksPerCore < 2*horizNeeded {
		// Row-level strategy: split each row band horizontally.
		segments := ceilDiv(horizNeeded, blocksPerCore)
		shape = grid.BlockShape{
			NRows: defaultBlock.NRows,
			NCols: ceilDiv(horizNeeded, segments) * defaultBlock.NCols,
		}
	} else {
		// Area-level strategy: full-width bands, stacked default rows.
		rowsPerCore := blocksPerCore / horizNeeded
		vertNeeded := ceilDiv(image.NRows, defaultBlock.NRows)
		vertSegments := ceilDiv(vertNeeded, rowsPerCore)
		shape = grid.BlockShape{
			NRows: ceilDiv(vertNeeded, vertSegments) * defaultBlock.NRows,
			NCols: image.NCols,
		}
	}

	shape.NRows = min(shape.NRows, image.NRows)
	shape.NCols = min(shape.NCols, image.NCols)
	return shape
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
