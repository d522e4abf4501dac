package memplan_test

import (
	"errors"
	"math"
	"testing"

	"cubemill/internal/grid"
	"cubemill/internal/memplan"
)

func TestJobMemsizeGB(t *testing.T) {
	got := memplan.JobMemsizeGB(1_000_000, 8, 2)
	if math.Abs(got-0.016) > 1e-12 {
		t.Fatalf("JobMemsizeGB = %v, want 0.016", got)
	}
}

func TestBudgetDerivesFootprintAndConcurrency(t *testing.T) {
	b := memplan.Budget{ItemsPerJob: 1_000_000, BytesPerItem: 8, BloatFactor: 2, CeilingGB: 0.1}
	if got := b.JobMemsizeGB(); math.Abs(got-0.016) > 1e-12 {
		t.Fatalf("JobMemsizeGB = %v, want 0.016", got)
	}
	got, err := b.MaxConcurrency(8)
	if err != nil {
		t.Fatalf("MaxConcurrency: %v", err)
	}
	if got != 6 {
		t.Fatalf("MaxConcurrency = %d, want 6", got)
	}
}

func TestMaxConcurrencyCapsAtRequested(t *testing.T) {
	got, err := memplan.MaxConcurrency(0.016, 4, 8)
	if err != nil {
		t.Fatalf("MaxConcurrency: %v", err)
	}
	if got != 8 {
		t.Fatalf("MaxConcurrency = %d, want 8", got)
	}
}

func TestMaxConcurrencyFloorsByCeiling(t *testing.T) {
	got, err := memplan.MaxConcurrency(1.5, 4, 8)
	if err != nil {
		t.Fatalf("MaxConcurrency: %v", err)
	}
	if got != 2 {
		t.Fatalf("MaxConcurrency = %d, want 2", got)
	}
}

func TestMaxConcurrencyInsufficientMemory(t *testing.T) {
	_, err := memplan.MaxConcurrency(5, 4, 8)
	if !errors.Is(err, memplan.ErrInsufficientMemory) {
		t.Fatalf("error = %v, want ErrInsufficientMemory", err)
	}
}

func TestOptimalBlockShapeAreaStrategy(t *testing.T) {
	// Plenty of memory per core: blocks grow to full image width with
	// stacked default rows.
	image := grid.BlockShape{NRows: 2048, NCols: 2048}
	def := grid.BlockShape{NRows: 512, NCols: 512}
	shape := memplan.OptimalBlockShape(0.01, def, image, 16, 4)
	if shape.NCols != image.NCols {
		t.Fatalf("area strategy width = %d, want full image width %d", shape.NCols, image.NCols)
	}
	if shape.NRows%def.NRows != 0 && shape.NRows != image.NRows {
		t.Fatalf("area strategy height %d is not a multiple of default rows", shape.NRows)
	}
}

func TestOptimalBlockShapeRowStrategy(t *testing.T) {
	// Tight memory: each row band splits horizontally, default height kept.
	image := grid.BlockShape{NRows: 2048, NCols: 2048}
	def := grid.BlockShape{NRows: 512, NCols: 512}
	shape := memplan.OptimalBlockShape(2.0, def, image, 16, 4)
	if shape.NRows != def.NRows {
		t.Fatalf("row strategy height = %d, want default %d", shape.NRows, def.NRows)
	}
	if shape.NCols > image.NCols {
		t.Fatalf("row strategy width %d exceeds image", shape.NCols)
	}
}

func TestNewPlanRespectsCeiling(t *testing.T) {
	plan, err := memplan.NewPlan(memplan.Request{
		Image:          grid.BlockShape{NRows: 4096, NCols: 4096},
		DefaultBlock:   grid.BlockShape{NRows: 512, NCols: 512},
		LayersPerPixel: 12,
		BytesPerItem:   8,
		BloatFactor:    2,
		CeilingGB:      4,
		Workers:        8,
	})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Workers < 1 || plan.Workers > 8 {
		t.Fatalf("workers = %d, want within [1,8]", plan.Workers)
	}
	total := float64(plan.Workers) * plan.JobGB
	if total > 4*1.01 {
		t.Fatalf("plan exceeds ceiling: %d workers x %.4f GB = %.4f GB", plan.Workers, plan.JobGB, total)
	}
	if !plan.Block.Valid() {
		t.Fatalf("invalid block shape %v", plan.Block)
	}
}

func TestNewPlanInfeasible(t *testing.T) {
	_, err := memplan.NewPlan(memplan.Request{
		Image:          grid.BlockShape{NRows: 4096, NCols: 4096},
		DefaultBlock:   grid.BlockShape{NRows: 4096, NCols: 4096},
		LayersPerPixel: 100,
		BytesPerItem:   8,
		BloatFactor:    5,
		CeilingGB:      0.5,
		Workers:        4,
	})
	if !errors.Is(err, memplan.ErrInsufficientMemory) {
		t.Fatalf("error = %v, want ErrInsufficientMemory", err)
	}
}
