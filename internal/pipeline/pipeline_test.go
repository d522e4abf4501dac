package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"cubemill/internal/config"
	"cubemill/internal/cube"
	"cubemill/internal/grid"
	"cubemill/internal/ledger"
	"cubemill/internal/pipeline"
	"cubemill/internal/raster"
	"cubemill/internal/raster/geotiff"
	"cubemill/internal/testsupport"
	"cubemill/internal/transform"
)

// smallCfg shapes runs so a 48x40 source partitions into a 3x3 block grid:
// the tight ceiling keeps the planner from growing blocks past the default.
func smallCfg(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	base := []testsupport.ConfigOption{
		testsupport.WithBlockShape(16, 16),
		testsupport.WithMemoryCeiling(0.0001),
		testsupport.WithWorkers(4, 1),
	}
	return testsupport.NewConfig(t, append(base, opts...)...)
}

func writeSource(t *testing.T, cfg *config.Config, name string) cube.Unit {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(cfg), name+".tif")
	testsupport.WriteRaster(t, path, testsupport.RasterSpec{
		XSize: 48, YSize: 40, Bands: 2,
		Type:   raster.Float32,
		Nodata: -9999,
		Fill: func(b, p int) float64 {
			return float64(p%100 + 2*b)
		},
	})
	return cube.Unit{ID: name + "_2024-05-01", TileID: name, Date: "2024-05-01", Source: path}
}

// wantMean is what the temporal mean of the two synthetic bands should hold
// at 0-based pixel index p.
func wantMean(p int) float64 { return float64(p%100 + 1) }

func checkMerged(t *testing.T, path string) {
	t.Helper()
	f, err := geotiff.Open(path)
	if err != nil {
		t.Fatalf("open merged output: %v", err)
	}
	defer f.Close()
	info := f.Info()
	if info.XSize != 48 || info.YSize != 40 || info.Bands != 1 {
		t.Fatalf("unexpected merged geometry: %dx%d bands=%d", info.XSize, info.YSize, info.Bands)
	}
	values, err := f.ReadWindow(1, info.Full())
	if err != nil {
		t.Fatalf("read merged output: %v", err)
	}
	for p, got := range values {
		if math.Abs(got-wantMean(p)) > 1e-4 {
			t.Fatalf("pixel %d: got %v, want %v", p, got, wantMean(p))
		}
	}
}

func TestProcessProducesMergedOutput(t *testing.T) {
	cfg := smallCfg(t)
	store := testsupport.MustOpenLedger(t, cfg)
	unit := writeSource(t, cfg, "t1")

	proc := pipeline.New(cfg, store, nil)
	outputs, err := proc.Process(context.Background(), []cube.Unit{unit}, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	checkMerged(t, outputs[0])

	stats := proc.Stats()
	if stats.BlocksComputed != 9 || stats.BlocksSkipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rows, err := store.List(context.Background(), ledger.StatusCompleted)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 || rows[0].BlocksTotal != 9 {
		t.Fatalf("unexpected ledger rows: %#v", rows)
	}

	// Block files are deleted after a successful merge by default. The
	// merged output has one underscore fewer than a block file.
	leftovers, _ := filepath.Glob(filepath.Join(cfg.Paths.OutputDir, "*_*_*_*.tif"))
	if len(leftovers) != 0 {
		t.Fatalf("expected block files removed, found %v", leftovers)
	}
}

func TestRepeatRunRecoversUnit(t *testing.T) {
	cfg := smallCfg(t)
	unit := writeSource(t, cfg, "t1")

	first := pipeline.New(cfg, nil, nil)
	if _, err := first.Process(context.Background(), []cube.Unit{unit}, transform.MeanSpec{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := pipeline.New(cfg, nil, nil)
	outputs, err := second.Process(context.Background(), []cube.Unit{unit}, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	checkMerged(t, outputs[0])

	stats := second.Stats()
	if stats.UnitsRecovered != 1 || stats.BlocksComputed != 0 {
		t.Fatalf("expected full unit recovery, got %+v", stats)
	}
}

func TestRepeatRunSkipsValidBlocks(t *testing.T) {
	cfg := smallCfg(t, testsupport.WithKeepBlockFiles())
	unit := writeSource(t, cfg, "t1")

	first := pipeline.New(cfg, nil, nil)
	outputs, err := first.Process(context.Background(), []cube.Unit{unit}, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Without the merged output the unit reprocesses, but every block job
	// finds its artifact valid and skips the compute.
	if err := os.Remove(outputs[0]); err != nil {
		t.Fatalf("remove merged output: %v", err)
	}

	second := pipeline.New(cfg, nil, nil)
	outputs, err = second.Process(context.Background(), []cube.Unit{unit}, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	checkMerged(t, outputs[0])

	stats := second.Stats()
	if stats.BlocksComputed != 0 || stats.BlocksSkipped != 9 {
		t.Fatalf("expected all blocks skipped, got %+v", stats)
	}
}

func TestResumeAfterBlockFailure(t *testing.T) {
	cfg := smallCfg(t)
	unit := writeSource(t, cfg, "t1")

	mean, err := transform.Predictor(transform.MeanSpec{})
	if err != nil {
		t.Fatalf("Predictor failed: %v", err)
	}
	// The last block of the 3x3 grid fails; everything dispatched before it
	// completes and stays on disk.
	flaky := transform.FuncSpec{
		ID:        "flaky-mean",
		OutLayers: 1,
		Run: func(ctx context.Context, ob grid.OverlapBlock, in *raster.Frame) (*raster.Frame, error) {
			abs := ob.AbsCrop()
			if abs.Row == 33 && abs.Col == 33 {
				return nil, fmt.Errorf("injected failure for %s", abs)
			}
			return mean(ctx, ob, in)
		},
	}

	first := pipeline.New(cfg, nil, nil)
	if _, err := first.Process(context.Background(), []cube.Unit{unit}, flaky); err == nil {
		t.Fatal("expected first run to fail")
	}
	merged := filepath.Join(cfg.Paths.OutputDir, unit.ID+"_v1.tif")
	if _, err := os.Stat(merged); !os.IsNotExist(err) {
		t.Fatal("failed run must not leave a merged output")
	}

	second := pipeline.New(cfg, nil, nil)
	outputs, err := second.Process(context.Background(), []cube.Unit{unit}, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("resume run failed: %v", err)
	}
	checkMerged(t, outputs[0])

	stats := second.Stats()
	if stats.BlocksComputed != 1 || stats.BlocksSkipped != 8 {
		t.Fatalf("expected 1 recomputed and 8 skipped blocks, got %+v", stats)
	}
}

func TestOutputIndependentOfWorkerCount(t *testing.T) {
	serialCfg := smallCfg(t, testsupport.WithWorkers(1, 1))
	parallelCfg := smallCfg(t, testsupport.WithWorkers(4, 1))
	serialUnit := writeSource(t, serialCfg, "t1")
	parallelUnit := writeSource(t, parallelCfg, "t1")

	serialOut, err := pipeline.New(serialCfg, nil, nil).
		Process(context.Background(), []cube.Unit{serialUnit}, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("serial run failed: %v", err)
	}
	parallelOut, err := pipeline.New(parallelCfg, nil, nil).
		Process(context.Background(), []cube.Unit{parallelUnit}, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}

	read := func(path string) []float64 {
		f, err := geotiff.Open(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		defer f.Close()
		values, err := f.ReadWindow(1, f.Info().Full())
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		return values
	}
	a, b := read(serialOut[0]), read(parallelOut[0])
	if len(a) != len(b) {
		t.Fatalf("pixel count mismatch: %d vs %d", len(a), len(b))
	}
	for p := range a {
		if a[p] != b[p] {
			t.Fatalf("pixel %d differs: %v vs %v", p, a[p], b[p])
		}
	}
}

func TestMultipleUnitsInParallel(t *testing.T) {
	cfg := smallCfg(t, testsupport.WithWorkers(4, 2))
	units := []cube.Unit{writeSource(t, cfg, "t1"), writeSource(t, cfg, "t2")}

	proc := pipeline.New(cfg, nil, nil)
	outputs, err := proc.Process(context.Background(), units, transform.MeanSpec{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	for _, out := range outputs {
		checkMerged(t, out)
	}
	if stats := proc.Stats(); stats.UnitsCompleted != 2 || stats.BlocksComputed != 18 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSplitLayersWritesPerLayerOutputs(t *testing.T) {
	cfg := smallCfg(t, testsupport.WithSplitLayers())
	unit := writeSource(t, cfg, "t1")
	names := []string{"alpha", "beta"}
	spec := transform.ScaleSpec{Scale: 2, Offset: 1}

	proc := pipeline.New(cfg, nil, nil).WithLayerNames(names)
	outputs, err := proc.Process(context.Background(), []cube.Unit{unit}, spec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	want := []string{
		filepath.Join(cfg.Paths.OutputDir, "t1_2024-05-01_alpha_v1.tif"),
		filepath.Join(cfg.Paths.OutputDir, "t1_2024-05-01_beta_v1.tif"),
	}
	if len(outputs) != 2 || outputs[0] != want[0] || outputs[1] != want[1] {
		t.Fatalf("unexpected outputs: %v, want %v", outputs, want)
	}

	for layer, path := range outputs {
		f, err := geotiff.Open(path)
		if err != nil {
			t.Fatalf("open layer output %s: %v", path, err)
		}
		info := f.Info()
		if info.XSize != 48 || info.YSize != 40 || info.Bands != 1 {
			t.Fatalf("layer %d: unexpected geometry %dx%d bands=%d",
				layer, info.XSize, info.YSize, info.Bands)
		}
		values, err := f.ReadWindow(1, info.Full())
		f.Close()
		if err != nil {
			t.Fatalf("read layer output %s: %v", path, err)
		}
		for p, got := range values {
			scaled := 2*float64(p%100+2*layer) + 1
			if math.Abs(got-scaled) > 1e-4 {
				t.Fatalf("layer %d pixel %d: got %v, want %v", layer, p, got, scaled)
			}
		}
	}

	// A rerun recovers the unit from the per-layer outputs alone.
	second := pipeline.New(cfg, nil, nil).WithLayerNames(names)
	if _, err := second.Process(context.Background(), []cube.Unit{unit}, spec); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if stats := second.Stats(); stats.UnitsRecovered != 1 || stats.BlocksComputed != 0 {
		t.Fatalf("expected unit recovery, got %+v", stats)
	}
}

func TestProcessRefusesLockedOutputDir(t *testing.T) {
	cfg := smallCfg(t)
	unit := writeSource(t, cfg, "t1")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	lockPath := filepath.Join(cfg.Paths.OutputDir, ".cubemill", "run.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	held := flock.New(lockPath)
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not take test lock: locked=%v err=%v", locked, err)
	}
	defer held.Unlock()

	_, err = pipeline.New(cfg, nil, nil).
		Process(context.Background(), []cube.Unit{unit}, transform.MeanSpec{})
	if !errors.Is(err, pipeline.ErrRunLocked) {
		t.Fatalf("expected ErrRunLocked, got %v", err)
	}
}
