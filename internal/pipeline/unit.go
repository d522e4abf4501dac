package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"cubemill/internal/artifact"
	"cubemill/internal/cube"
	"cubemill/internal/grid"
	"cubemill/internal/ledger"
	"cubemill/internal/logging"
	"cubemill/internal/memplan"
	"cubemill/internal/mosaic"
	"cubemill/internal/raster"
	"cubemill/internal/raster/geotiff"
	"cubemill/internal/scheduler"
	"cubemill/internal/transform"
)

func (p *Processor) processUnit(ctx context.Context, runID string, unit cube.Unit, spec transform.Spec,
	layout artifact.Layout, budget *scheduler.Budget, validator *artifact.Validator, logger *slog.Logger) ([]string, error) {

	logger = logger.With(logging.String(logging.FieldUnitID, unit.ID))

	row, err := p.startLedgerUnit(ctx, runID, unit)
	if err != nil {
		return nil, err
	}

	src, err := geotiff.Open(unit.Source)
	if err != nil {
		return nil, p.failUnit(ctx, row, fmt.Errorf("open source: %w", err))
	}
	info := src.Info()
	_ = src.Close()

	layers, err := spec.Layers(info.Bands)
	if err != nil {
		return nil, p.failUnit(ctx, row, fmt.Errorf("transform layers: %w", err))
	}

	merged := p.mergedPaths(layout, unit.ID, layers)
	if p.recoveredUnit(merged, info, layers) {
		logger.Info("recovery: merged output already present", logging.String("path", merged[0]))
		p.unitsRecovered.Add(1)
		if row != nil {
			if err := p.store.MarkRecovered(ctx, row.ID, strings.Join(merged, ", ")); err != nil {
				logger.Warn("ledger update failed", logging.Error(err))
			}
		}
		return merged, nil
	}

	p.setStatus(ctx, row, ledger.StatusPlanning, logger)

	overlap := p.cfg.Processing.Overlap
	if need := transform.MinOverlap(spec); need > overlap {
		overlap = need
	}
	plan, err := memplan.NewPlan(memplan.Request{
		Image:          grid.BlockShape{NRows: info.YSize, NCols: info.XSize},
		DefaultBlock:   grid.BlockShape{NRows: p.cfg.Processing.BlockRows, NCols: p.cfg.Processing.BlockCols},
		Overlap:        overlap,
		LayersPerPixel: int64(info.Bands + layers),
		BytesPerItem:   p.cfg.Memory.BytesPerItem,
		BloatFactor:    p.cfg.Memory.BloatFactor,
		CeilingGB:      p.cfg.Memory.CeilingGB,
		Workers:        budget.Size(),
	})
	if err != nil {
		return nil, p.failUnit(ctx, row, err)
	}

	blocks := grid.Partition(info.XSize, info.YSize, plan.Block, overlap)
	logger.Info("unit planned",
		logging.String("block", plan.Block.String()),
		logging.Int("blocks", len(blocks)),
		logging.Int("workers", plan.Workers),
		logging.Int("overlap", overlap))
	if row != nil {
		if err := p.store.SetBlocks(ctx, row.ID, len(blocks)); err != nil {
			logger.Warn("ledger update failed", logging.Error(err))
		}
	}
	p.setStatus(ctx, row, ledger.StatusProcessing, logger)

	fn, err := transform.Predictor(spec)
	if err != nil {
		return nil, p.failUnit(ctx, row, err)
	}

	blockPaths, err := p.runBlocks(ctx, unit, info, layers, blocks, fn, layout, budget, plan.Workers, validator, row, logger)
	if err != nil {
		return nil, p.failUnit(ctx, row, err)
	}

	p.setStatus(ctx, row, ledger.StatusMerging, logger)
	outs := make([]string, len(merged))
	for i, target := range merged {
		column := make([]string, len(blockPaths))
		for j := range blockPaths {
			column[j] = blockPaths[j][i]
		}
		out, err := mosaic.Merge(ctx, mosaic.Spec{
			OutPath:      target,
			BlockPaths:   column,
			Type:         p.cfg.DataType(),
			Nodata:       p.cfg.Processing.Nodata,
			Workers:      plan.Workers,
			DeleteBlocks: !p.cfg.Processing.KeepBlockFiles,
			Validator:    validator,
		}, logger)
		if err != nil {
			return nil, p.failUnit(ctx, row, fmt.Errorf("merge: %w", err))
		}
		outs[i] = out
	}

	p.unitsCompleted.Add(1)
	if row != nil {
		if err := p.store.MarkCompleted(ctx, row.ID, strings.Join(outs, ", ")); err != nil {
			logger.Warn("ledger update failed", logging.Error(err))
		}
	}
	logger.Info("unit completed", logging.String("path", strings.Join(outs, ", ")))
	return outs, nil
}

// mergedPaths returns the unit's final output files: a single multi-band
// file, or one single-band file per layer when splitting is on.
func (p *Processor) mergedPaths(layout artifact.Layout, unitID string, layers int) []string {
	if !p.cfg.Processing.SplitLayers {
		return []string{layout.MergedPath(unitID)}
	}
	names := p.outputLayerNames(layers)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = layout.LayerMergedPath(unitID, name)
	}
	return paths
}

// blockPathsFor returns the output files one block job writes, ordered like
// the unit's merged paths.
func (p *Processor) blockPathsFor(layout artifact.Layout, unitID string, b grid.Block, layers int) []string {
	if !p.cfg.Processing.SplitLayers {
		return []string{layout.BlockPath(unitID, b)}
	}
	names := p.outputLayerNames(layers)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = layout.LayerBlockPath(unitID, name, b)
	}
	return paths
}

// runBlocks dispatches one job per block and returns each block's output
// file paths in partition order. A job whose outputs all validate is skipped
// without reading the source.
func (p *Processor) runBlocks(ctx context.Context, unit cube.Unit, info raster.Info, layers int,
	blocks []grid.OverlapBlock, fn transform.Fn, layout artifact.Layout, budget *scheduler.Budget,
	workers int, validator *artifact.Validator, row *ledger.Unit, logger *slog.Logger) ([][]string, error) {

	bands := make([]int, info.Bands)
	for i := range bands {
		bands[i] = i + 1
	}

	var unitSkipped atomic.Int64

	pool := scheduler.NewPool(budget, workers, logger)
	pool.WithProgress(func(done, total int) {
		if p.progress != nil {
			p.progress(done, total)
		}
		if row != nil {
			skipped := int(unitSkipped.Load())
			if err := p.store.RecordProgress(ctx, row.ID, done-skipped, skipped); err != nil {
				logger.Warn("ledger update failed", logging.Error(err))
			}
		}
	})

	return scheduler.Map(ctx, pool, blocks, func(ctx context.Context, _ int, ob grid.OverlapBlock) ([]string, error) {
		paths := p.blockPathsFor(layout, unit.ID, ob.AbsCrop(), layers)
		valid := true
		for _, path := range paths {
			if !validator.Valid(path) {
				valid = false
			}
		}
		if valid {
			unitSkipped.Add(1)
			p.blocksSkipped.Add(1)
			return paths, nil
		}

		src, err := geotiff.Open(unit.Source)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		defer src.Close()

		in, err := raster.ReadFrame(src, bands, ob.Block)
		if err != nil {
			return nil, fmt.Errorf("read window: %w", err)
		}
		out, err := fn(ctx, ob, in)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		if out.Layers != layers {
			return nil, fmt.Errorf("transform produced %d layers, expected %d", out.Layers, layers)
		}

		var crop *grid.Block
		if ob.Padded() {
			crop = &ob.Crop
		}
		bbox := info.Transform.BlockBBox(ob.Block)
		written, err := artifact.WriteBlock(paths, ob.Block, bbox, out,
			p.cfg.DataType(), p.cfg.Processing.Nodata, crop)
		if err != nil {
			return nil, err
		}
		p.blocksComputed.Add(1)
		return written, nil
	})
}

// recoveredUnit reports whether every merged output of a unit already exists
// and matches the source geometry. Anything unreadable or mismatched is not
// trusted; the unit recomputes and the stale file becomes a merge conflict
// the user must resolve, rather than silently serving wrong data.
func (p *Processor) recoveredUnit(paths []string, info raster.Info, layers int) bool {
	bandsPerFile := layers
	if len(paths) > 1 {
		bandsPerFile = 1
	}
	for _, path := range paths {
		if !p.recovered(path, info, bandsPerFile) {
			return false
		}
	}
	return true
}

func (p *Processor) recovered(path string, info raster.Info, bands int) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	f, err := geotiff.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	got := f.Info()
	return got.Bands == bands && got.BBox().Equal(info.BBox(), info.Transform.CellTolerance())
}

func (p *Processor) startLedgerUnit(ctx context.Context, runID string, unit cube.Unit) (*ledger.Unit, error) {
	if p.store == nil {
		return nil, nil
	}
	row, err := p.store.StartUnit(ctx, runID, unit.ID, unit.TileID)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return row, nil
}

func (p *Processor) setStatus(ctx context.Context, row *ledger.Unit, status ledger.Status, logger *slog.Logger) {
	if row == nil {
		return
	}
	if err := p.store.SetStatus(ctx, row.ID, status); err != nil {
		logger.Warn("ledger update failed", logging.Error(err))
	}
}

func (p *Processor) failUnit(ctx context.Context, row *ledger.Unit, err error) error {
	if row != nil {
		if markErr := p.store.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			p.logger.Warn("ledger update failed", logging.Error(markErr))
		}
	}
	return err
}
