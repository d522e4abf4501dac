package mosaic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"cubemill/internal/artifact"
	"cubemill/internal/grid"
	"cubemill/internal/logging"
	"cubemill/internal/raster"
	"cubemill/internal/raster/geotiff"
)

// ErrMergeConflict reports that the merge target already exists. The engine
// never overwrites: stale output must be removed explicitly, or the caller
// picks a different version or output directory.
var ErrMergeConflict = errors.New("merge target already exists")

// Spec describes one merge: the ordered block files of a unit stitched into
// a single seamless raster. A base file, when given, fixes the output grid,
// extent, band count, and nodata; without one the extent is the union of the
// block extents.
type Spec struct {
	OutPath    string
	BasePath   string
	BlockPaths []string
	Type       raster.DataType
	Nodata     float64
	Workers    int

	// DeleteBlocks removes block files and their validation markers after a
	// successful merge. Failed merges always keep them for resume.
	DeleteBlocks bool
	Validator    *artifact.Validator
}

type placement struct {
	row, col int
	block    grid.Block
	bands    [][]float64
}

// Merge mosaics the spec's block files into one output raster. Blocks are
// disjoint in pixel space by construction of the partitioner; the engine
// checks grid alignment but does not resolve overlapping data. On failure
// no output file remains, so a retry is unambiguous.
func Merge(ctx context.Context, spec Spec, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(spec.BlockPaths) == 0 {
		return "", fmt.Errorf("merge %s: no block files", spec.OutPath)
	}
	if _, err := os.Stat(spec.OutPath); err == nil {
		return "", fmt.Errorf("%w: %s (remove it or choose a different version/output directory)",
			ErrMergeConflict, spec.OutPath)
	}

	out, err := outputInfo(spec)
	if err != nil {
		return "", fmt.Errorf("merge %s: %w", spec.OutPath, err)
	}

	placements, err := loadBlocks(ctx, spec, out)
	if err != nil {
		return "", fmt.Errorf("merge %s: %w", spec.OutPath, err)
	}

	canvas := make([][]float64, out.Bands)
	for b := range canvas {
		canvas[b] = make([]float64, out.XSize*out.YSize)
		for i := range canvas[b] {
			canvas[b][i] = out.Nodata
		}
	}
	for _, p := range placements {
		paint(canvas, out, p)
	}

	if err := geotiff.Write(spec.OutPath, out, canvas, geotiff.Options{Compress: true}); err != nil {
		_ = os.Remove(spec.OutPath)
		return "", fmt.Errorf("merge %s: %w", spec.OutPath, err)
	}

	if spec.DeleteBlocks {
		for _, path := range spec.BlockPaths {
			if spec.Validator != nil {
				if err := spec.Validator.Remove(path); err != nil {
					logger.Warn("remove merged block file", logging.String("path", path), logging.Error(err))
				}
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("remove merged block file", logging.String("path", path), logging.Error(err))
			}
		}
	}
	return spec.OutPath, nil
}

// outputInfo fixes the geometry of the merge target.
func outputInfo(spec Spec) (raster.Info, error) {
	if spec.BasePath != "" {
		base, err := geotiff.Open(spec.BasePath)
		if err != nil {
			return raster.Info{}, fmt.Errorf("open base: %w", err)
		}
		defer base.Close()
		info := base.Info()
		info.Type = spec.Type
		if !info.HasNodata {
			info.Nodata = spec.Nodata
			info.HasNodata = true
		}
		return info, nil
	}

	var union grid.BBox
	var tr grid.GeoTransform
	bands := 0
	for i, path := range spec.BlockPaths {
		ds, err := geotiff.Open(path)
		if err != nil {
			return raster.Info{}, fmt.Errorf("open block: %w", err)
		}
		info := ds.Info()
		_ = ds.Close()
		if i == 0 {
			union = info.BBox()
			tr = info.Transform
			bands = info.Bands
			continue
		}
		if info.Bands != bands {
			return raster.Info{}, fmt.Errorf("%s has %d bands, first block has %d", path, info.Bands, bands)
		}
		if !sameResolution(tr, info.Transform) {
			return raster.Info{}, fmt.Errorf("%s resolution differs from first block", path)
		}
		union, err = union.Union(info.BBox())
		if err != nil {
			return raster.Info{}, err
		}
	}

	tr.XMin = union.XMin
	tr.YMax = union.YMax
	return raster.Info{
		XSize:     int(math.Round(union.Width() / tr.XRes)),
		YSize:     int(math.Round(union.Height() / tr.YRes)),
		Bands:     bands,
		Type:      spec.Type,
		Nodata:    spec.Nodata,
		HasNodata: true,
		Transform: tr,
	}, nil
}

// loadBlocks reads every block file and locates it on the output grid.
// Reads run in parallel; placement is nearest-neighbor via the inverse
// geotransform, never resampled.
func loadBlocks(ctx context.Context, spec Spec, out raster.Info) ([]placement, error) {
	placements := make([]placement, len(spec.BlockPaths))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, spec.Workers))
	var mu sync.Mutex
	for i, path := range spec.BlockPaths {
		i, path := i, path
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, err := geotiff.Open(path)
			if err != nil {
				return err
			}
			defer ds.Close()

			info := ds.Info()
			if info.Bands != out.Bands {
				return fmt.Errorf("%s has %d bands, output needs %d", path, info.Bands, out.Bands)
			}
			if !sameResolution(out.Transform, info.Transform) {
				return fmt.Errorf("%s resolution differs from output grid", path)
			}
			row, col, err := out.Transform.PixelOffset(info.BBox())
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			block := grid.Block{Row: row, Col: col, NRows: info.YSize, NCols: info.XSize}
			if err := block.Validate(out.XSize, out.YSize); err != nil {
				return fmt.Errorf("%s falls outside the output extent: %w", path, err)
			}

			bands := make([][]float64, info.Bands)
			for b := range bands {
				values, err := ds.ReadWindow(b+1, info.Full())
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if info.HasNodata && info.Nodata != out.Nodata {
					for j, v := range values {
						if v == info.Nodata {
							values[j] = out.Nodata
						}
					}
				}
				bands[b] = values
			}
			mu.Lock()
			placements[i] = placement{row: row, col: col, block: block, bands: bands}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return placements, nil
}

func paint(canvas [][]float64, out raster.Info, p placement) {
	for b, band := range p.bands {
		for r := 0; r < p.block.NRows; r++ {
			dst := (p.row-1+r)*out.XSize + (p.col - 1)
			src := r * p.block.NCols
			copy(canvas[b][dst:dst+p.block.NCols], band[src:src+p.block.NCols])
		}
	}
}

func sameResolution(a, b grid.GeoTransform) bool {
	tol := a.CellTolerance()
	return math.Abs(a.XRes-b.XRes) <= tol && math.Abs(a.YRes-b.YRes) <= tol
}
