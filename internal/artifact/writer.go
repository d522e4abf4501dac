package artifact

import (
	"errors"
	"fmt"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
	"cubemill/internal/raster/geotiff"
)

// ErrLayerCountMismatch reports a block writer invocation whose output path
// count disagrees with the frame's layer count. It aborts the block's job.
var ErrLayerCountMismatch = errors.New("layer count mismatch")

// WriteBlock serializes one block's result frame into georeferenced raster
// files anchored at bbox. A single path receives all layers as bands of one
// file; multiple paths receive exactly one layer each. A non-nil crop, given
// in coordinates relative to the block's padded extent, trims the frame and
// shrinks the anchor box before anything is written, which is how overlap
// padding is discarded.
func WriteBlock(paths []string, block grid.Block, bbox grid.BBox, frame *raster.Frame,
	dtype raster.DataType, nodata float64, crop *grid.Block) ([]string, error) {

	if len(paths) == 0 {
		return nil, fmt.Errorf("write block %s: no output paths", block)
	}
	if len(paths) > 1 && len(paths) != frame.Layers {
		return nil, fmt.Errorf("%w: %d paths for %d layers", ErrLayerCountMismatch, len(paths), frame.Layers)
	}
	if frame.Pixels != int(block.Pixels()) {
		return nil, fmt.Errorf("write block %s: frame has %d pixels, block needs %d",
			block, frame.Pixels, block.Pixels())
	}
	if !bbox.Valid() {
		return nil, fmt.Errorf("write block %s: invalid bbox %s", block, bbox)
	}

	tr := grid.GeoTransform{
		XMin: bbox.XMin,
		YMax: bbox.YMax,
		XRes: bbox.Width() / float64(block.NCols),
		YRes: bbox.Height() / float64(block.NRows),
		CRS:  bbox.CRS,
	}

	out := block.Shape()
	if crop != nil {
		outer := grid.Block{Row: 1, Col: 1, NRows: block.NRows, NCols: block.NCols}
		cropped, err := frame.Crop(outer, *crop)
		if err != nil {
			return nil, fmt.Errorf("write block %s: %w", block, err)
		}
		frame = cropped
		out = crop.Shape()
		cropBBox := tr.BlockBBox(*crop)
		tr.XMin = cropBBox.XMin
		tr.YMax = cropBBox.YMax
	}

	info := raster.Info{
		XSize:     out.NCols,
		YSize:     out.NRows,
		Type:      dtype,
		Nodata:    nodata,
		HasNodata: true,
		Transform: tr,
	}

	if len(paths) == 1 {
		bands := make([][]float64, frame.Layers)
		for l := range bands {
			bands[l] = frame.Layer(l)
		}
		info.Bands = frame.Layers
		if err := geotiff.Write(paths[0], info, bands, geotiff.Options{Compress: true}); err != nil {
			return nil, err
		}
		return paths, nil
	}

	info.Bands = 1
	for l, path := range paths {
		if err := geotiff.Write(path, info, [][]float64{frame.Layer(l)}, geotiff.Options{Compress: true}); err != nil {
			return nil, err
		}
	}
	return paths, nil
}
