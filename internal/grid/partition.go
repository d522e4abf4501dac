package grid

// Partition covers an image of xsize columns and ysize rows with blocks of
// the given shape, in row-major (top-to-bottom, left-to-right) order. The
// final band in each axis absorbs the remainder, so the crop extents of the
// returned blocks tile the image exactly with no gaps and no overlaps.
//
// A non-zero overlap pads each block's outer extent by that many pixels on
// every side, clamped to the image bounds; Crop records the original
// unpadded rectangle relative to the padded origin. Downstream stages read
// the padded extent, compute, and trim back to Crop before writing, which
// keeps windowed transforms free of block-edge effects.
//
// The returned order is a contract: the scheduler and the merge engine rely
// on it for deterministic output.
func Partition(xsize, ysize int, shape BlockShape, overlap int) []OverlapBlock {
	if xsize < 1 || ysize < 1 || !shape.Valid() {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	nvert := (ysize + shape.NRows - 1) / shape.NRows
	nhoriz := (xsize + shape.NCols - 1) / shape.NCols
	blocks := make([]OverlapBlock, 0, nvert*nhoriz)

	for row := 1; row <= ysize; row += shape.NRows {
		nrows := min(shape.NRows, ysize-row+1)
		for col := 1; col <= xsize; col += shape.NCols {
			ncols := min(shape.NCols, xsize-col+1)

			top := max(1, row-overlap)
			bottom := min(ysize, row+nrows-1+overlap)
			left := max(1, col-overlap)
			right := min(xsize, col+ncols-1+overlap)

			blocks = append(blocks, OverlapBlock{
				Block: Block{
					Row:   top,
					Col:   left,
					NRows: bottom - top + 1,
					NCols: right - left + 1,
				},
				Crop: Block{
					Row:   row - top + 1,
					Col:   col - left + 1,
					NRows: nrows,
					NCols: ncols,
				},
			})
		}
	}
	return blocks
}

// PartitionRows is the one-dimensional cover used when merge logic should
// stay a single column of row bands: every block spans the full image width
// and rowSize rows, with the overlap margin applied vertically only (the
// horizontal margin clamps away against the image edges).
func PartitionRows(xsize, ysize, rowSize, overlap int) []OverlapBlock {
	return Partition(xsize, ysize, BlockShape{NRows: rowSize, NCols: xsize}, overlap)
}
