package grid

import (
	"errors"
	"fmt"
)

// BlockShape describes the nominal size of a processing block in pixels.
type BlockShape struct {
	NRows int
	NCols int
}

// Pixels returns the number of cells a block of this shape covers.
func (s BlockShape) Pixels() int64 {
	return int64(s.NRows) * int64(s.NCols)
}

// Valid reports whether both dimensions are positive.
func (s BlockShape) Valid() bool {
	return s.NRows > 0 && s.NCols > 0
}

func (s BlockShape) String() string {
	return fmt.Sprintf("%dx%d", s.NRows, s.NCols)
}

// Block is a rectangular pixel-space region of a raster processed as one unit
// of work. Row and Col are 1-based; the block spans rows
// [Row, Row+NRows-1] and columns [Col, Col+NCols-1].
type Block struct {
	Row   int
	Col   int
	NRows int
	NCols int
}

// Pixels returns the cell count of the block.
func (b Block) Pixels() int64 {
	return int64(b.NRows) * int64(b.NCols)
}

// Shape returns the block dimensions.
func (b Block) Shape() BlockShape {
	return BlockShape{NRows: b.NRows, NCols: b.NCols}
}

// LastRow returns the 1-based index of the final row the block covers.
func (b Block) LastRow() int { return b.Row + b.NRows - 1 }

// LastCol returns the 1-based index of the final column the block covers.
func (b Block) LastCol() int { return b.Col + b.NCols - 1 }

// Validate checks the block invariants against an image of xsize columns and
// ysize rows.
func (b Block) Validate(xsize, ysize int) error {
	if b.Row < 1 || b.Col < 1 {
		return fmt.Errorf("block origin (%d,%d) must be 1-based positive", b.Row, b.Col)
	}
	if b.NRows < 1 || b.NCols < 1 {
		return fmt.Errorf("block size %dx%d must be positive", b.NRows, b.NCols)
	}
	if b.LastRow() > ysize {
		return fmt.Errorf("block rows [%d,%d] exceed image height %d", b.Row, b.LastRow(), ysize)
	}
	if b.LastCol() > xsize {
		return fmt.Errorf("block cols [%d,%d] exceed image width %d", b.Col, b.LastCol(), xsize)
	}
	return nil
}

// Contains reports whether o lies fully inside b.
func (b Block) Contains(o Block) bool {
	return o.Row >= b.Row && o.Col >= b.Col &&
		o.LastRow() <= b.LastRow() && o.LastCol() <= b.LastCol()
}

func (b Block) String() string {
	return fmt.Sprintf("block(row=%d,col=%d,%dx%d)", b.Row, b.Col, b.NRows, b.NCols)
}

// OverlapBlock couples the padded extent read for edge-safe windowed
// computation with the inner rectangle retained after trimming. Crop
// coordinates are 1-based relative to the padded extent's origin, so a block
// with no padding has Crop == {1,1,NRows,NCols}.
type OverlapBlock struct {
	Block
	Crop Block
}

// ErrCropOutsideBlock reports a crop rectangle escaping its padded extent.
var ErrCropOutsideBlock = errors.New("crop rectangle outside padded extent")

// Validate checks the outer block against the image bounds and the crop
// rectangle against the outer extent.
func (ob OverlapBlock) Validate(xsize, ysize int) error {
	if err := ob.Block.Validate(xsize, ysize); err != nil {
		return err
	}
	rel := Block{Row: 1, Col: 1, NRows: ob.NRows, NCols: ob.NCols}
	if ob.Crop.Row < 1 || ob.Crop.Col < 1 || !rel.Contains(ob.Crop) {
		return fmt.Errorf("%w: %s in %s", ErrCropOutsideBlock, ob.Crop, ob.Block)
	}
	return nil
}

// AbsCrop translates the relative crop rectangle into image pixel space.
func (ob OverlapBlock) AbsCrop() Block {
	return Block{
		Row:   ob.Row + ob.Crop.Row - 1,
		Col:   ob.Col + ob.Crop.Col - 1,
		NRows: ob.Crop.NRows,
		NCols: ob.Crop.NCols,
	}
}

// Padded reports whether the block carries any overlap margin.
func (ob OverlapBlock) Padded() bool {
	return ob.Crop.Row != 1 || ob.Crop.Col != 1 ||
		ob.Crop.NRows != ob.NRows || ob.Crop.NCols != ob.NCols
}
