package grid

import (
	"fmt"
	"math"
)

// GeoTransform is the affine pixel-to-geographic mapping of a north-up
// raster. XRes and YRes are stored positive; Y decreases with increasing row.
// Pixel (1,1) has its outer corner at (XMin, YMax).
type GeoTransform struct {
	XMin float64
	YMax float64
	XRes float64
	YRes float64
	CRS  string
}

// Valid reports whether both resolutions are positive.
func (g GeoTransform) Valid() bool {
	return g.XRes > 0 && g.YRes > 0
}

// BlockBBox converts a pixel-space block into the bounding box it covers.
func (g GeoTransform) BlockBBox(b Block) BBox {
	xmin := g.XMin + float64(b.Col-1)*g.XRes
	ymax := g.YMax - float64(b.Row-1)*g.YRes
	return BBox{
		XMin: xmin,
		XMax: xmin + float64(b.NCols)*g.XRes,
		YMin: ymax - float64(b.NRows)*g.YRes,
		YMax: ymax,
		CRS:  g.CRS,
	}
}

// PixelOffset locates a bounding box on this transform's grid, snapping to
// the nearest cell corner. The returned row/col are 1-based. An error means
// the box sits on a different reference system or is misaligned by more than
// half a cell in either axis, which would require resampling to place.
func (g GeoTransform) PixelOffset(b BBox) (row, col int, err error) {
	if b.CRS != g.CRS {
		return 0, 0, fmt.Errorf("pixel offset: CRS mismatch %q vs %q", b.CRS, g.CRS)
	}
	fcol := (b.XMin - g.XMin) / g.XRes
	frow := (g.YMax - b.YMax) / g.YRes
	col = int(math.Round(fcol)) + 1
	row = int(math.Round(frow)) + 1
	if math.Abs(fcol-math.Round(fcol)) > alignTol || math.Abs(frow-math.Round(frow)) > alignTol {
		return 0, 0, fmt.Errorf("pixel offset: %s not aligned to %.9g/%.9g grid", b, g.XRes, g.YRes)
	}
	return row, col, nil
}

// BBoxBlock converts a grid-aligned bounding box into the pixel block it
// covers on this transform.
func (g GeoTransform) BBoxBlock(b BBox) (Block, error) {
	row, col, err := g.PixelOffset(b)
	if err != nil {
		return Block{}, err
	}
	nrows := int(math.Round(b.Height() / g.YRes))
	ncols := int(math.Round(b.Width() / g.XRes))
	if nrows < 1 || ncols < 1 {
		return Block{}, fmt.Errorf("bbox block: %s smaller than one %.9gx%.9g cell", b, g.XRes, g.YRes)
	}
	return Block{Row: row, Col: col, NRows: nrows, NCols: ncols}, nil
}

// CellTolerance returns the absolute coordinate tolerance used when deciding
// whether two boxes describe the same grid extent: a small fraction of the
// cell size, so rounding noise from file round-trips never defeats resume.
func (g GeoTransform) CellTolerance() float64 {
	return alignTol * math.Min(g.XRes, g.YRes)
}

// alignTol is the fraction of a cell a box may be off-grid before placement
// is considered a resampling problem rather than float noise.
const alignTol = 0.01
