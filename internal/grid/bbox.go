package grid

import (
	"fmt"
	"math"
)

// BBox is a georeferenced bounding box. The CRS is an opaque identifier
// (authority code or WKT); two boxes are only comparable when their CRS
// strings match, reprojection belongs to the caller.
type BBox struct {
	XMin float64
	XMax float64
	YMin float64
	YMax float64
	CRS  string
}

// Valid reports whether the box spans a positive area.
func (b BBox) Valid() bool {
	return b.XMin < b.XMax && b.YMin < b.YMax
}

// Width returns the horizontal extent in CRS units.
func (b BBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the vertical extent in CRS units.
func (b BBox) Height() float64 { return b.YMax - b.YMin }

// SameCRS reports whether both boxes carry the same reference system.
func (b BBox) SameCRS(o BBox) bool { return b.CRS == o.CRS }

// Intersect returns the overlap of two boxes. Disjoint boxes yield ok=false
// with a zero box; this is an expected outcome, not a failure. Boxes in
// different reference systems cannot be intersected and return an error.
func (b BBox) Intersect(o BBox) (BBox, bool, error) {
	if !b.SameCRS(o) {
		return BBox{}, false, fmt.Errorf("intersect: CRS mismatch %q vs %q", b.CRS, o.CRS)
	}
	out := BBox{
		XMin: math.Max(b.XMin, o.XMin),
		XMax: math.Min(b.XMax, o.XMax),
		YMin: math.Max(b.YMin, o.YMin),
		YMax: math.Min(b.YMax, o.YMax),
		CRS:  b.CRS,
	}
	if !out.Valid() {
		return BBox{}, false, nil
	}
	return out, true, nil
}

// Equal reports whether both boxes agree on every edge within tol. Boxes in
// different reference systems are never equal.
func (b BBox) Equal(o BBox, tol float64) bool {
	if !b.SameCRS(o) {
		return false
	}
	return math.Abs(b.XMin-o.XMin) <= tol &&
		math.Abs(b.XMax-o.XMax) <= tol &&
		math.Abs(b.YMin-o.YMin) <= tol &&
		math.Abs(b.YMax-o.YMax) <= tol
}

// Union returns the smallest box covering both inputs.
func (b BBox) Union(o BBox) (BBox, error) {
	if !b.SameCRS(o) {
		return BBox{}, fmt.Errorf("union: CRS mismatch %q vs %q", b.CRS, o.CRS)
	}
	return BBox{
		XMin: math.Min(b.XMin, o.XMin),
		XMax: math.Max(b.XMax, o.XMax),
		YMin: math.Min(b.YMin, o.YMin),
		YMax: math.Max(b.YMax, o.YMax),
		CRS:  b.CRS,
	}, nil
}

func (b BBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f %s)", b.XMin, b.YMin, b.XMax, b.YMax, b.CRS)
}
