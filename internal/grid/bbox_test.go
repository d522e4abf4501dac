package grid_test

import (
	"strings"
	"testing"

	"cubemill/internal/grid"
)

func TestBBoxIntersect(t *testing.T) {
	a := grid.BBox{XMin: 0, XMax: 10, YMin: 0, YMax: 10, CRS: "EPSG:32722"}
	b := grid.BBox{XMin: 5, XMax: 15, YMin: -5, YMax: 5, CRS: "EPSG:32722"}

	got, ok, err := a.Intersect(b)
	if err != nil {
		t.Fatalf("Intersect failed: %v", err)
	}
	if !ok {
		t.Fatal("expected overlap")
	}
	want := grid.BBox{XMin: 5, XMax: 10, YMin: 0, YMax: 5, CRS: "EPSG:32722"}
	if got != want {
		t.Fatalf("intersection %v, want %v", got, want)
	}
}

func TestBBoxIntersectDisjointIsNotAnError(t *testing.T) {
	a := grid.BBox{XMin: 0, XMax: 1, YMin: 0, YMax: 1, CRS: "EPSG:4326"}
	b := grid.BBox{XMin: 2, XMax: 3, YMin: 2, YMax: 3, CRS: "EPSG:4326"}

	_, ok, err := a.Intersect(b)
	if err != nil {
		t.Fatalf("disjoint boxes must not error: %v", err)
	}
	if ok {
		t.Fatal("expected empty intersection")
	}

	// Touching edges have zero area and count as empty.
	c := grid.BBox{XMin: 1, XMax: 2, YMin: 0, YMax: 1, CRS: "EPSG:4326"}
	if _, ok, _ := a.Intersect(c); ok {
		t.Fatal("edge contact should be empty")
	}
}

func TestBBoxIntersectCRSMismatch(t *testing.T) {
	a := grid.BBox{XMin: 0, XMax: 1, YMin: 0, YMax: 1, CRS: "EPSG:4326"}
	b := grid.BBox{XMin: 0, XMax: 1, YMin: 0, YMax: 1, CRS: "EPSG:32722"}

	if _, _, err := a.Intersect(b); err == nil {
		t.Fatal("expected CRS mismatch error")
	} else if !strings.Contains(err.Error(), "CRS") {
		t.Fatalf("unhelpful error: %v", err)
	}
}

func TestBBoxEqualTolerance(t *testing.T) {
	a := grid.BBox{XMin: 0, XMax: 10, YMin: 0, YMax: 10, CRS: "EPSG:4326"}
	b := grid.BBox{XMin: 1e-7, XMax: 10, YMin: 0, YMax: 10 - 1e-7, CRS: "EPSG:4326"}

	if !a.Equal(b, 1e-6) {
		t.Fatal("expected equality within tolerance")
	}
	if a.Equal(b, 1e-9) {
		t.Fatal("expected inequality below tolerance")
	}
	other := b
	other.CRS = "EPSG:32722"
	if a.Equal(other, 1.0) {
		t.Fatal("different CRS must never compare equal")
	}
}

func TestBBoxUnion(t *testing.T) {
	a := grid.BBox{XMin: 0, XMax: 5, YMin: 0, YMax: 5, CRS: "EPSG:4326"}
	b := grid.BBox{XMin: 3, XMax: 9, YMin: -2, YMax: 4, CRS: "EPSG:4326"}

	got, err := a.Union(b)
	if err != nil {
		t.Fatalf("Union failed: %v", err)
	}
	want := grid.BBox{XMin: 0, XMax: 9, YMin: -2, YMax: 5, CRS: "EPSG:4326"}
	if got != want {
		t.Fatalf("union %v, want %v", got, want)
	}

	b.CRS = "EPSG:32722"
	if _, err := a.Union(b); err == nil {
		t.Fatal("expected CRS mismatch error")
	}
}
