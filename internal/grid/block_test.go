package grid_test

import (
	"errors"
	"testing"

	"cubemill/internal/grid"
)

func TestBlockValidate(t *testing.T) {
	cases := []struct {
		name  string
		block grid.Block
		ok    bool
	}{
		{"fits", grid.Block{Row: 1, Col: 1, NRows: 100, NCols: 50}, true},
		{"last pixel", grid.Block{Row: 100, Col: 50, NRows: 1, NCols: 1}, true},
		{"zero origin", grid.Block{Row: 0, Col: 1, NRows: 1, NCols: 1}, false},
		{"zero size", grid.Block{Row: 1, Col: 1, NRows: 0, NCols: 1}, false},
		{"row overflow", grid.Block{Row: 51, Col: 1, NRows: 51, NCols: 1}, false},
		{"col overflow", grid.Block{Row: 1, Col: 50, NRows: 1, NCols: 2}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.block.Validate(50, 100)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestOverlapBlockValidate(t *testing.T) {
	ob := grid.OverlapBlock{
		Block: grid.Block{Row: 10, Col: 1, NRows: 20, NCols: 30},
		Crop:  grid.Block{Row: 5, Col: 1, NRows: 10, NCols: 30},
	}
	if err := ob.Validate(30, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ob.Crop.NRows = 30 // escapes the outer extent
	err := ob.Validate(30, 100)
	if !errors.Is(err, grid.ErrCropOutsideBlock) {
		t.Fatalf("expected ErrCropOutsideBlock, got %v", err)
	}
}

func TestAbsCrop(t *testing.T) {
	ob := grid.OverlapBlock{
		Block: grid.Block{Row: 96, Col: 1, NRows: 110, NCols: 100},
		Crop:  grid.Block{Row: 6, Col: 1, NRows: 100, NCols: 100},
	}
	abs := ob.AbsCrop()
	if abs.Row != 101 || abs.LastRow() != 200 {
		t.Fatalf("abs crop rows [%d,%d], want [101,200]", abs.Row, abs.LastRow())
	}
	if !ob.Padded() {
		t.Fatal("expected padded block")
	}
}

func TestBlockPixels(t *testing.T) {
	b := grid.Block{Row: 1, Col: 1, NRows: 100000, NCols: 100000}
	if b.Pixels() != 10_000_000_000 {
		t.Fatalf("pixel count %d overflowed", b.Pixels())
	}
}
