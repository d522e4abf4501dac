package raster

import (
	"fmt"
	"math"

	"cubemill/internal/grid"
)

var nan = math.NaN()

// Frame is the pixels-by-layers value table a transform consumes and
// produces: one row per pixel of a block's padded extent in row-major order,
// one column per band, time step, or output layer. Missing samples are NaN.
type Frame struct {
	Pixels int
	Layers int
	values []float64
}

// NewFrame allocates a zeroed frame.
func NewFrame(pixels, layers int) *Frame {
	return &Frame{
		Pixels: pixels,
		Layers: layers,
		values: make([]float64, pixels*layers),
	}
}

// At returns the value of pixel p in layer l.
func (f *Frame) At(p, l int) float64 {
	return f.values[p*f.Layers+l]
}

// Set stores v for pixel p in layer l.
func (f *Frame) Set(p, l int, v float64) {
	f.values[p*f.Layers+l] = v
}

// Layer copies one column out of the frame.
func (f *Frame) Layer(l int) []float64 {
	out := make([]float64, f.Pixels)
	for p := range out {
		out[p] = f.values[p*f.Layers+l]
	}
	return out
}

// Crop returns a new frame holding only the pixels of the inner rectangle,
// where the frame's pixels are laid out row-major over outer. This is how
// overlap padding gets trimmed before a block result is written.
func (f *Frame) Crop(outer, inner grid.Block) (*Frame, error) {
	rel := grid.Block{Row: 1, Col: 1, NRows: outer.NRows, NCols: outer.NCols}
	if !rel.Contains(inner) {
		return nil, fmt.Errorf("crop %s outside frame extent %s", inner, outer)
	}
	if f.Pixels != int(outer.Pixels()) {
		return nil, fmt.Errorf("frame has %d pixels, extent %s needs %d", f.Pixels, outer, outer.Pixels())
	}
	out := NewFrame(int(inner.Pixels()), f.Layers)
	i := 0
	for r := inner.Row; r < inner.Row+inner.NRows; r++ {
		for c := inner.Col; c < inner.Col+inner.NCols; c++ {
			src := (r-1)*outer.NCols + (c - 1)
			for l := 0; l < f.Layers; l++ {
				out.values[i*f.Layers+l] = f.values[src*f.Layers+l]
			}
			i++
		}
	}
	return out, nil
}
