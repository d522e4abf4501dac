package raster

import (
	"fmt"
	"strings"

	"cubemill/internal/grid"
)

// DataType enumerates the per-pixel storage types an output raster may use.
type DataType int

const (
	Uint8 DataType = iota
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", int(d))
}

// Size returns the width of one sample in bytes.
func (d DataType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// Float reports whether the type stores floating-point samples.
func (d DataType) Float() bool {
	return d == Float32 || d == Float64
}

// Signed reports whether the type stores signed integer samples.
func (d DataType) Signed() bool {
	return d == Int16 || d == Int32
}

// ParseDataType resolves a configuration string into a DataType.
func ParseDataType(s string) (DataType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for d, name := range dataTypeNames {
		if name == want {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// Info describes the geometry and storage of a raster file.
type Info struct {
	XSize     int
	YSize     int
	Bands     int
	Type      DataType
	Nodata    float64
	HasNodata bool
	Transform grid.GeoTransform
}

// BBox returns the georeferenced extent of the full raster.
func (i Info) BBox() grid.BBox {
	return i.Transform.BlockBBox(grid.Block{Row: 1, Col: 1, NRows: i.YSize, NCols: i.XSize})
}

// Full returns the pixel block covering the whole raster.
func (i Info) Full() grid.Block {
	return grid.Block{Row: 1, Col: 1, NRows: i.YSize, NCols: i.XSize}
}

// Dataset is the windowed read primitive the pipeline is built on. Band
// indices are 1-based. Implementations return raw stored values; nodata
// masking happens in ReadFrame.
type Dataset interface {
	Info() Info
	ReadWindow(band int, w grid.Block) ([]float64, error)
	Close() error
}

// ReadFrame reads the given bands of a window into one Frame, mapping the
// dataset's nodata value to NaN so transforms see missing values uniformly.
func ReadFrame(ds Dataset, bands []int, w grid.Block) (*Frame, error) {
	info := ds.Info()
	frame := NewFrame(int(w.Pixels()), len(bands))
	for l, band := range bands {
		values, err := ds.ReadWindow(band, w)
		if err != nil {
			return nil, fmt.Errorf("read band %d of %s: %w", band, w, err)
		}
		for p, v := range values {
			if info.HasNodata && v == info.Nodata {
				frame.Set(p, l, nan)
				continue
			}
			frame.Set(p, l, v)
		}
	}
	return frame, nil
}
