package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
	"cubemill/internal/raster/geotiff"
)

// RasterSpec describes a synthetic GeoTIFF fixture.
type RasterSpec struct {
	XSize     int
	YSize     int
	Bands     int
	Type      raster.DataType
	Nodata    float64
	Transform grid.GeoTransform
	// Fill computes the value for band b (0-based) at pixel p (0-based,
	// row-major). When nil a deterministic ramp is used.
	Fill func(b, p int) float64
}

// WriteRaster writes a synthetic GeoTIFF at path and returns its info.
func WriteRaster(t testing.TB, path string, spec RasterSpec) raster.Info {
	t.Helper()

	if spec.XSize == 0 {
		spec.XSize = 64
	}
	if spec.YSize == 0 {
		spec.YSize = 64
	}
	if spec.Bands == 0 {
		spec.Bands = 1
	}
	if !spec.Transform.Valid() {
		spec.Transform = grid.GeoTransform{XMin: 0, YMax: float64(spec.YSize) * 10, XRes: 10, YRes: 10, CRS: "EPSG:32633"}
	}
	fill := spec.Fill
	if fill == nil {
		fill = func(b, p int) float64 { return float64(b*10 + p%211) }
	}

	info := raster.Info{
		XSize:     spec.XSize,
		YSize:     spec.YSize,
		Bands:     spec.Bands,
		Type:      spec.Type,
		Nodata:    spec.Nodata,
		HasNodata: true,
		Transform: spec.Transform,
	}
	pixels := spec.XSize * spec.YSize
	bands := make([][]float64, spec.Bands)
	for b := range bands {
		values := make([]float64, pixels)
		for p := range values {
			values[p] = fill(b, p)
		}
		bands[b] = values
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := geotiff.Write(path, info, bands, geotiff.Options{Compress: true}); err != nil {
		t.Fatalf("write raster %s: %v", path, err)
	}
	return info
}

// WriteCube lays out a local cube fixture under dir: one raster per tile and
// date plus a descriptor. It returns the descriptor path.
func WriteCube(t testing.TB, dir string, tiles, dates []string, spec RasterSpec) string {
	t.Helper()

	descriptor := "kind = \"local\"\n\n"
	bands := spec.Bands
	if bands == 0 {
		bands = 1
	}
	for b := 0; b < bands; b++ {
		descriptor += fmt.Sprintf("[[bands]]\nname = \"band%02d\"\n\n", b+1)
	}
	for _, tile := range tiles {
		descriptor += fmt.Sprintf("[[tiles]]\nid = %q\n\n", tile)
		for _, date := range dates {
			href := filepath.Join(dir, tile, date+".tif")
			WriteRaster(t, href, spec)
			descriptor += fmt.Sprintf("[[tiles.items]]\ndate = %q\nhref = %q\n\n", date, href)
		}
	}

	path := filepath.Join(dir, "cube.toml")
	if err := os.WriteFile(path, []byte(descriptor), 0o644); err != nil {
		t.Fatalf("write cube descriptor: %v", err)
	}
	return path
}
