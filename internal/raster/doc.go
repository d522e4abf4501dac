// Package raster defines the storage-facing primitives the pipeline reads
// and writes: the fixed DataType enumeration, per-file Info metadata, the
// windowed Dataset read interface, and Frame, the pixels-by-layers value
// table block transforms operate on. The GeoTIFF implementation lives in
// the geotiff subpackage.
package raster
