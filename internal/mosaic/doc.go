// Package mosaic stitches a unit's disjoint block files into one seamless
// output raster. An optional base file fixes the output grid and extent;
// otherwise the union of block extents defines it. Placement is
// nearest-neighbor over the inverse geotransform, never resampled, and a
// failed merge leaves no output behind.
package mosaic
