// Package grid holds the pixel-space and geographic geometry primitives the
// processing pipeline is built on.
//
// A Block is a rectangular pixel region addressed with 1-based row/col
// coordinates, matching the convention of the raster windows it is read from
// and written to. Partition covers an image with blocks in row-major order,
// optionally padding each block with an overlap margin whose inner crop
// rectangle records what survives trimming. GeoTransform converts between
// blocks and georeferenced bounding boxes using the affine north-up transform
// of the source raster.
//
// Everything in this package is a plain value type; partitioning and
// conversions are pure functions so callers can rely on deterministic block
// covers regardless of scheduling order.
package grid
