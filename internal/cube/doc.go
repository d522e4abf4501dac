// Package cube models the metadata of a data cube: tiles, bands, and time
// steps, each backed by a raster file, with a closed Kind enumeration in
// place of open-ended runtime class tagging. Units derived from a cube are
// the logical processing units of the pipeline.
package cube
