// Command cubemill is the CLI for block-wise raster cube processing: run a
// cube through a transform, preview the memory-derived block plan, inspect
// rasters, and manage the run ledger.
package main
