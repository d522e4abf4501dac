// Package artifact owns the on-disk shape of block outputs: deterministic
// file naming, the block writer that serializes result frames into
// georeferenced files with optional padding trim, and the validate-once
// resume layer that decides when an existing artifact can be reused instead
// of recomputed.
package artifact
