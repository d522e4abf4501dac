// Package pipeline drives the full processing flow for a set of units:
// memory plan, block partition, parallel block jobs, and the final merge,
// with file-based resume at both the block and the unit level. Units run in
// parallel under one global worker budget so the memory ceiling holds no
// matter how work is distributed. A flock on the output work directory keeps
// two runs from interleaving writes.
package pipeline
