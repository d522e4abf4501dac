// Package memplan sizes block jobs against an explicit memory ceiling: it
// estimates the footprint of one job, derives the worker count the ceiling
// can sustain, and picks the largest block shape that still fits, preferring
// wide, thin blocks over many small ones to keep file-open overhead down.
package memplan
