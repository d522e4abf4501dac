// Package preflight provides readiness checks for the filesystem paths and
// memory budget a run depends on.
//
// These checks run in two contexts:
//   - The pipeline calls RunAll before dispatching any work. If a check
//     fails, the run halts to avoid wasting hours on a doomed job set.
//   - The CLI "cubemill status" command uses the individual check functions
//     to display environment health.
package preflight
