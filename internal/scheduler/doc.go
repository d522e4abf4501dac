// Package scheduler runs per-block jobs across a bounded worker pool. Jobs
// are independent: no shared mutable state, no ordering dependency during
// execution, results reassembled by block index afterward. A shared Budget
// keeps the total number of running jobs within the concurrency the memory
// plan derived, even when several units are processed in parallel.
package scheduler
