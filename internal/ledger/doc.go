// Package ledger persists per-unit run state in a SQLite database stored
// inside the output work directory. Rows move pending -> planning ->
// processing -> merging -> completed, with recovered for units whose merged
// output already existed and failed for units that errored. The schema is
// embedded and versioned; bump schemaVersion in schema.go when it changes.
package ledger
