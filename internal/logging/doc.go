// Package logging builds the slog stack: a human-readable console handler,
// a JSON handler, attribute helpers, and context-derived fields for run and
// unit identifiers.
package logging
