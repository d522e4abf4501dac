package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for
	// component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for run
	// identifiers.
	FieldRunID = "run_id"
	// FieldUnitID is the standardized structured logging key for logical
	// unit identifiers.
	FieldUnitID = "unit_id"
	// FieldTile is the standardized structured logging key for tile
	// identifiers.
	FieldTile = "tile"
	// FieldBlock is the standardized structured logging key for block
	// coordinates.
	FieldBlock = "block"
)

type contextKey string

const (
	runIDKey  contextKey = "run_id"
	unitIDKey contextKey = "unit_id"
)

// ContextWithRunID stamps the run identifier onto the context.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// ContextWithUnitID stamps the logical unit identifier onto the context.
func ContextWithUnitID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, unitIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided
// context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if id, ok := ctx.Value(unitIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldUnitID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived
// from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
