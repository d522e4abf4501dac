package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ResetStuck returns units abandoned mid-flight (planning, processing or
// merging, typically after a crash) to pending so the next run picks them up.
func (s *Store) ResetStuck(ctx context.Context) (int64, error) {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE units SET status = ?, heartbeat_at = NULL, updated_at = ?
         WHERE status IN (?, ?, ?)`,
		StatusPending, stamp,
		StatusPlanning, StatusProcessing, StatusMerging,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck units: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed units back to pending. With no ids all failed units
// are retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE units SET status = ?, error = NULL, updated_at = ? WHERE status = ?`
	args := []any{StatusPending, stamp, StatusFailed}
	if len(ids) > 0 {
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " AND id IN (" + strings.Join(placeholders, ", ") + ")"
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed units: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes completed and recovered rows.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM units WHERE status IN (?, ?)`,
		StatusCompleted, StatusRecovered,
	)
	if err != nil {
		return 0, fmt.Errorf("clear completed units: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all ledger rows.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM units`)
	if err != nil {
		return 0, fmt.Errorf("clear units: %w", err)
	}
	return res.RowsAffected()
}
