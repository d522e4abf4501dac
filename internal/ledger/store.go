package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cubemill/internal/artifact"
	"cubemill/internal/config"
)

// Store manages run ledger persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database under the output work directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	workDir := filepath.Join(cfg.Paths.OutputDir, artifact.WorkDirName)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	dbPath := filepath.Join(workDir, "ledger.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the ledger database file.
func (s *Store) Path() string {
	return s.path
}

// StartUnit registers a unit for the given run and returns its row. If the unit
// already exists in a terminal failed state it is reset to pending so the run
// can retry it; completed and recovered rows are returned unchanged.
func (s *Store) StartUnit(ctx context.Context, runID, unitID, tile string) (*Unit, error) {
	existing, err := s.FindUnit(ctx, runID, unitID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	if existing != nil {
		if existing.Status == StatusFailed {
			if _, err := s.db.ExecContext(
				ctx,
				`UPDATE units SET status = ?, error = NULL, updated_at = ? WHERE id = ?`,
				StatusPending, stamp, existing.ID,
			); err != nil {
				return nil, fmt.Errorf("reset failed unit: %w", err)
			}
			existing.Status = StatusPending
			existing.ErrorMessage = ""
			existing.UpdatedAt = now
		}
		return existing, nil
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO units (run_id, unit_id, tile, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		runID, unitID, tile, StatusPending, stamp, stamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert unit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("unit id: %w", err)
	}
	return &Unit{
		ID:        id,
		RunID:     runID,
		UnitID:    unitID,
		Tile:      tile,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetStatus moves a unit to the given status.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("unknown status %q", status)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE units SET status = ?, updated_at = ? WHERE id = ?`,
		status, stamp, id,
	); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// SetBlocks records the planned block count for a unit.
func (s *Store) SetBlocks(ctx context.Context, id int64, total int) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE units SET blocks_total = ?, updated_at = ? WHERE id = ?`,
		total, stamp, id,
	); err != nil {
		return fmt.Errorf("set block total: %w", err)
	}
	return nil
}

// RecordProgress updates block counters and refreshes the heartbeat.
func (s *Store) RecordProgress(ctx context.Context, id int64, done, skipped int) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE units SET blocks_done = ?, blocks_skipped = ?, heartbeat_at = ?, updated_at = ? WHERE id = ?`,
		done, skipped, stamp, stamp, id,
	); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// MarkCompleted finishes a unit and records its merged output path.
func (s *Store) MarkCompleted(ctx context.Context, id int64, outputPath string) error {
	return s.finish(ctx, id, StatusCompleted, outputPath, "")
}

// MarkRecovered records that a unit's merged output already existed and was kept.
func (s *Store) MarkRecovered(ctx context.Context, id int64, outputPath string) error {
	return s.finish(ctx, id, StatusRecovered, outputPath, "")
}

// MarkFailed records a unit failure with the given message.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.finish(ctx, id, StatusFailed, "", message)
}

func (s *Store) finish(ctx context.Context, id int64, status Status, outputPath, message string) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE units SET status = ?, output_path = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, nullable(outputPath), nullable(message), stamp, id,
	); err != nil {
		return fmt.Errorf("finish unit: %w", err)
	}
	return nil
}

// FindUnit returns the row for a run/unit pair, or sql.ErrNoRows.
func (s *Store) FindUnit(ctx context.Context, runID, unitID string) (*Unit, error) {
	row := s.db.QueryRowContext(
		ctx,
		selectColumns+` WHERE run_id = ? AND unit_id = ?`,
		runID, unitID,
	)
	unit, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find unit: %w", err)
	}
	return unit, nil
}

// List returns units, optionally filtered by status, ordered by creation.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Unit, error) {
	query := selectColumns
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []*Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// Stats returns unit counts per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM units GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

const selectColumns = `SELECT id, run_id, unit_id, tile, status,
    blocks_total, blocks_done, blocks_skipped,
    output_path, error, created_at, updated_at, heartbeat_at
  FROM units`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*Unit, error) {
	var unit Unit
	var output, errMsg, heartbeat sql.NullString
	var created, updated string
	if err := row.Scan(
		&unit.ID, &unit.RunID, &unit.UnitID, &unit.Tile, &unit.Status,
		&unit.BlocksTotal, &unit.BlocksDone, &unit.BlocksSkipped,
		&output, &errMsg, &created, &updated, &heartbeat,
	); err != nil {
		return nil, err
	}
	unit.OutputPath = output.String
	unit.ErrorMessage = errMsg.String
	unit.CreatedAt = parseTime(created)
	unit.UpdatedAt = parseTime(updated)
	if heartbeat.Valid {
		unit.HeartbeatAt = parseTime(heartbeat.String)
	}
	return &unit, nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
