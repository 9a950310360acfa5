// Package store keeps the history of processed videos in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	"github.com/etesami/traffic-counting-system/pkg/pipeline"
)

var ErrNotFound = errors.New("run not found")

// DefaultRecentLimit bounds RecentRuns when the caller passes a non-positive limit.
const DefaultRecentLimit = 20

// Run is one processed video.
type Run struct {
	ID         string                 `json:"run_id"`
	SourceName string                 `json:"source_name"`
	OutputName string                 `json:"output_video"`
	Counts     counting.VehicleCounts `json:"vehicle_counts"`
	Total      int                    `json:"total"`
	Level      counting.TrafficLevel  `json:"traffic_level"`
	Frames     int                    `json:"frames"`
	FPS        float64                `json:"fps"`
	DurationMs int64                  `json:"duration_ms"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewRun builds a run record, with a fresh id, from a processing result.
func NewRun(sourceName, outputName string, res *pipeline.Result) *Run {
	return &Run{
		ID:         uuid.NewString(),
		SourceName: sourceName,
		OutputName: outputName,
		Counts:     res.Counts,
		Total:      res.Total,
		Level:      res.Level,
		Frames:     res.Frames,
		FPS:        res.FPS,
		DurationMs: res.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Call MigrateUp before use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun inserts r, assigning an ID and creation time when they are unset.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, source_name, output_name, car, motorcycle, bus, truck,
			total, level, frames, fps, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceName, r.OutputName,
		r.Counts[counting.Car], r.Counts[counting.Motorcycle], r.Counts[counting.Bus], r.Counts[counting.Truck],
		r.Total, string(r.Level), r.Frames, r.FPS, r.DurationMs, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

const selectRuns = `
	SELECT id, source_name, output_name, car, motorcycle, bus, truck,
		total, level, frames, fps, duration_ms, created_at
	FROM runs`

// GetRun returns the run with the given id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return r, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+" ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                     Run
		car, moto, bus, truck int
		level                 string
		createdAtMilli        int64
	)
	err := sc.Scan(&r.ID, &r.SourceName, &r.OutputName, &car, &moto, &bus, &truck,
		&r.Total, &level, &r.Frames, &r.FPS, &r.DurationMs, &createdAtMilli)
	if err != nil {
		return nil, err
	}
	r.Counts = counting.VehicleCounts{
		counting.Car:        car,
		counting.Motorcycle: moto,
		counting.Bus:        bus,
		counting.Truck:      truck,
	}
	r.Level = counting.TrafficLevel(level)
	r.CreatedAt = time.UnixMilli(createdAtMilli).UTC()
	return &r, nil
}
