// Package runstore persists run bookkeeping (manifest rows, run status) in
// Postgres, for deployments that query run history across many run_root
// directories instead of walking the filesystem. Adapted from
// pkg/kvstore/store.go's connect/ensure-table/optimistic-version pattern:
// the same per-(tenant,project,key) versioned-row shape, here keyed by
// (run_id) with the stored value being the run's manifest JSON.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunRecord is one bookkeeping row: a run's manifest payload plus status,
// with an optimistic version for concurrent-writer safety.
type RunRecord struct {
	RunID         string
	Status        Status
	ManifestJSON  []byte
	ErrorMessage  string
	Version       int64
}

// Store defines the run-bookkeeping operations.
type Store interface {
	Upsert(ctx context.Context, rec RunRecord, expectedVersion int64) (int64, error)
	Get(ctx context.Context, runID string) (*RunRecord, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]string, error)
	Close() error
}

// PostgresStore implements Store backed by Postgres, via database/sql and
// lib/pq exactly as pkg/kvstore.PostgresStore does.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects using RUNSTORE_DATABASE_URL (falling back to
// DATABASE_URL), mirroring kvstore.NewPostgresStore's env-var fallback
// chain.
func NewPostgresStore() (*PostgresStore, error) {
	dsn := os.Getenv("RUNSTORE_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("runstore: RUNSTORE_DATABASE_URL/DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: open: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("runstore: db is required")
	}
	if err := ensureTable(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureTable(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS geo_linker_runs (
  run_id text PRIMARY KEY,
  status text NOT NULL,
  manifest jsonb NOT NULL,
  error_message text NOT NULL DEFAULT '',
  version bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
);
`
	_, err := db.Exec(ddl)
	return err
}

// Upsert inserts or updates a run row with optimistic-version checking,
// following kvstore.PostgresStore.Put's transaction shape.
func (s *PostgresStore) Upsert(ctx context.Context, rec RunRecord, expectedVersion int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var currentVersion int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM geo_linker_runs WHERE run_id=$1`, rec.RunID).Scan(&currentVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if expectedVersion > 0 {
				return 0, fmt.Errorf("runstore: version mismatch: expected %d but run missing", expectedVersion)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO geo_linker_runs (run_id, status, manifest, error_message, version) VALUES ($1,$2,$3,$4,1)`,
				rec.RunID, rec.Status, rec.ManifestJSON, rec.ErrorMessage)
			if err != nil {
				return 0, err
			}
			if err := tx.Commit(); err != nil {
				return 0, err
			}
			return 1, nil
		}
		return 0, err
	}
	if expectedVersion > 0 && currentVersion != expectedVersion {
		return 0, fmt.Errorf("runstore: version mismatch: expected %d got %d", expectedVersion, currentVersion)
	}
	nextVersion := currentVersion + 1
	_, err = tx.ExecContext(ctx,
		`UPDATE geo_linker_runs SET status=$1, manifest=$2, error_message=$3, version=$4, updated_at=now() WHERE run_id=$5`,
		rec.Status, rec.ManifestJSON, rec.ErrorMessage, nextVersion, rec.RunID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return nextVersion, nil
}

func (s *PostgresStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status, manifest, error_message, version FROM geo_linker_runs WHERE run_id=$1`, runID).
		Scan(&status, &rec.ManifestJSON, &rec.ErrorMessage, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.RunID = runID
	rec.Status = Status(status)
	return &rec, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM geo_linker_runs WHERE status=$1 ORDER BY updated_at DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
