// Package identitystore persists the identities of a run so a later run can
// replay them as a partial order, for example to re-run only what failed.
package identitystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
)

// ErrRunNotFound is returned by Load for a run with no stored identities.
var ErrRunNotFound = errors.New("identitystore: run not found")

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Run summarizes one stored run.
type Run struct {
	RunID   string
	Count   int
	SavedAt time.Time
}

// Store reads and writes run identities.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	logger  *slog.Logger
}

// New migrates the schema and returns a store over db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if dialect != Postgres && dialect != SQLite {
		return nil, fmt.Errorf("identitystore: unsupported dialect %q", dialect)
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		logger:  slog.Default().With("component", "identitystore"),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate identity store: %w", err)
	}
	return s, nil
}

// WithClock replaces the clock used to stamp saved runs.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS run_identities (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			identity TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Save replaces the identities stored for runID.
func (s *Store) Save(ctx context.Context, runID string, sp *spec.Spec, ids []spec.Identity) (err error) {
	encoded := make([]string, len(ids))
	for i, id := range ids {
		if encoded[i], err = sp.SerializeIdentity(id); err != nil {
			return fmt.Errorf("failed to serialize identity %s: %w", id, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	del := "DELETE FROM run_identities WHERE run_id = " + s.dialect.placeholder(1)
	if _, err = tx.ExecContext(ctx, del, runID); err != nil {
		return fmt.Errorf("failed to clear run %s: %w", runID, err)
	}
	insert := fmt.Sprintf("INSERT INTO run_identities (run_id, seq, identity, saved_at) VALUES (%s, %s, %s, %s)",
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3), s.dialect.placeholder(4))
	savedAt := s.now().UTC().Format(time.RFC3339Nano)
	for i, e := range encoded {
		if _, err = tx.ExecContext(ctx, insert, runID, i, e, savedAt); err != nil {
			return fmt.Errorf("failed to persist identity %d of run %s: %w", i, runID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", runID, err)
	}
	s.logger.DebugContext(ctx, "saved run identities", "run_id", runID, "count", len(encoded))
	return nil
}

// Load returns the identities of runID in saved order, bound to sp.
// Identities naming sections or checks sp does not have are rejected.
func (s *Store) Load(ctx context.Context, runID string, sp *spec.Spec) ([]spec.Identity, error) {
	query := "SELECT identity FROM run_identities WHERE run_id = " + s.dialect.placeholder(1) + " ORDER BY seq"
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []spec.Identity
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, err
		}
		id, err := sp.DeserializeIdentity(encoded)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return ids, nil
}

// Runs lists the stored runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	query := `
		SELECT run_id, COUNT(*), MAX(saved_at)
		FROM run_identities
		GROUP BY run_id
		ORDER BY MAX(saved_at) DESC, run_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var savedAt string
		if err := rows.Scan(&r.RunID, &r.Count, &savedAt); err != nil {
			return nil, err
		}
		if r.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
			return nil, fmt.Errorf("run %s has a bad timestamp: %w", r.RunID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
