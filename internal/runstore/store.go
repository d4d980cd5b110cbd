// Package runstore keeps a host-side history of supervised runs: when each
// remote process was started, when it was killed, how it ended, and how
// much output it produced. The bridge client records into it so operators
// can audit what ran in a sandbox after the sandbox is gone.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/outpost-run/outpost/internal/paths"
)

type Record struct {
	RunID       string
	Pid         int
	Command     string
	StartedAt   time.Time
	KilledAt    time.Time
	Outcome     string // "killed", "kill_failed", "abandoned"
	StdoutBytes int
	StderrBytes int
}

// Outcome values persisted in the history.
const (
	OutcomeKilled     = "killed"
	OutcomeKillFailed = "kill_failed"
)

type Store struct {
	dbPath string
	now    func() time.Time
}

type Options struct {
	DBPath string
	Now    func() time.Time
}

func New(opts Options) (*Store, error) {
	dbPath := strings.TrimSpace(opts.DBPath)
	if dbPath == "" {
		var err error
		dbPath, err = paths.RunHistoryDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve run history database path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create run history directory for %q: %w", dbPath, err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store := &Store{dbPath: dbPath, now: now}
	if err := store.initDB(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) initDB(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open run history database %q: %w", s.dbPath, err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			command TEXT NOT NULL,
			started_at_unix INTEGER NOT NULL,
			killed_at_unix INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			stdout_bytes INTEGER NOT NULL,
			stderr_bytes INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at_unix);
	`)
	if err != nil {
		return fmt.Errorf("initialise run history schema: %w", err)
	}
	return nil
}

// Record inserts one completed run.
func (s *Store) Record(ctx context.Context, rec Record) error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open run history database %q: %w", s.dbPath, err)
	}
	defer db.Close()

	if rec.KilledAt.IsZero() {
		rec.KilledAt = s.now().UTC()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, pid, command, started_at_unix, killed_at_unix, outcome, stdout_bytes, stderr_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID, rec.Pid, rec.Command,
		rec.StartedAt.UTC().Unix(), rec.KilledAt.UTC().Unix(),
		rec.Outcome, rec.StdoutBytes, rec.StderrBytes,
	)
	if err != nil {
		return fmt.Errorf("insert run %q: %w", rec.RunID, err)
	}
	return nil
}

// List returns recorded runs, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open run history database %q: %w", s.dbPath, err)
	}
	defer db.Close()

	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, pid, command, started_at_unix, killed_at_unix, outcome, stdout_bytes, stderr_bytes
		FROM runs
		ORDER BY started_at_unix DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var startedAt, killedAt int64
		if err := rows.Scan(&rec.RunID, &rec.Pid, &rec.Command, &startedAt, &killedAt,
			&rec.Outcome, &rec.StdoutBytes, &rec.StderrBytes); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		rec.StartedAt = time.Unix(startedAt, 0).UTC()
		rec.KilledAt = time.Unix(killedAt, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
