package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// Commit statuses recorded in the ledger.
const (
	CommitPending   = "pending"
	CommitCommitted = "committed"
	CommitFailed    = "failed"
)

// CommitRecord is one ledger row.
type CommitRecord struct {
	IndexName  string
	Generation uint64
	Status     string
	Puts       int
	Deletes    int
	DocCount   uint64
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// Ledger is the commit history of one or more indexes, kept in SQLite next
// to the index directory. A row is written as pending before the engine
// batch and finalized after it; Reconcile settles rows left pending by a
// crash using the generation the engine actually persisted.
type Ledger struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS commits (
	index_name  TEXT    NOT NULL,
	generation  INTEGER NOT NULL,
	status      TEXT    NOT NULL,
	puts        INTEGER NOT NULL DEFAULT 0,
	deletes     INTEGER NOT NULL DEFAULT 0,
	doc_count   INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT    NOT NULL,
	finished_at TEXT,
	error       TEXT,
	PRIMARY KEY (index_name, generation)
);
CREATE INDEX IF NOT EXISTS idx_commits_status ON commits(index_name, status);
`

// OpenLedger opens or creates the ledger database at path.
// An empty path opens an in-memory ledger.
func OpenLedger(path string) (*Ledger, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFilePermission, "create ledger directory", err).WithDetail("path", dir)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEngineIO, "open ledger", err).WithDetail("path", path)
	}

	// Single connection: one writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path == "" {
		pragmas = pragmas[1:]
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, amerrors.New(amerrors.ErrCodeEngineIO, "configure ledger", err).WithDetail("pragma", pragma)
		}
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, amerrors.New(amerrors.ErrCodeEngineIO, "create ledger schema", err).WithDetail("path", path)
	}

	return &Ledger{db: db, path: path}, nil
}

// Begin records rec as pending. A previous row for the same generation,
// left by a failed attempt, is replaced.
func (l *Ledger) Begin(ctx context.Context, rec CommitRecord) error {
	return l.exec(ctx, "begin commit",
		`INSERT OR REPLACE INTO commits (index_name, generation, status, puts, deletes, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.IndexName, int64(rec.Generation), CommitPending, rec.Puts, rec.Deletes, formatTime(rec.StartedAt))
}

// Finish settles a pending row as committed or failed.
func (l *Ledger) Finish(ctx context.Context, indexName string, gen uint64, status string, docCount uint64, cause error) error {
	var msg sql.NullString
	if cause != nil {
		msg = sql.NullString{String: cause.Error(), Valid: true}
	}
	return l.exec(ctx, "finish commit",
		`UPDATE commits SET status = ?, doc_count = ?, finished_at = ?, error = ?
		 WHERE index_name = ? AND generation = ?`,
		status, int64(docCount), formatTime(time.Now()), msg, indexName, int64(gen))
}

// Reconcile settles rows left pending: those at or below the engine's
// persisted generation were committed, the rest failed. It returns the
// number of rows settled.
func (l *Ledger) Reconcile(ctx context.Context, indexName string, committed uint64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, amerrors.New(amerrors.ErrCodeEngineIO, "reconcile ledger", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	up, err := tx.ExecContext(ctx,
		`UPDATE commits SET status = ?, finished_at = ? WHERE index_name = ? AND status = ? AND generation <= ?`,
		CommitCommitted, now, indexName, CommitPending, int64(committed))
	if err != nil {
		return 0, amerrors.New(amerrors.ErrCodeEngineIO, "reconcile ledger", err)
	}
	down, err := tx.ExecContext(ctx,
		`UPDATE commits SET status = ?, finished_at = ?, error = ? WHERE index_name = ? AND status = ? AND generation > ?`,
		CommitFailed, now, "interrupted before the engine persisted the batch", indexName, CommitPending, int64(committed))
	if err != nil {
		return 0, amerrors.New(amerrors.ErrCodeEngineIO, "reconcile ledger", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, amerrors.New(amerrors.ErrCodeEngineIO, "reconcile ledger", err)
	}

	n1, _ := up.RowsAffected()
	n2, _ := down.RowsAffected()
	if n1+n2 > 0 {
		slog.Info("ledger_reconciled",
			slog.String("index", indexName),
			slog.Uint64("generation", committed),
			slog.Int64("committed", n1),
			slog.Int64("failed", n2))
	}
	return int(n1 + n2), nil
}

// History returns the most recent commits of an index, newest first.
func (l *Ledger) History(ctx context.Context, indexName string, limit int) ([]CommitRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT index_name, generation, status, puts, deletes, doc_count, started_at,
		        COALESCE(finished_at, ''), COALESCE(error, '')
		 FROM commits WHERE index_name = ? ORDER BY generation DESC, started_at DESC LIMIT ?`,
		indexName, limit)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEngineIO, "read ledger", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CommitRecord
	for rows.Next() {
		var (
			rec               CommitRecord
			gen, docs         int64
			started, finished string
		)
		if err := rows.Scan(&rec.IndexName, &gen, &rec.Status, &rec.Puts, &rec.Deletes, &docs,
			&started, &finished, &rec.Error); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeEngineIO, "read ledger", err)
		}
		rec.Generation = uint64(gen)
		rec.DocCount = uint64(docs)
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTime(finished)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEngineIO, "read ledger", err)
	}
	return out, nil
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func (l *Ledger) exec(ctx context.Context, op, stmt string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if _, err := l.db.ExecContext(ctx, stmt, args...); err != nil {
		return amerrors.New(amerrors.ErrCodeEngineIO, op, err).WithDetail("ledger", l.path)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LedgerPath returns the conventional ledger location for an index directory.
func LedgerPath(indexPath string) string {
	if indexPath == "" {
		return ""
	}
	return fmt.Sprintf("%s.ledger.db", indexPath)
}
