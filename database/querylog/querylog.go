// Package querylog persists the samples a database.Conn records: one row per
// execute attempt, with the SQL as written, the SQL as reconstructed with its
// bound values, the time it took and whether it failed.
package querylog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/sqlext/database"
)

// Entry represents a query log row in the database
type Entry struct {
	ID            string `db:"id"`
	Timestamp     int64  `db:"timestamp"` // unix nanoseconds
	StmtID        string `db:"stmt_id"`
	Fingerprint   string `db:"fingerprint"`
	SQL           string `db:"sql"`
	Reconstructed string `db:"reconstructed"`
	ElapsedNanos  int64  `db:"elapsed_ns"`
	Success       bool   `db:"success"`
	Error         string `db:"error"`
}

// Time is the moment the statement started.
func (e Entry) Time() time.Time {
	return time.Unix(0, e.Timestamp).UTC()
}

// Elapsed is how long the statement took.
func (e Entry) Elapsed() time.Duration {
	return time.Duration(e.ElapsedNanos)
}

// Summary aggregates the entries sharing a fingerprint.
type Summary struct {
	Fingerprint  string `db:"fingerprint"`
	SQL          string `db:"sql"`
	Calls        int64  `db:"calls"`
	Failures     int64  `db:"failures"`
	ElapsedNanos int64  `db:"elapsed_ns"`
}

// Logger stores samples in its own database. It must not share a session with
// the connection it observes.
type Logger struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger creates a new query logger instance
func NewLogger(db *sqlx.DB, logger *slog.Logger) (*Logger, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Open creates the query log at path using the sqlite3 driver.
func Open(path string, logger *slog.Logger) (*Logger, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	l, err := NewLogger(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Logger) Close() error {
	return l.db.Close()
}

// DBInit initializes the query log table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS query_log (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		stmt_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		sql TEXT NOT NULL,
		reconstructed TEXT NOT NULL,
		elapsed_ns INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_query_log_timestamp ON query_log(timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_query_log_fingerprint ON query_log(fingerprint)`)
	return err
}

// sqlFingerprint hashes the statement text with whitespace collapsed, so the
// same statement issued with different bindings groups together.
func sqlFingerprint(query string) string {
	hash := sha256.Sum256([]byte(strings.Join(strings.Fields(query), " ")))
	return hex.EncodeToString(hash[:])
}

func (l *Logger) insertEntry(ctx context.Context, e *Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO query_log (
			id, timestamp, stmt_id, fingerprint, sql,
			reconstructed, elapsed_ns, success, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID,
		e.Timestamp,
		e.StmtID,
		e.Fingerprint,
		e.SQL,
		e.Reconstructed,
		e.ElapsedNanos,
		e.Success,
		e.Error,
	)
	return err
}

// Record stores one sample.
func (l *Logger) Record(ctx context.Context, s database.Sample) error {
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	e := &Entry{
		ID:            id,
		Timestamp:     s.At.UTC().UnixNano(),
		StmtID:        s.StmtID,
		Fingerprint:   sqlFingerprint(s.SQL),
		SQL:           s.SQL,
		Reconstructed: s.ReconstructedSQL(),
		ElapsedNanos:  int64(s.Elapsed),
		Success:       s.Err == nil,
	}
	if s.Err != nil {
		e.Error = s.Err.Error()
	}
	return l.insertEntry(ctx, e)
}

// ObserveSample implements database.Observer. A failed insert is logged and
// otherwise ignored so that logging never fails the observed statement.
func (l *Logger) ObserveSample(ctx context.Context, s database.Sample) {
	if err := l.Record(context.WithoutCancel(ctx), s); err != nil {
		l.logger.Warn("Query log insert failed", "stmt_id", s.StmtID, "error", err)
	}
}

// Recent retrieves the most recent entries
func (l *Logger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.SelectContext(ctx, &entries,
		"SELECT * FROM query_log ORDER BY timestamp DESC LIMIT $1",
		limit)
	return entries, err
}

// Failed retrieves the most recent failed entries
func (l *Logger) Failed(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.SelectContext(ctx, &entries,
		"SELECT * FROM query_log WHERE success = 0 ORDER BY timestamp DESC LIMIT $1",
		limit)
	return entries, err
}

// Slow retrieves entries that took at least threshold, slowest first
func (l *Logger) Slow(ctx context.Context, threshold time.Duration, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.SelectContext(ctx, &entries,
		"SELECT * FROM query_log WHERE elapsed_ns >= $1 ORDER BY elapsed_ns DESC LIMIT $2",
		int64(threshold), limit)
	return entries, err
}

// Summarize groups entries by fingerprint, most total time first
func (l *Logger) Summarize(ctx context.Context, limit int) ([]Summary, error) {
	var summaries []Summary
	err := l.db.SelectContext(ctx, &summaries, `
		SELECT fingerprint, MIN(sql) AS sql, COUNT(*) AS calls,
			SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failures,
			SUM(elapsed_ns) AS elapsed_ns
		FROM query_log
		GROUP BY fingerprint
		ORDER BY elapsed_ns DESC
		LIMIT $1`,
		limit)
	return summaries, err
}

// Prune deletes entries older than the specified duration
func (l *Logger) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := l.now().UTC().Add(-olderThan).UnixNano()
	result, err := l.db.ExecContext(ctx, "DELETE FROM query_log WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
