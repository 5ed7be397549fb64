package querylog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/sqlext/database"
)

// setupTestDB creates a temporary test database
func setupTestDB(t *testing.T) *sqlx.DB {
	db := sqlx.MustConnect("sqlite3", path.Join(t.TempDir(), "test_query_log.db"))
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func setupTestLogger(t *testing.T) *Logger {
	logger, err := NewLogger(setupTestDB(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func TestDBInit(t *testing.T) {
	db := setupTestDB(t)
	if err := DBInit(db); err != nil {
		t.Fatalf("DBInit returned error: %v", err)
	}
	// Running it twice must be harmless.
	if err := DBInit(db); err != nil {
		t.Fatalf("Second DBInit returned error: %v", err)
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name='query_log'"); err != nil {
		t.Fatalf("Failed to query indexes: %v", err)
	}
	if count < 2 {
		t.Errorf("Expected at least 2 indexes, got %d", count)
	}
}

func TestSQLFingerprint(t *testing.T) {
	a := sqlFingerprint("SELECT *\n  FROM t WHERE id = :id")
	b := sqlFingerprint("SELECT * FROM t WHERE id = :id")
	if a != b {
		t.Error("Whitespace must not change the fingerprint")
	}
	if a == sqlFingerprint("SELECT * FROM u WHERE id = :id") {
		t.Error("Different statements should produce different fingerprints")
	}
}

func TestRecordAndQueries(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	samples := []database.Sample{
		{ID: "a", StmtID: "s1", At: base, SQL: "SELECT 1", Elapsed: time.Millisecond},
		{ID: "b", StmtID: "s2", At: base.Add(time.Second), SQL: "SELECT * FROM nowhere", Elapsed: 5 * time.Millisecond, Err: errors.New("no such table")},
		{ID: "c", StmtID: "s3", At: base.Add(2 * time.Second), SQL: "SELECT  1", Elapsed: 20 * time.Millisecond},
	}
	for _, s := range samples {
		if err := logger.Record(ctx, s); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	recent, err := logger.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Errorf("Unexpected recent entries %+v", recent)
	}
	if !recent[1].Time().Equal(base.Add(time.Second)) || recent[1].Elapsed() != 5*time.Millisecond {
		t.Errorf("Unexpected time fields %+v", recent[1])
	}
	if recent[0].Reconstructed != "SELECT  1" {
		t.Errorf("Expected the raw SQL without a statement, got %q", recent[0].Reconstructed)
	}

	failed, err := logger.Failed(ctx, 10)
	if err != nil {
		t.Fatalf("Failed returned error: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "no such table" || failed[0].Success {
		t.Errorf("Unexpected failed entries %+v", failed)
	}

	slow, err := logger.Slow(ctx, 5*time.Millisecond, 10)
	if err != nil {
		t.Fatalf("Slow returned error: %v", err)
	}
	if len(slow) != 2 || slow[0].ID != "c" {
		t.Errorf("Unexpected slow entries %+v", slow)
	}

	summaries, err := logger.Summarize(ctx, 10)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 groups, got %+v", summaries)
	}
	if summaries[0].Calls != 2 || summaries[0].ElapsedNanos != int64(21*time.Millisecond) || summaries[0].Failures != 0 {
		t.Errorf("Unexpected first group %+v", summaries[0])
	}
	if summaries[1].Failures != 1 {
		t.Errorf("Unexpected second group %+v", summaries[1])
	}
}

func TestPrune(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return now }

	old := database.Sample{ID: "old", StmtID: "s", At: now.Add(-48 * time.Hour), SQL: "SELECT 1"}
	fresh := database.Sample{ID: "fresh", StmtID: "s", At: now.Add(-time.Hour), SQL: "SELECT 1"}
	for _, s := range []database.Sample{old, fresh} {
		if err := logger.Record(ctx, s); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	n, err := logger.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deleted entry, got %d", n)
	}
	entries, _ := logger.Recent(ctx, 10)
	if len(entries) != 1 || entries[0].ID != "fresh" {
		t.Errorf("Unexpected remaining entries %+v", entries)
	}
}

func TestObserveConnection(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()

	db := sqlx.MustConnect("sqlite3", path.Join(t.TempDir(), "app.db"))
	defer db.Close()
	db.MustExec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")

	conn, err := database.OpenDB(ctx, db, database.Config{
		Observer: logger,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("OpenDB returned error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(ctx, "INSERT INTO users (id, name) VALUES (:id, :name)", database.Params{"id": 1, "name": "O'Brien"}); err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	conn.Query(ctx, "SELECT * FROM nowhere", nil)

	entries, err := logger.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if uint64(len(entries)) != conn.StatisticCount() {
		t.Fatalf("Expected one entry per sample (%d), got %d", conn.StatisticCount(), len(entries))
	}

	var inserted Entry
	for _, e := range entries {
		if e.Success {
			inserted = e
		}
	}
	want := "INSERT INTO users (id, name) VALUES ('1', 'O''Brien')"
	if inserted.Reconstructed != want {
		t.Errorf("Expected reconstruction %q, got %q", want, inserted.Reconstructed)
	}
}
