package housekeeping

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite3: %v", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE projection_dedupe (idempotency_key TEXT PRIMARY KEY, applied_at TEXT NOT NULL);
		CREATE TABLE decoder_status (decoder_id TEXT PRIMARY KEY, last_seen TEXT NOT NULL);
	`); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPruneDedupeLedgerRemovesOnlyOldRows(t *testing.T) {
	db := newTestDB(t)

	old := time.Now().UTC().Add(-48 * time.Hour).Format("2006-01-02 15:04:05")
	fresh := time.Now().UTC().Format("2006-01-02 15:04:05")
	db.MustExec("INSERT INTO projection_dedupe (idempotency_key, applied_at) VALUES (?, ?)", "old-key", old)
	db.MustExec("INSERT INTO projection_dedupe (idempotency_key, applied_at) VALUES (?, ?)", "fresh-key", fresh)

	pruneDedupeLedger(db, 24*time.Hour)

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM projection_dedupe"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 surviving row, got %d", count)
	}

	var remaining string
	if err := db.Get(&remaining, "SELECT idempotency_key FROM projection_dedupe"); err != nil {
		t.Fatalf("get remaining key: %v", err)
	}
	if remaining != "fresh-key" {
		t.Fatalf("expected fresh-key to survive, got %q", remaining)
	}
}

func TestSweepStaleDecodersDoesNotMutateTable(t *testing.T) {
	db := newTestDB(t)

	old := time.Now().UTC().Add(-1 * time.Hour).Format("2006-01-02 15:04:05")
	db.MustExec("INSERT INTO decoder_status (decoder_id, last_seen) VALUES (?, ?)", "D0000C01", old)

	sweepStaleDecoders(db, 5*time.Minute)

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM decoder_status"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected sweep to only log, not delete; got %d rows", count)
	}
}

func TestParseDurationFallsBackOnInvalidInput(t *testing.T) {
	got := parseDuration("not-a-duration", 5*time.Minute)
	if got != 5*time.Minute {
		t.Fatalf("expected fallback duration, got %v", got)
	}

	got = parseDuration("10s", 5*time.Minute)
	if got != 10*time.Second {
		t.Fatalf("expected parsed duration 10s, got %v", got)
	}
}
