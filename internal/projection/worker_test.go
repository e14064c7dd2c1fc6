package projection

import (
	"context"
	"testing"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/p3message"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const testSchema = `
CREATE TABLE projection_dedupe (
	idempotency_key TEXT PRIMARY KEY,
	applied_at      TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE decoder_status (
	decoder_id  TEXT PRIMARY KEY,
	noise       INTEGER,
	temperature INTEGER,
	gps_status  INTEGER,
	satellites  INTEGER,
	last_seen   TEXT NOT NULL DEFAULT (datetime('now'))
);
`

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite3: %v", err)
	}
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func statusEnvelope(decoderID string, eventCtx contracts.EventIDContext) *contracts.RawIngestEnvelopeV1 {
	return &contracts.RawIngestEnvelopeV1{
		EventID:        "evt-1",
		TrackID:        "track-1",
		EventIDContext: eventCtx,
		CapturedAtUs:   1_000,
		MessageType:    "STATUS",
		Payload: contracts.Message{
			MessageType: "STATUS",
			Status: &p3message.StatusMessage{
				Noise:       10,
				GpsStatus:   1,
				Temperature: 25,
				Satellites:  8,
				DecoderID:   &decoderID,
			},
		},
	}
}

func TestProcessEnvelopeAppliesDecoderStatus(t *testing.T) {
	db := newTestDB(t)
	w := NewWorker(db)

	envelope := statusEnvelope("D0000C01", contracts.EventIDContext{ClientID: "client-1", BootID: "boot-1", Seq: 1})

	if err := w.processEnvelope(context.Background(), envelope); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var noise int
	if err := db.Get(&noise, "SELECT noise FROM decoder_status WHERE decoder_id = ?", "D0000C01"); err != nil {
		t.Fatalf("query decoder_status: %v", err)
	}
	if noise != 10 {
		t.Fatalf("expected noise 10, got %d", noise)
	}
}

func TestProcessEnvelopeSkipsNonStatusMessages(t *testing.T) {
	db := newTestDB(t)
	w := NewWorker(db)

	envelope := &contracts.RawIngestEnvelopeV1{
		EventID:        "evt-2",
		TrackID:        "track-1",
		EventIDContext: contracts.EventIDContext{ClientID: "client-1", BootID: "boot-1", Seq: 2},
		MessageType:    "PASSING",
		Payload:        contracts.Message{MessageType: "PASSING", Passing: &p3message.PassingMessage{TransponderID: 1001}},
	}

	if err := w.processEnvelope(context.Background(), envelope); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM decoder_status"); err != nil {
		t.Fatalf("count decoder_status: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no decoder_status rows, got %d", count)
	}

	var dedupeCount int
	if err := db.Get(&dedupeCount, "SELECT COUNT(*) FROM projection_dedupe"); err != nil {
		t.Fatalf("count projection_dedupe: %v", err)
	}
	if dedupeCount != 1 {
		t.Fatalf("expected 1 dedupe row even for a skipped non-status message, got %d", dedupeCount)
	}
}

func TestProcessEnvelopeDuplicateIsANoOpSecondTime(t *testing.T) {
	db := newTestDB(t)
	w := NewWorker(db)

	eventCtx := contracts.EventIDContext{ClientID: "client-1", BootID: "boot-1", Seq: 3}
	envelope := statusEnvelope("D0000C02", eventCtx)

	if err := w.processEnvelope(context.Background(), envelope); err != nil {
		t.Fatalf("unexpected error on first apply: %v", err)
	}

	if _, err := db.Exec("UPDATE decoder_status SET noise = 999 WHERE decoder_id = ?", "D0000C02"); err != nil {
		t.Fatalf("mutate decoder_status for test setup: %v", err)
	}

	if err := w.processEnvelope(context.Background(), envelope); err != nil {
		t.Fatalf("unexpected error on redelivered duplicate: %v", err)
	}

	var noise int
	if err := db.Get(&noise, "SELECT noise FROM decoder_status WHERE decoder_id = ?", "D0000C02"); err != nil {
		t.Fatalf("query decoder_status: %v", err)
	}
	if noise != 999 {
		t.Fatalf("expected duplicate redelivery to skip reapplying (noise still 999), got %d", noise)
	}
}
