// Package projection implements the decoder-status projection worker (C8):
// a single durable consumer on the raw ingest stream that keeps a small
// SQLite table of each decoder's last-known health reading, deduplicating
// redelivered messages against a ledger table rather than the race engine's
// in-memory state.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/ingest"
	"github.com/bmxtiming/p3server/internal/p3message"
	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go/jetstream"
)

const decoderStatusConsumerName = "projection_decoder_status_v1"

// Worker consumes the raw ingest stream and projects decoder STATUS
// messages into the decoder_status table, mirroring each upsert into a
// JetStream key-value bucket so the API can serve a dashboard snapshot
// without opening this worker's database.
type Worker struct {
	db *sqlx.DB
	kv jetstream.KeyValue
}

// NewWorker returns a Worker that projects into db.
func NewWorker(db *sqlx.DB) *Worker {
	return &Worker{db: db}
}

// Run provisions the raw ingest stream and the decoder-status KV bucket,
// then processes messages until ctx is canceled or the consumer stream
// closes.
func (w *Worker) Run(ctx context.Context, js jetstream.JetStream) error {
	if err := ingest.ProvisionRawIngestStream(ctx, js); err != nil {
		return err
	}

	kv, err := ingest.ProvisionDecoderStatusKV(ctx, js)
	if err != nil {
		return err
	}
	w.kv = kv

	stream, err := js.Stream(ctx, contracts.RawIngestStreamName)
	if err != nil {
		return fmt.Errorf("projection: get raw ingest stream: %w", err)
	}

	consumer, err := ingest.GetOrCreateConsumer(ctx, stream, decoderStatusConsumerName, contracts.RawIngestSubjectPattern)
	if err != nil {
		return fmt.Errorf("projection: get or create consumer: %w", err)
	}

	messages, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("projection: subscribe messages: %w", err)
	}
	defer messages.Stop()

	plog.Infof("projection worker started: consumer=%s subject=%s", decoderStatusConsumerName, contracts.RawIngestSubjectPattern)

	msgCh, errCh := make(chan jetstream.Msg), make(chan error, 1)
	go func() {
		defer close(msgCh)
		for {
			msg, err := messages.Next()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-msgCh:
			if !ok {
				if err := <-errCh; err != nil {
					plog.Warnf("raw ingest consumer stream closed: %v", err)
				}
				return nil
			}
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var envelope contracts.RawIngestEnvelopeV1
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		plog.Warnf("projection: failed to parse raw ingest envelope, acking poison message: %v", err)
		if ackErr := msg.Ack(); ackErr != nil {
			plog.Errorf("projection: failed to ack poison message: %v", ackErr)
		}
		return
	}

	if err := w.processEnvelope(ctx, &envelope); err != nil {
		plog.Warnf("projection: processing failed for track %s, leaving message unacked: %v", envelope.TrackID, err)
		return
	}

	if err := msg.Ack(); err != nil {
		plog.Errorf("projection: failed to ack processed message: %v", err)
	}
}

// processEnvelope applies envelope's decoder-status projection, returning
// nil whether it was freshly applied or already seen — both ack the
// message; only a genuine processing error (a failed query) leaves it
// unacked for redelivery.
func (w *Worker) processEnvelope(ctx context.Context, envelope *contracts.RawIngestEnvelopeV1) error {
	idempotencyKey := contracts.BuildIdempotencyKey(envelope.TrackID, envelope.EventIDContext)

	dedupeSQL, dedupeArgs, err := sq.Insert("projection_dedupe").
		Columns("idempotency_key").
		Values(idempotencyKey).
		Suffix("ON CONFLICT(idempotency_key) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build dedupe insert: %w", err)
	}

	result, err := w.db.ExecContext(ctx, dedupeSQL, dedupeArgs...)
	if err != nil {
		return fmt.Errorf("insert dedupe row: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read dedupe rows affected: %w", err)
	}
	if rows == 0 {
		return nil
	}

	status := envelope.Payload.Status
	if status == nil || status.DecoderID == nil {
		return nil
	}

	upsertSQL, upsertArgs, err := sq.Insert("decoder_status").
		Columns("decoder_id", "noise", "temperature", "gps_status", "satellites", "last_seen").
		Values(*status.DecoderID, status.Noise, status.Temperature, status.GpsStatus, status.Satellites, sq.Expr("datetime('now')")).
		Suffix("ON CONFLICT(decoder_id) DO UPDATE SET "+
			"noise = excluded.noise, "+
			"temperature = excluded.temperature, "+
			"gps_status = excluded.gps_status, "+
			"satellites = excluded.satellites, "+
			"last_seen = datetime('now')").
		ToSql()
	if err != nil {
		return fmt.Errorf("build decoder_status upsert: %w", err)
	}

	if _, err := w.db.ExecContext(ctx, upsertSQL, upsertArgs...); err != nil {
		return fmt.Errorf("upsert decoder_status: %w", err)
	}

	if err := w.mirrorToKV(ctx, status); err != nil {
		// The database upsert already landed; a KV mirror failure only
		// stales the dashboard snapshot and is not worth redelivering the
		// whole message over.
		plog.Warnf("projection: mirror decoder_status for %s to kv: %v", *status.DecoderID, err)
	}

	return nil
}

// mirrorToKV writes status into the decoder-status KV bucket keyed by
// decoder_id, giving the API a durable, non-database source for a
// dashboard decoder-channel snapshot.
func (w *Worker) mirrorToKV(ctx context.Context, status *p3message.StatusMessage) error {
	if w.kv == nil {
		return nil
	}

	noise := int64(status.Noise)
	temperature := int64(status.Temperature)
	gpsStatus := int64(status.GpsStatus)
	satellites := int64(status.Satellites)
	lastSeen := time.Now().UTC().Format(time.RFC3339)

	row := contracts.DecoderStatusRowV1{
		DecoderID:   *status.DecoderID,
		Noise:       &noise,
		Temperature: &temperature,
		GpsStatus:   &gpsStatus,
		Satellites:  &satellites,
		LastSeen:    &lastSeen,
	}

	encoded, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal decoder_status row: %w", err)
	}

	_, err = w.kv.Put(ctx, *status.DecoderID, encoded)
	return err
}
