package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes decoded track-client events to the raw ingest stream
// and operator intents to the race control stream, both with an
// idempotency-key header so JetStream's duplicate window suppresses
// redelivered publishes.
type Publisher struct {
	js jetstream.JetStream
}

// PublishOutcome reports whether JetStream recognized the publish as a
// duplicate of one already stored within the stream's dedupe window.
type PublishOutcome struct {
	Duplicate bool
}

// Connect provisions the three JetStream streams this system depends on
// and returns a Publisher bound to js.
func Connect(ctx context.Context, js jetstream.JetStream) (*Publisher, error) {
	if err := ProvisionStreams(ctx, js); err != nil {
		return nil, err
	}
	return &Publisher{js: js}, nil
}

// PublishEvent wraps a single decoded track-client event in a raw ingest
// envelope and publishes it to the track's raw subject, keyed for dedupe by
// (track_id, client_id, boot_id, seq).
func (p *Publisher) PublishEvent(ctx context.Context, event contracts.TrackIngestEvent) (*PublishOutcome, error) {
	subject := contracts.BuildRawIngestSubject(event.TrackID)
	msgID := contracts.BuildIdempotencyKey(event.TrackID, event.EventIDContext)
	envelope := contracts.BuildRawIngestEnvelope(event, uint64(time.Now().UnixMicro()))

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("ingest: marshal raw ingest envelope: %w", err)
	}

	return p.publish(ctx, subject, msgID, payload)
}

// PublishRaceControlIntent publishes an already-built operator intent
// envelope to the track's race control subject, keyed for dedupe by the
// envelope's own event ID.
func (p *Publisher) PublishRaceControlIntent(ctx context.Context, envelope contracts.RaceControlIntentEnvelopeV1) (*PublishOutcome, error) {
	subject := contracts.BuildRaceControlSubject(envelope.TrackID)

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("ingest: marshal race control envelope: %w", err)
	}

	return p.publish(ctx, subject, envelope.EventID, payload)
}

func (p *Publisher) publish(ctx context.Context, subject, msgID string, payload []byte) (*PublishOutcome, error) {
	msg := &nats.Msg{
		Subject: subject,
		Data:    payload,
		Header:  nats.Header{"Nats-Msg-Id": []string{msgID}},
	}

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("ingest: publish to %s: %w", subject, err)
	}

	return &PublishOutcome{Duplicate: ack.Duplicate}, nil
}
