// Package ingest provides the raw-ingest publisher (C5): envelope
// construction, JetStream stream provisioning, and duplicate-aware publish.
// The race worker and projection worker reuse the stream provisioning
// helpers here so the three JetStream streams this system depends on are
// always created with one shared definition.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/nats-io/nats.go/jetstream"
)

// ProvisionStreams idempotently creates or updates the raw ingest, race
// events, and race control streams. Safe to call from every process role
// at startup; JetStream stream config updates are themselves idempotent.
func ProvisionStreams(ctx context.Context, js jetstream.JetStream) error {
	if err := ProvisionRawIngestStream(ctx, js); err != nil {
		return err
	}
	if err := ProvisionRaceEventsStream(ctx, js); err != nil {
		return err
	}
	if err := ProvisionRaceControlStream(ctx, js); err != nil {
		return err
	}
	return nil
}

// ProvisionRawIngestStream idempotently creates or updates only the raw
// ingest stream, matching the original's narrower
// connect_jetstream_and_provision_raw_ingest used by the projection worker,
// which never touches the other two streams.
func ProvisionRawIngestStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.CreateOrUpdateStream(ctx, rawIngestStreamConfig()); err != nil {
		return fmt.Errorf("ingest: provision raw ingest stream: %w", err)
	}
	return nil
}

// ProvisionRaceEventsStream idempotently creates or updates only the race
// events stream.
func ProvisionRaceEventsStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.CreateOrUpdateStream(ctx, raceEventsStreamConfig()); err != nil {
		return fmt.Errorf("ingest: provision race events stream: %w", err)
	}
	return nil
}

// ProvisionRaceControlStream idempotently creates or updates only the race
// control stream.
func ProvisionRaceControlStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.CreateOrUpdateStream(ctx, raceControlStreamConfig()); err != nil {
		return fmt.Errorf("ingest: provision race control stream: %w", err)
	}
	return nil
}

func rawIngestStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:              contracts.RawIngestStreamName,
		Subjects:          []string{contracts.RawIngestSubjectPattern},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            time.Duration(contracts.RawIngestMaxAgeSecs) * time.Second,
		MaxBytes:          contracts.RawIngestMaxBytes,
		Discard:           jetstream.DiscardOld,
		Duplicates:        time.Duration(contracts.RawIngestDupWindowSecs) * time.Second,
		Storage:           jetstream.FileStorage,
	}
}

func raceEventsStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       contracts.RaceEventsStreamName,
		Subjects:   []string{contracts.RaceEventsSubjectPattern},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     time.Duration(contracts.RaceEventsMaxAgeSecs) * time.Second,
		MaxBytes:   contracts.RaceEventsMaxBytes,
		Discard:    jetstream.DiscardOld,
		Duplicates: time.Duration(contracts.RaceEventsDupWindowSecs) * time.Second,
		Storage:    jetstream.FileStorage,
	}
}

func raceControlStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       contracts.RaceControlStreamName,
		Subjects:   []string{contracts.RaceControlSubjectPattern},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     time.Duration(contracts.RaceControlMaxAgeSecs) * time.Second,
		MaxBytes:   contracts.RaceControlMaxBytes,
		Discard:    jetstream.DiscardOld,
		Duplicates: time.Duration(contracts.RaceControlDupWindowSecs) * time.Second,
		Storage:    jetstream.FileStorage,
	}
}

// ProvisionDecoderStatusKV idempotently creates (or fetches) the JetStream
// key-value bucket the projection worker mirrors decoder_status rows into
// and the API reads to build a dashboard decoder-channel snapshot. A KV
// bucket is itself a JetStream stream under the hood, so this keeps the
// decoder_status projection's sqlite3 database reachable from exactly one
// process while still giving the API something durable to read from.
func ProvisionDecoderStatusKV(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, contracts.DecoderStatusKVBucketName)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  contracts.DecoderStatusKVBucketName,
		History: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: provision decoder status kv bucket: %w", err)
	}
	return kv, nil
}

// GetOrCreateConsumer returns the named durable pull consumer, creating it
// filtered to filterSubject with explicit acking if it does not yet exist.
func GetOrCreateConsumer(ctx context.Context, stream jetstream.Stream, durableName, filterSubject string) (jetstream.Consumer, error) {
	consumer, err := stream.Consumer(ctx, durableName)
	if err == nil {
		return consumer, nil
	}

	return stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
}
