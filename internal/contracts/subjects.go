package contracts

import "fmt"

// JetStream subject patterns. The spec's logical subject names (raw.<id>,
// events.<id>, control.<id>) are the caller-facing contract; internally they
// are namespaced onto these patterns so a single NATS deployment can host
// this system alongside others without subject collisions. Every producer
// and consumer in this module goes through the builders below, so the two
// naming schemes never diverge in practice.
const (
	RawIngestSubjectPattern    = "timing.ingest.raw.v1.*"
	RaceEventsSubjectPattern   = "timing.race.events.v1.*"
	RaceControlSubjectPattern = "timing.race.control.v1.*"
)

// JetStream stream names.
const (
	RawIngestStreamName  = "timing_ingest_raw_v1"
	RaceEventsStreamName = "timing_race_events_v1"
	RaceControlStreamName = "timing_race_control_v1"
)

// DecoderStatusKVBucketName names the JetStream key-value bucket C8 mirrors
// decoder_status into. The relational store itself is only ever opened by
// the projection worker; the dashboard socket's decoder-channel snapshot
// reads this bucket instead of reaching into that database from the API
// process.
const DecoderStatusKVBucketName = "timing_decoder_status_v1"

// JetStream stream provisioning constants, adopted from the original
// publisher's stream configuration since the spec leaves exact retention
// values unspecified.
const (
	RawIngestMaxAgeSecs    = 7 * 24 * 60 * 60
	RawIngestMaxBytes      = 1 << 30 // 1 GiB
	RawIngestDupWindowSecs = 10 * 60

	RaceEventsMaxAgeSecs    = 30 * 24 * 60 * 60
	RaceEventsMaxBytes      = 50 << 30 // 50 GiB
	RaceEventsDupWindowSecs = 10 * 60

	RaceControlMaxAgeSecs    = 30 * 24 * 60 * 60
	RaceControlMaxBytes      = 1 << 30 // 1 GiB
	RaceControlDupWindowSecs = 10 * 60
)

// BuildIdempotencyKey builds the durable-log dedupe key for a raw ingest
// event: track_id:client_id:boot_id:seq.
func BuildIdempotencyKey(trackID string, ctx EventIDContext) string {
	return fmt.Sprintf("%s:%s:%s:%d", trackID, ctx.ClientID, ctx.BootID, ctx.Seq)
}

// BuildDerivedIdempotencyKey builds the dedupe key for a race event derived
// from a raw or control event: track_id:source_event_id:slot.
func BuildDerivedIdempotencyKey(trackID, sourceEventID, slot string) string {
	return fmt.Sprintf("%s:%s:%s", trackID, sourceEventID, slot)
}

// BuildRawIngestSubject returns the concrete publish subject for a track's
// raw ingest events.
func BuildRawIngestSubject(trackID string) string {
	return fmt.Sprintf("timing.ingest.raw.v1.%s", trackID)
}

// BuildRaceEventsSubject returns the concrete publish subject for a track's
// derived race events.
func BuildRaceEventsSubject(trackID string) string {
	return fmt.Sprintf("timing.race.events.v1.%s", trackID)
}

// BuildRaceControlSubject returns the concrete publish subject for a track's
// race control intents.
func BuildRaceControlSubject(trackID string) string {
	return fmt.Sprintf("timing.race.control.v1.%s", trackID)
}

// BuildRawIngestEnvelope assembles the envelope published to the raw ingest
// stream for a single ingest event, stamping the server-observed
// ingested-at timestamp.
func BuildRawIngestEnvelope(event TrackIngestEvent, ingestedAtUs uint64) RawIngestEnvelopeV1 {
	return RawIngestEnvelopeV1{
		EventID:         event.EventID,
		ContractVersion: RawIngestEnvelopeContractVersionV1,
		TrackID:         event.TrackID,
		EventIDContext:  event.EventIDContext,
		CapturedAtUs:    event.CapturedAtUs,
		IngestedAtUs:    ingestedAtUs,
		MessageType:     event.MessageType,
		Payload:         event.Payload,
	}
}
