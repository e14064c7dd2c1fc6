// Package contracts holds the wire contract types shared across process
// roles: the JSON envelopes carried over the durable log and the dashboard
// socket, the subject-name builders for NATS JetStream, and the
// idempotency-key builder used for dedupe.
package contracts

import "github.com/bmxtiming/p3server/internal/p3message"

// Contract version strings, one per envelope shape. This module targets
// track_ingest.v2 throughout; earlier deployments of the track client
// emitted v1 against an older server revision, which this server no longer
// accepts.
const (
	TrackIngestContractVersionV2        = "track_ingest.v2"
	RawIngestEnvelopeContractVersionV1  = "raw_ingest_envelope.v1"
	RaceEventsEnvelopeContractVersionV1 = "race_events_envelope.v1"
	RaceControlIntentEnvelopeVersionV1  = "race_control_intent_envelope.v1"
)

// EventIDContext identifies the producing client session and its monotonic
// sequence number for a single ingest event.
type EventIDContext struct {
	ClientID string `json:"client_id"`
	BootID   string `json:"boot_id"`
	Seq      uint64 `json:"seq"`
}

// Message is the tagged-union wire shape of a decoded decoder message, as
// carried inside ingest events and envelopes. See message_json.go for its
// MarshalJSON/UnmarshalJSON, which flatten whichever variant is populated
// alongside the message_type tag, mirroring the original source's
// #[serde(tag = "message_type")] enum.
type Message struct {
	MessageType string                    `json:"message_type"`
	Passing     *p3message.PassingMessage `json:"-"`
	Status      *p3message.StatusMessage  `json:"-"`
	Version     *p3message.VersionMessage `json:"-"`
}

// TrackIngestEvent is a single decoded decoder message as submitted by a
// track client in a batch.
type TrackIngestEvent struct {
	EventID        string         `json:"event_id"`
	TrackID        string         `json:"track_id"`
	EventIDContext EventIDContext `json:"event_id_context"`
	CapturedAtUs   uint64         `json:"captured_at_us"`
	MessageType    string         `json:"message_type"`
	Payload        Message        `json:"payload"`
}

// RawIngestEnvelopeV1 is the envelope published to the raw ingest stream.
type RawIngestEnvelopeV1 struct {
	EventID         string         `json:"event_id"`
	ContractVersion string         `json:"contract_version"`
	TrackID         string         `json:"track_id"`
	EventIDContext  EventIDContext `json:"event_id_context"`
	CapturedAtUs    uint64         `json:"captured_at_us"`
	IngestedAtUs    uint64         `json:"ingested_at_us"`
	MessageType     string         `json:"message_type"`
	Payload         Message        `json:"payload"`
}

// StagedRiderV1 describes a rider entered into a staged moto.
type StagedRiderV1 struct {
	RiderID       string `json:"rider_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	PlateNumber   string `json:"plate_number"`
	TransponderID uint32 `json:"transponder_id"`
	Lane          uint32 `json:"lane"`
}

// RiderPositionV1 is a rider's live position during a race.
type RiderPositionV1 struct {
	RiderID        string  `json:"rider_id"`
	PlateNumber    string  `json:"plate_number"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Lane           uint32  `json:"lane"`
	Position       uint32  `json:"position"`
	LastLoop       *string `json:"last_loop,omitempty"`
	ElapsedUs      *uint64 `json:"elapsed_us,omitempty"`
	GapToLeaderUs  *uint64 `json:"gap_to_leader_us,omitempty"`
	Finished       bool    `json:"finished"`
	Dnf            bool    `json:"dnf"`
}

// FinishResultV1 is one rider's row in a race's final results.
type FinishResultV1 struct {
	RiderID       string  `json:"rider_id"`
	PlateNumber   string  `json:"plate_number"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Position      uint32  `json:"position"`
	ElapsedUs     *uint64 `json:"elapsed_us,omitempty"`
	GapToLeaderUs *uint64 `json:"gap_to_leader_us,omitempty"`
	Dnf           bool    `json:"dnf"`
	Dns           bool    `json:"dns"`
}

// TrackConfigV1 describes a track's decoder loops for staging.
type TrackConfigV1 struct {
	TrackID      string        `json:"track_id"`
	Name         string        `json:"name"`
	GateBeaconID uint32        `json:"gate_beacon_id"`
	Loops        []LoopConfigV1 `json:"loops"`
}

// LoopConfigV1 is one decoder loop on a track.
type LoopConfigV1 struct {
	LoopID    string `json:"loop_id"`
	Name      string `json:"name"`
	DecoderID string `json:"decoder_id"`
	Position  uint32 `json:"position"`
	IsStart   bool   `json:"is_start"`
	IsFinish  bool   `json:"is_finish"`
}

// RaceEventPayloadKindV1 tags a RaceEventPayloadV1's variant.
type RaceEventPayloadKindV1 string

const (
	RaceEventKindDecoderMessage  RaceEventPayloadKindV1 = "decoder_message"
	RaceEventKindRaceStaged      RaceEventPayloadKindV1 = "race_staged"
	RaceEventKindGateDrop        RaceEventPayloadKindV1 = "gate_drop"
	RaceEventKindSplitTime       RaceEventPayloadKindV1 = "split_time"
	RaceEventKindPositionsUpdate RaceEventPayloadKindV1 = "positions_update"
	RaceEventKindRiderFinished   RaceEventPayloadKindV1 = "rider_finished"
	RaceEventKindRaceFinished    RaceEventPayloadKindV1 = "race_finished"
	RaceEventKindRaceReset       RaceEventPayloadKindV1 = "race_reset"
	RaceEventKindStateSnapshot   RaceEventPayloadKindV1 = "state_snapshot"
)

// RaceEventPayloadV1 is the tagged union of derived race events. Exactly one
// of the variant-specific field groups is populated, selected by Kind.
type RaceEventPayloadV1 struct {
	Kind RaceEventPayloadKindV1 `json:"kind"`

	// decoder_message
	Message *Message `json:"message,omitempty"`

	// race_staged / state_snapshot (riders)
	MotoID    string          `json:"moto_id,omitempty"`
	ClassName string          `json:"class_name,omitempty"`
	RoundType string          `json:"round_type,omitempty"`
	Riders    []StagedRiderV1 `json:"riders,omitempty"`

	// gate_drop
	TimestampUs *uint64 `json:"timestamp_us,omitempty"`

	// split_time
	RiderID       string  `json:"rider_id,omitempty"`
	LoopName      string  `json:"loop_name,omitempty"`
	IsFinish      bool    `json:"is_finish,omitempty"`
	ElapsedUs     *uint64 `json:"elapsed_us,omitempty"`
	Position      *uint32 `json:"position,omitempty"`
	GapToLeaderUs *uint64 `json:"gap_to_leader_us,omitempty"`

	// positions_update
	Positions []RiderPositionV1 `json:"positions,omitempty"`

	// rider_finished
	FinishPosition *uint32 `json:"finish_position,omitempty"`

	// race_finished
	Results []FinishResultV1 `json:"results,omitempty"`

	// state_snapshot
	Phase           string  `json:"phase,omitempty"`
	GateDropTimeUs  *uint64 `json:"gate_drop_time_us,omitempty"`
	FinishedCount   uint32  `json:"finished_count,omitempty"`
	TotalRiders     uint32  `json:"total_riders,omitempty"`
}

// RaceEventEnvelopeV1 is the envelope published to the race events stream.
type RaceEventEnvelopeV1 struct {
	EventID         string              `json:"event_id"`
	ContractVersion string              `json:"contract_version"`
	TrackID         string              `json:"track_id"`
	SourceEventID   string              `json:"source_event_id"`
	TsUs            uint64              `json:"ts_us"`
	Payload         RaceEventPayloadV1  `json:"payload"`
}

// RaceControlIntentKindV1 tags a RaceControlIntentV1's variant.
type RaceControlIntentKindV1 string

const (
	RaceControlIntentStage       RaceControlIntentKindV1 = "stage"
	RaceControlIntentReset       RaceControlIntentKindV1 = "reset"
	RaceControlIntentForceFinish RaceControlIntentKindV1 = "force_finish"
)

// RaceControlIntentV1 is an operator command: stage a moto, reset the
// engine, or force the current moto to finish.
type RaceControlIntentV1 struct {
	Kind         RaceControlIntentKindV1 `json:"kind"`
	TrackConfig  *TrackConfigV1          `json:"track_config,omitempty"`
	MotoID       string                  `json:"moto_id,omitempty"`
	ClassName    string                  `json:"class_name,omitempty"`
	RoundType    string                  `json:"round_type,omitempty"`
	Riders       []StagedRiderV1         `json:"riders,omitempty"`
}

// RaceControlIntentEnvelopeV1 is the envelope published to the race control
// stream.
type RaceControlIntentEnvelopeV1 struct {
	EventID         string               `json:"event_id"`
	ContractVersion string               `json:"contract_version"`
	TrackID         string               `json:"track_id"`
	TsUs            uint64               `json:"ts_us"`
	Intent          RaceControlIntentV1  `json:"intent"`
}

// TrackIngestBatchRequest is the POST /ingest/batch request body.
type TrackIngestBatchRequest struct {
	ContractVersion string             `json:"contract_version"`
	TrackID         string             `json:"track_id"`
	Events          []TrackIngestEvent `json:"events"`
}

// TrackIngestBatchResponse is the POST /ingest/batch response body.
type TrackIngestBatchResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// MessageTypeFromMessage returns the wire message_type tag ("PASSING",
// "STATUS", "VERSION") for a decoded message. It panics if none of the
// payload fields is set, which indicates a programming error upstream (an
// ingest event is always constructed from exactly one decoded variant).
func MessageTypeFromMessage(m *Message) string {
	switch {
	case m.Passing != nil:
		return "PASSING"
	case m.Status != nil:
		return "STATUS"
	case m.Version != nil:
		return "VERSION"
	default:
		panic("contracts: Message has no populated payload variant")
	}
}
