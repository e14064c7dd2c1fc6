package contracts

// LiveEnvelopeKindV1 tags what a dashboard LiveEnvelope carries.
type LiveEnvelopeKindV1 string

const (
	LiveEnvelopeKindSnapshot  LiveEnvelopeKindV1 = "snapshot"
	LiveEnvelopeKindEvent     LiveEnvelopeKindV1 = "event"
	LiveEnvelopeKindHeartbeat LiveEnvelopeKindV1 = "heartbeat"
	LiveEnvelopeKindError     LiveEnvelopeKindV1 = "error"
)

// LiveChannelV1 tags which dashboard channel a LiveEnvelope belongs to.
type LiveChannelV1 string

const (
	LiveChannelDecoder LiveChannelV1 = "decoder"
	LiveChannelRace    LiveChannelV1 = "race"
	LiveChannelUnknown LiveChannelV1 = "unknown"
)

// DecoderStatusRowV1 is one decoder's last-known health snapshot, mirroring
// the decoder_status projection table exactly (no loop/track enrichment:
// that table is keyed on decoder_id alone).
type DecoderStatusRowV1 struct {
	DecoderID   string  `json:"decoder_id"`
	Noise       *int64  `json:"noise,omitempty"`
	Temperature *int64  `json:"temperature,omitempty"`
	GpsStatus   *int64  `json:"gps_status,omitempty"`
	Satellites  *int64  `json:"satellites,omitempty"`
	LastSeen    *string `json:"last_seen,omitempty"`
}

// DecoderSnapshotPayloadV1 is the decoder channel's snapshot payload.
type DecoderSnapshotPayloadV1 struct {
	Rows []DecoderStatusRowV1 `json:"rows"`
}

// DecoderEventPayloadV1 is the decoder channel's per-message event payload.
type DecoderEventPayloadV1 struct {
	Message       Message `json:"message"`
	SourceEventID string  `json:"source_event_id"`
}

// LiveErrorPayloadV1 is carried by a LiveEnvelope of kind "error".
type LiveErrorPayloadV1 struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Channel *string `json:"channel,omitempty"`
}

// EmptyPayloadV1 carries no data; used by heartbeat envelopes.
type EmptyPayloadV1 struct{}

// LiveEnvelopeV1 wraps a dashboard payload with routing and sequencing
// metadata. Rust's generic LiveEnvelopeV1<T> is expressed in Go as one
// concrete struct per payload kind, switched on Kind/Channel by the caller.
type LiveEnvelopeV1 struct {
	Kind    LiveEnvelopeKindV1 `json:"kind"`
	Channel LiveChannelV1      `json:"channel"`
	TrackID string             `json:"track_id"`
	EventID *string            `json:"event_id,omitempty"`
	Seq     uint64             `json:"seq"`
	TsUs    uint64             `json:"ts_us"`
	Payload any                `json:"payload"`
}
