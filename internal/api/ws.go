package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/ingest"
	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go/jetstream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients can come from any origin the operator chooses to
	// serve the UI from; this process never sets cookies, so there is no
	// session to leak cross-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dashboardHeartbeatInterval is fixed, not configurable: a dashboard client
// must see a heartbeat on every subscribed channel at this cadence or
// conclude the connection is dead.
const dashboardHeartbeatInterval = 10 * time.Second

// snapshotFetchWait bounds how long the race channel's initial snapshot
// fetch waits for a last message on a track that has never published one.
const snapshotFetchWait = 300 * time.Millisecond

// wsHandler streams a track's live state to a dashboard client as a
// sequence of LiveEnvelope frames. The original server kept one in-process
// race engine per track and fanned its updates out over two broadcast
// channels, sending an initial state_snapshot read straight off that shared
// engine before its select loop started. This server's worker roles are
// separate processes talking only over JetStream, so there is no shared
// engine to read from directly: the race channel's snapshot is instead the
// most recent message already on the race events stream (closest published
// approximation of state_snapshot - see DESIGN.md), and the decoder
// channel's snapshot is read from the JetStream key-value bucket C8 mirrors
// decoder_status into, since the relational table itself is only ever
// opened by the projection worker.
func (a *Api) wsHandler(rw http.ResponseWriter, r *http.Request) {
	trackID := r.URL.Query().Get("track_id")
	if trackID == "" {
		handleError(errInvalidTrackID, http.StatusBadRequest, rw)
		return
	}

	channels, invalidChannels := parseChannels(r.URL.Query().Get("channel"))

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		plog.Warnf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session := &dashboardSession{conn: conn, trackID: trackID}

	for _, bad := range invalidChannels {
		bad := bad
		if err := session.send(contracts.LiveEnvelopeKindError, contracts.LiveChannelUnknown, nil, contracts.LiveErrorPayloadV1{
			Code:    "unknown_channel",
			Message: "requested dashboard channel is not one of decoder, race",
			Channel: &bad,
		}); err != nil {
			return
		}
	}

	wantDecoder, wantRace := false, false
	for _, ch := range channels {
		switch ch {
		case contracts.LiveChannelDecoder:
			wantDecoder = true
		case contracts.LiveChannelRace:
			wantRace = true
		}
	}

	if !wantDecoder && !wantRace {
		discardIncoming(conn)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var rawCh, raceCh chan jetstream.Msg
	errCh := make(chan error, 2)

	if wantDecoder {
		if err := session.sendDecoderSnapshot(ctx, a.JS); err != nil {
			plog.Warnf("api: decoder snapshot for track %s: %v", trackID, err)
		}

		rawMessages, err := tailRawIngest(ctx, a.JS, trackID)
		if err != nil {
			plog.Warnf("api: tail raw ingest for track %s: %v", trackID, err)
			wantDecoder = false
		} else {
			defer rawMessages.Stop()
			rawCh = make(chan jetstream.Msg)
			go pumpMessages(rawMessages, rawCh, errCh)
		}
	}

	if wantRace {
		if err := session.sendRaceSnapshot(ctx, a.JS); err != nil {
			plog.Warnf("api: race snapshot for track %s: %v", trackID, err)
		}

		raceMessages, err := tailRaceEvents(ctx, a.JS, trackID)
		if err != nil {
			plog.Warnf("api: tail race events for track %s: %v", trackID, err)
			wantRace = false
		} else {
			defer raceMessages.Stop()
			raceCh = make(chan jetstream.Msg)
			go pumpMessages(raceMessages, raceCh, errCh)
		}
	}

	go discardIncoming(conn)

	heartbeat := time.NewTicker(dashboardHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-rawCh:
			if !ok {
				return
			}
			if err := session.sendDecoderEvent(msg); err != nil {
				return
			}
			msg.Ack()

		case msg, ok := <-raceCh:
			if !ok {
				return
			}
			if err := session.sendRaceEvent(msg); err != nil {
				return
			}
			msg.Ack()

		case err := <-errCh:
			plog.Warnf("api: websocket feed for track %s stopped: %v", trackID, err)
			return

		case <-heartbeat.C:
			if wantDecoder {
				if err := session.send(contracts.LiveEnvelopeKindHeartbeat, contracts.LiveChannelDecoder, nil, contracts.EmptyPayloadV1{}); err != nil {
					return
				}
			}
			if wantRace {
				if err := session.send(contracts.LiveEnvelopeKindHeartbeat, contracts.LiveChannelRace, nil, contracts.EmptyPayloadV1{}); err != nil {
					return
				}
			}
		}
	}
}

// dashboardSession tracks the monotonic per-socket sequence number the
// LiveEnvelope contract requires. Every send on a session happens from a
// single goroutine (the wsHandler loop, or synchronously before it starts),
// so seq needs no locking.
type dashboardSession struct {
	conn    *websocket.Conn
	trackID string
	seq     uint64
}

func (s *dashboardSession) send(kind contracts.LiveEnvelopeKindV1, channel contracts.LiveChannelV1, eventID *string, payload any) error {
	envelope := s.buildEnvelope(kind, channel, eventID, payload)

	encoded, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, encoded)
}

// buildEnvelope assigns the next sequence number and timestamp for this
// socket and returns the envelope to send. Split out from send so the
// sequencing logic can be tested without a live websocket connection.
func (s *dashboardSession) buildEnvelope(kind contracts.LiveEnvelopeKindV1, channel contracts.LiveChannelV1, eventID *string, payload any) contracts.LiveEnvelopeV1 {
	s.seq++
	return contracts.LiveEnvelopeV1{
		Kind:    kind,
		Channel: channel,
		TrackID: s.trackID,
		EventID: eventID,
		Seq:     s.seq,
		TsUs:    uint64(time.Now().UnixMicro()),
		Payload: payload,
	}
}

func (s *dashboardSession) sendDecoderSnapshot(ctx context.Context, js jetstream.JetStream) error {
	rows, err := decoderStatusRows(ctx, js)
	if err != nil {
		return err
	}
	return s.send(contracts.LiveEnvelopeKindSnapshot, contracts.LiveChannelDecoder, nil, contracts.DecoderSnapshotPayloadV1{Rows: rows})
}

func (s *dashboardSession) sendRaceSnapshot(ctx context.Context, js jetstream.JetStream) error {
	envelope, err := fetchLastRaceEnvelope(ctx, js, s.trackID)
	if err != nil {
		return err
	}
	if envelope == nil {
		// Nothing published to this track's race events subject yet.
		return nil
	}
	eventID := envelope.EventID
	return s.send(contracts.LiveEnvelopeKindSnapshot, contracts.LiveChannelRace, &eventID, envelope.Payload)
}

func (s *dashboardSession) sendDecoderEvent(msg jetstream.Msg) error {
	var envelope contracts.RawIngestEnvelopeV1
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return err
	}
	eventID := envelope.EventID
	return s.send(contracts.LiveEnvelopeKindEvent, contracts.LiveChannelDecoder, &eventID, contracts.DecoderEventPayloadV1{
		Message:       envelope.Payload,
		SourceEventID: envelope.EventID,
	})
}

func (s *dashboardSession) sendRaceEvent(msg jetstream.Msg) error {
	var envelope contracts.RaceEventEnvelopeV1
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return err
	}
	eventID := envelope.EventID
	return s.send(contracts.LiveEnvelopeKindEvent, contracts.LiveChannelRace, &eventID, envelope.Payload)
}

// decoderStatusRows reads every row currently in the decoder-status
// key-value bucket. A bucket that does not exist yet (no projection worker
// has run) is not an error: there is simply nothing to report.
func decoderStatusRows(ctx context.Context, js jetstream.JetStream) ([]contracts.DecoderStatusRowV1, error) {
	kv, err := ingest.ProvisionDecoderStatusKV(ctx, js)
	if err != nil {
		return nil, err
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer lister.Stop()

	var rows []contracts.DecoderStatusRowV1
	for key := range lister.Keys() {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			continue
		}

		var row contracts.DecoderStatusRowV1
		if err := json.Unmarshal(entry.Value(), &row); err != nil {
			plog.Warnf("api: decode decoder_status kv entry %s: %v", key, err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// fetchLastRaceEnvelope returns the most recent message already published
// to trackID's race events subject, or nil if none has been published yet.
func fetchLastRaceEnvelope(ctx context.Context, js jetstream.JetStream, trackID string) (*contracts.RaceEventEnvelopeV1, error) {
	consumer, err := js.OrderedConsumer(ctx, contracts.RaceEventsStreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{contracts.BuildRaceEventsSubject(trackID)},
		DeliverPolicy:  jetstream.DeliverLastPolicy,
	})
	if err != nil {
		return nil, err
	}

	msg, err := consumer.Next(jetstream.FetchMaxWait(snapshotFetchWait))
	if err != nil {
		return nil, nil
	}
	msg.Ack()

	var envelope contracts.RaceEventEnvelopeV1
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// tailRawIngest opens an ephemeral ordered consumer on trackID's raw
// ingest subject, delivering only messages published after this call -
// whatever already existed was already folded into the decoder snapshot.
func tailRawIngest(ctx context.Context, js jetstream.JetStream, trackID string) (jetstream.MessagesContext, error) {
	consumer, err := js.OrderedConsumer(ctx, contracts.RawIngestStreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{contracts.BuildRawIngestSubject(trackID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, err
	}
	return consumer.Messages()
}

// tailRaceEvents opens an ephemeral ordered consumer on trackID's race
// events subject, delivering only messages published after this call - the
// last prior message was already folded into the race snapshot.
func tailRaceEvents(ctx context.Context, js jetstream.JetStream, trackID string) (jetstream.MessagesContext, error) {
	consumer, err := js.OrderedConsumer(ctx, contracts.RaceEventsStreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{contracts.BuildRaceEventsSubject(trackID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, err
	}
	return consumer.Messages()
}

func pumpMessages(it jetstream.MessagesContext, out chan<- jetstream.Msg, errCh chan<- error) {
	defer close(out)
	for {
		msg, err := it.Next()
		if err != nil {
			errCh <- err
			return
		}
		out <- msg
	}
}

// discardIncoming drains and discards any message the dashboard client
// sends, since this socket is read-only. It stops only when the connection
// dies, letting the read loop surface close frames.
func discardIncoming(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// parseChannels splits a comma-separated channel query parameter into the
// recognized channels to subscribe to and the tokens that matched neither.
// An empty parameter subscribes to both channels, matching a dashboard
// that wants the full live picture by default.
func parseChannels(raw string) (valid []contracts.LiveChannelV1, invalid []string) {
	if raw == "" {
		return []contracts.LiveChannelV1{contracts.LiveChannelDecoder, contracts.LiveChannelRace}, nil
	}

	seen := make(map[contracts.LiveChannelV1]bool)
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		ch := contracts.LiveChannelV1(token)
		switch ch {
		case contracts.LiveChannelDecoder, contracts.LiveChannelRace:
			if !seen[ch] {
				seen[ch] = true
				valid = append(valid, ch)
			}
		default:
			invalid = append(invalid, token)
		}
	}
	return valid, invalid
}

var errInvalidTrackID = trackIDRequiredError{}

type trackIDRequiredError struct{}

func (trackIDRequiredError) Error() string { return "track_id query parameter is required" }
