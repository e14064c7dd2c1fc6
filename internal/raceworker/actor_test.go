package raceworker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/p3message"
	"github.com/bmxtiming/p3server/internal/raceengine"
)

type publishedMessage struct {
	subject string
	msgID   string
	body    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

func (f *fakePublisher) publish(_ context.Context, subject, msgID string, body []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, publishedMessage{subject: subject, msgID: msgID, body: body})
	return false, nil
}

func newTestWorker() (*Worker, *fakePublisher) {
	fp := &fakePublisher{}
	return &Worker{pub: fp, actors: make(map[string]chan actorInput)}, fp
}

func decodePayload(t *testing.T, body []byte) contracts.RaceEventEnvelopeV1 {
	t.Helper()
	var env contracts.RaceEventEnvelopeV1
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("failed to decode race event envelope: %v", err)
	}
	return env
}

func TestProcessRawEnvelopeNonPassingPublishesOnlyDecoderMessage(t *testing.T) {
	w, fp := newTestWorker()
	engine := raceengine.New()

	version := "2.1"
	raw := &contracts.RawIngestEnvelopeV1{
		EventID:      "evt-1",
		TrackID:      "track-1",
		CapturedAtUs: 1_000,
		Payload: contracts.Message{
			MessageType: "VERSION",
			Version:     &p3message.VersionMessage{DecoderID: "D0000C01", Description: "decoder", Version: version},
		},
	}

	if err := w.processRawEnvelope(context.Background(), "track-1", engine, raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fp.messages) != 1 {
		t.Fatalf("expected exactly 1 published message, got %d", len(fp.messages))
	}
	if fp.messages[0].msgID != "track-1:evt-1:decoder_message" {
		t.Fatalf("unexpected msgID %q", fp.messages[0].msgID)
	}

	env := decodePayload(t, fp.messages[0].body)
	if env.Payload.Kind != contracts.RaceEventKindDecoderMessage {
		t.Fatalf("expected decoder_message kind, got %q", env.Payload.Kind)
	}
}

func TestProcessRawEnvelopePassingFeedsEngineAndPublishesDerivedEvents(t *testing.T) {
	w, fp := newTestWorker()
	engine := raceengine.New()
	engine.SetTrack(contracts.TrackConfigV1{
		TrackID:      "track-1",
		GateBeaconID: 9992,
		Loops: []contracts.LoopConfigV1{
			{LoopID: "loop-finish", Name: "Finish", DecoderID: "D0000C03", Position: 0, IsFinish: true},
		},
	})
	engine.StageMoto("moto-1", "Novice", "moto1", []contracts.StagedRiderV1{
		{RiderID: "rider-1", TransponderID: 1001, Lane: 1},
	})
	engine.ProcessPassing(&p3message.PassingMessage{TransponderID: 9992, RtcTimeUs: 10_000_000})

	decoderID := "D0000C03"
	raw := &contracts.RawIngestEnvelopeV1{
		EventID:      "evt-2",
		TrackID:      "track-1",
		CapturedAtUs: 20_000_000,
		Payload: contracts.Message{
			MessageType: "PASSING",
			Passing: &p3message.PassingMessage{
				TransponderID: 1001,
				RtcTimeUs:     20_000_000,
				DecoderID:     &decoderID,
			},
		},
	}

	if err := w.processRawEnvelope(context.Background(), "track-1", engine, raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// decoder_message + split_time(finish) + rider_finished + positions_update + race_finished
	if len(fp.messages) != 5 {
		t.Fatalf("expected 5 published messages, got %d: %+v", len(fp.messages), fp.messages)
	}
	if fp.messages[0].msgID != "track-1:evt-2:decoder_message" {
		t.Fatalf("unexpected first msgID %q", fp.messages[0].msgID)
	}
	if fp.messages[1].msgID != "track-1:evt-2:passing:0" {
		t.Fatalf("unexpected second msgID %q", fp.messages[1].msgID)
	}
}

func TestProcessControlEnvelopeStagePublishesStagedAndSnapshot(t *testing.T) {
	w, fp := newTestWorker()
	engine := raceengine.New()

	control := &contracts.RaceControlIntentEnvelopeV1{
		EventID: "ctl-1",
		TrackID: "track-1",
		TsUs:    5_000,
		Intent: contracts.RaceControlIntentV1{
			Kind: contracts.RaceControlIntentStage,
			TrackConfig: &contracts.TrackConfigV1{
				TrackID:      "track-1",
				GateBeaconID: 9992,
			},
			MotoID:    "moto-1",
			ClassName: "Novice",
			RoundType: "moto1",
			Riders: []contracts.StagedRiderV1{
				{RiderID: "rider-1", TransponderID: 1001, Lane: 1},
			},
		},
	}

	if err := w.processControlEnvelope(context.Background(), "track-1", engine, control); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fp.messages) != 2 {
		t.Fatalf("expected 2 published messages (staged + snapshot), got %d", len(fp.messages))
	}
	if fp.messages[0].msgID != "track-1:ctl-1:control:0:race_staged" {
		t.Fatalf("unexpected first msgID %q", fp.messages[0].msgID)
	}
	if fp.messages[1].msgID != "track-1:ctl-1:control:1:state_snapshot" {
		t.Fatalf("unexpected second msgID %q", fp.messages[1].msgID)
	}

	env := decodePayload(t, fp.messages[1].body)
	if env.Payload.Kind != contracts.RaceEventKindStateSnapshot {
		t.Fatalf("expected state_snapshot kind, got %q", env.Payload.Kind)
	}
	if env.Payload.Phase != "staged" {
		t.Fatalf("expected phase staged, got %q", env.Payload.Phase)
	}
}

func TestProcessControlEnvelopeResetPublishesResetAndSnapshot(t *testing.T) {
	w, fp := newTestWorker()
	engine := raceengine.New()

	control := &contracts.RaceControlIntentEnvelopeV1{
		EventID: "ctl-2",
		TrackID: "track-1",
		Intent:  contracts.RaceControlIntentV1{Kind: contracts.RaceControlIntentReset},
	}

	if err := w.processControlEnvelope(context.Background(), "track-1", engine, control); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fp.messages) != 2 {
		t.Fatalf("expected 2 published messages (reset + snapshot), got %d", len(fp.messages))
	}
	env := decodePayload(t, fp.messages[0].body)
	if env.Payload.Kind != contracts.RaceEventKindRaceReset {
		t.Fatalf("expected race_reset kind, got %q", env.Payload.Kind)
	}
}

func TestProcessControlEnvelopeForceFinishNoOpWhenNotRacing(t *testing.T) {
	w, fp := newTestWorker()
	engine := raceengine.New()

	control := &contracts.RaceControlIntentEnvelopeV1{
		EventID: "ctl-3",
		TrackID: "track-1",
		Intent:  contracts.RaceControlIntentV1{Kind: contracts.RaceControlIntentForceFinish},
	}

	if err := w.processControlEnvelope(context.Background(), "track-1", engine, control); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the trailing snapshot publishes since force_finish was rejected (not racing).
	if len(fp.messages) != 1 {
		t.Fatalf("expected 1 published message (snapshot only), got %d", len(fp.messages))
	}
	if fp.messages[0].msgID != "track-1:ctl-3:control:0:state_snapshot" {
		t.Fatalf("unexpected msgID %q", fp.messages[0].msgID)
	}
}
