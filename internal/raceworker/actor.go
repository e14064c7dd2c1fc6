package raceworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/raceengine"
	"github.com/google/uuid"
)

// actorPayload is a tagged union: exactly one of raw/control is set.
type actorPayload struct {
	raw     *contracts.RawIngestEnvelopeV1
	control *contracts.RaceControlIntentEnvelopeV1
}

// actorInput is one unit of work delivered to a track actor's mailbox.
type actorInput struct {
	ctx      context.Context
	payload  actorPayload
	resultCh chan error
}

// spawnTrackActor starts the goroutine owning trackID's race engine and
// returns its mailbox. Messages are processed strictly in arrival order,
// so a single track's causal chain (stage before gate before splits before
// finish) is always preserved even though distinct tracks make progress
// independently.
func (w *Worker) spawnTrackActor(trackID string) chan actorInput {
	inbox := make(chan actorInput, 256)

	go func() {
		engine := raceengine.New()

		for input := range inbox {
			var err error
			switch {
			case input.payload.raw != nil:
				err = w.processRawEnvelope(input.ctx, trackID, engine, input.payload.raw)
			case input.payload.control != nil:
				err = w.processControlEnvelope(input.ctx, trackID, engine, input.payload.control)
			}
			input.resultCh <- err
		}
	}()

	return inbox
}

func (w *Worker) processRawEnvelope(ctx context.Context, trackID string, engine *raceengine.Engine, raw *contracts.RawIngestEnvelopeV1) error {
	decoderMessage := raw.Payload
	if err := w.publishEventPayload(ctx, trackID, raw.EventID, raw.CapturedAtUs,
		contracts.RaceEventPayloadV1{Kind: contracts.RaceEventKindDecoderMessage, Message: &decoderMessage},
		fmt.Sprintf("%s:%s:decoder_message", trackID, raw.EventID),
	); err != nil {
		return err
	}

	if raw.Payload.Passing == nil {
		return nil
	}

	events := engine.ProcessPassing(raw.Payload.Passing)
	for index, event := range events {
		msgID := fmt.Sprintf("%s:%s:passing:%d", trackID, raw.EventID, index)
		if err := w.publishEventPayload(ctx, trackID, raw.EventID, raw.CapturedAtUs, event, msgID); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) processControlEnvelope(ctx context.Context, trackID string, engine *raceengine.Engine, control *contracts.RaceControlIntentEnvelopeV1) error {
	index := 0

	switch control.Intent.Kind {
	case contracts.RaceControlIntentStage:
		if control.Intent.TrackConfig != nil {
			engine.SetTrack(*control.Intent.TrackConfig)
		}
		event := engine.StageMoto(control.Intent.MotoID, control.Intent.ClassName, control.Intent.RoundType, control.Intent.Riders)
		if event == nil {
			break
		}
		msgID := fmt.Sprintf("%s:%s:control:%d:race_staged", trackID, control.EventID, index)
		if err := w.publishEventPayload(ctx, trackID, control.EventID, control.TsUs, *event, msgID); err != nil {
			return err
		}
		index++

	case contracts.RaceControlIntentReset:
		event := engine.Reset()
		msgID := fmt.Sprintf("%s:%s:control:%d:race_reset", trackID, control.EventID, index)
		if err := w.publishEventPayload(ctx, trackID, control.EventID, control.TsUs, event, msgID); err != nil {
			return err
		}
		index++

	case contracts.RaceControlIntentForceFinish:
		event := engine.ForceFinish()
		if event == nil {
			break
		}
		msgID := fmt.Sprintf("%s:%s:control:%d:race_finished", trackID, control.EventID, index)
		if err := w.publishEventPayload(ctx, trackID, control.EventID, control.TsUs, *event, msgID); err != nil {
			return err
		}
		index++
	}

	snapshot := engine.StateSnapshot()
	msgID := fmt.Sprintf("%s:%s:control:%d:state_snapshot", trackID, control.EventID, index)
	return w.publishEventPayload(ctx, trackID, control.EventID, control.TsUs, snapshot, msgID)
}

// publishEventPayload wraps payload in a fresh race event envelope and
// publishes it to the track's race events subject, keyed for dedupe by
// msgID (track_id:source_event_id:slot).
func (w *Worker) publishEventPayload(ctx context.Context, trackID, sourceEventID string, tsUs uint64, payload contracts.RaceEventPayloadV1, msgID string) error {
	subject := contracts.BuildRaceEventsSubject(trackID)
	envelope := contracts.RaceEventEnvelopeV1{
		EventID:         uuid.NewString(),
		ContractVersion: contracts.RaceEventsEnvelopeContractVersionV1,
		TrackID:         trackID,
		SourceEventID:   sourceEventID,
		TsUs:            tsUs,
		Payload:         payload,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("raceworker: marshal race event envelope: %w", err)
	}

	_, err = w.pub.publish(ctx, subject, msgID, body)
	return err
}
