// Package raceworker implements the race worker (C7): a long-running
// consumer that owns one race engine actor per track, fed from the raw
// ingest and race control JetStream streams, republishing the derived race
// events each actor produces.
package raceworker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/ingest"
	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	rawConsumerName     = "race_worker_raw_v1"
	controlConsumerName = "race_worker_control_v1"
)

// publisher is the narrow JetStream surface the worker needs; a fake
// implementation lets tests exercise actor logic without a real NATS server.
type publisher interface {
	publish(ctx context.Context, subject, msgID string, body []byte) (duplicate bool, err error)
}

type jetstreamPublisher struct {
	js jetstream.JetStream
}

func (p *jetstreamPublisher) publish(ctx context.Context, subject, msgID string, body []byte) (bool, error) {
	msg := &nats.Msg{
		Subject: subject,
		Data:    body,
		Header:  nats.Header{"Nats-Msg-Id": []string{msgID}},
	}
	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return false, err
	}
	return ack.Duplicate, nil
}

// Worker dispatches raw-ingest and race-control envelopes to per-track
// actors. It is safe for the actor map to be touched only from Run's
// goroutine and the actor-spawning helper it calls; actors themselves run
// on their own goroutine, serializing their own track's messages.
type Worker struct {
	pub    publisher
	mu     sync.Mutex
	actors map[string]chan actorInput
}

// NewWorker returns a Worker that publishes derived race events through js.
func NewWorker(js jetstream.JetStream) *Worker {
	return &Worker{pub: &jetstreamPublisher{js: js}, actors: make(map[string]chan actorInput)}
}

// Run provisions the JetStream streams and consumers this worker depends
// on, then processes raw and control messages until ctx is canceled or both
// consumer streams close.
func (w *Worker) Run(ctx context.Context, js jetstream.JetStream) error {
	if err := ingest.ProvisionStreams(ctx, js); err != nil {
		return err
	}

	rawStream, err := js.Stream(ctx, contracts.RawIngestStreamName)
	if err != nil {
		return fmt.Errorf("raceworker: get raw ingest stream: %w", err)
	}
	controlStream, err := js.Stream(ctx, contracts.RaceControlStreamName)
	if err != nil {
		return fmt.Errorf("raceworker: get race control stream: %w", err)
	}

	rawConsumer, err := ingest.GetOrCreateConsumer(ctx, rawStream, rawConsumerName, contracts.RawIngestSubjectPattern)
	if err != nil {
		return fmt.Errorf("raceworker: get or create raw consumer: %w", err)
	}
	controlConsumer, err := ingest.GetOrCreateConsumer(ctx, controlStream, controlConsumerName, contracts.RaceControlSubjectPattern)
	if err != nil {
		return fmt.Errorf("raceworker: get or create control consumer: %w", err)
	}

	rawMessages, err := rawConsumer.Messages()
	if err != nil {
		return fmt.Errorf("raceworker: subscribe raw messages: %w", err)
	}
	defer rawMessages.Stop()

	controlMessages, err := controlConsumer.Messages()
	if err != nil {
		return fmt.Errorf("raceworker: subscribe control messages: %w", err)
	}
	defer controlMessages.Stop()

	rawCh, rawErrCh := make(chan jetstream.Msg), make(chan error, 1)
	go feedMessages(rawMessages, rawCh, rawErrCh)

	controlCh, controlErrCh := make(chan jetstream.Msg), make(chan error, 1)
	go feedMessages(controlMessages, controlCh, controlErrCh)

	plog.Infof("race worker started: raw_consumer=%s control_consumer=%s", rawConsumerName, controlConsumerName)

	rawOpen, controlOpen := true, true
	for rawOpen || controlOpen {
		var activeRaw chan jetstream.Msg
		if rawOpen {
			activeRaw = rawCh
		}
		var activeControl chan jetstream.Msg
		if controlOpen {
			activeControl = controlCh
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-activeRaw:
			if !ok {
				rawOpen = false
				if err := <-rawErrCh; err != nil {
					plog.Warnf("raw ingest consumer stream closed: %v", err)
				}
				continue
			}
			w.handleRawMessage(ctx, msg)

		case msg, ok := <-activeControl:
			if !ok {
				controlOpen = false
				if err := <-controlErrCh; err != nil {
					plog.Warnf("race control consumer stream closed: %v", err)
				}
				continue
			}
			w.handleControlMessage(ctx, msg)
		}
	}

	return nil
}

func feedMessages(messages jetstream.MessagesContext, out chan<- jetstream.Msg, errOut chan<- error) {
	defer close(out)
	for {
		msg, err := messages.Next()
		if err != nil {
			errOut <- err
			return
		}
		out <- msg
	}
}

func (w *Worker) handleRawMessage(ctx context.Context, msg jetstream.Msg) {
	var envelope contracts.RawIngestEnvelopeV1
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		plog.Warnf("failed to parse raw ingest envelope, acking poison message: %v", err)
		if ackErr := msg.Ack(); ackErr != nil {
			plog.Errorf("failed to ack poison raw message: %v", ackErr)
		}
		return
	}

	w.dispatch(ctx, envelope.TrackID, actorPayload{raw: &envelope}, msg)
}

func (w *Worker) handleControlMessage(ctx context.Context, msg jetstream.Msg) {
	var envelope contracts.RaceControlIntentEnvelopeV1
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		plog.Warnf("failed to parse race control envelope, acking poison message: %v", err)
		if ackErr := msg.Ack(); ackErr != nil {
			plog.Errorf("failed to ack poison control message: %v", ackErr)
		}
		return
	}

	w.dispatch(ctx, envelope.TrackID, actorPayload{control: &envelope}, msg)
}

// dispatch hands payload to trackID's actor (spawning it on first sight),
// then acks msg iff the actor reports success. On any failure the message
// is left unacked so redelivery restores progress — the derived events'
// idempotency keys make a redelivered reprocessing a no-op downstream.
func (w *Worker) dispatch(ctx context.Context, trackID string, payload actorPayload, msg jetstream.Msg) {
	inbox := w.getOrSpawnActor(trackID)

	resultCh := make(chan error, 1)
	select {
	case inbox <- actorInput{ctx: ctx, payload: payload, resultCh: resultCh}:
	case <-ctx.Done():
		return
	}

	select {
	case err := <-resultCh:
		if err != nil {
			plog.Warnf("race actor processing failed for track %s, leaving message unacked: %v", trackID, err)
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			plog.Errorf("failed to ack processed message: %v", ackErr)
		}
	case <-ctx.Done():
	}
}

func (w *Worker) getOrSpawnActor(trackID string) chan actorInput {
	w.mu.Lock()
	defer w.mu.Unlock()

	if inbox, ok := w.actors[trackID]; ok {
		return inbox
	}

	inbox := w.spawnTrackActor(trackID)
	w.actors[trackID] = inbox
	return inbox
}
