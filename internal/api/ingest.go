package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/pkg/plog"
)

func decode(r io.Reader, val interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	plog.Warnf("api: request failed: %v", err)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(errorResponse{Status: http.StatusText(statusCode), Error: err.Error()})
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// validateIngestBatchRequest applies the same checks the original track
// ingest route enforces before accepting a batch: contract version, a
// non-empty track_id echoed consistently on every event, a message_type
// that matches the event's actual payload variant, and a populated
// event_id_context.
func validateIngestBatchRequest(req *contracts.TrackIngestBatchRequest) error {
	if req.ContractVersion != contracts.TrackIngestContractVersionV2 {
		return errors.New("unsupported contract_version: " + req.ContractVersion)
	}

	if strings.TrimSpace(req.TrackID) == "" {
		return errors.New("track_id is required")
	}

	for _, event := range req.Events {
		if strings.TrimSpace(event.TrackID) == "" {
			return errors.New("event.track_id is required")
		}
		if event.TrackID != req.TrackID {
			return errors.New("event.track_id must match request track_id")
		}
		if strings.TrimSpace(event.MessageType) == "" {
			return errors.New("event.message_type is required")
		}
		if event.Payload.Passing == nil && event.Payload.Status == nil && event.Payload.Version == nil {
			return errors.New("event.payload has no decoded message variant")
		}
		if derived := contracts.MessageTypeFromMessage(&event.Payload); event.MessageType != derived {
			return errors.New("event.message_type must match payload type: expected " + derived)
		}
		if strings.TrimSpace(event.EventIDContext.ClientID) == "" {
			return errors.New("event.event_id_context.client_id is required")
		}
		if strings.TrimSpace(event.EventIDContext.BootID) == "" {
			return errors.New("event.event_id_context.boot_id is required")
		}
	}

	return nil
}

// ingestBatch accepts a batch of decoded decoder messages from a track
// client, publishing each to the raw ingest stream.
func (a *Api) ingestBatch(rw http.ResponseWriter, r *http.Request) {
	var req contracts.TrackIngestBatchRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	if err := validateIngestBatchRequest(&req); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	if len(req.Events) == 0 {
		writeJSON(rw, http.StatusOK, contracts.TrackIngestBatchResponse{})
		return
	}

	if limiter := a.limiterFor(req.TrackID); limiter != nil && !limiter.Allow() {
		handleError(errors.New("rate limit exceeded for track_id "+req.TrackID), http.StatusTooManyRequests, rw)
		return
	}

	var accepted, duplicates int
	for _, event := range req.Events {
		outcome, err := a.Publisher.PublishEvent(r.Context(), event)
		if err != nil {
			handleError(err, http.StatusInternalServerError, rw)
			return
		}
		if outcome.Duplicate {
			duplicates++
		} else {
			accepted++
		}
	}

	writeJSON(rw, http.StatusOK, contracts.TrackIngestBatchResponse{Accepted: accepted, Duplicates: duplicates})
}

func writeJSON(rw http.ResponseWriter, statusCode int, payload interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(payload)
}
