package api

import (
	"testing"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/p3message"
)

func validEvent() contracts.TrackIngestEvent {
	return contracts.TrackIngestEvent{
		EventID:        "evt-1",
		TrackID:        "track-1",
		EventIDContext: contracts.EventIDContext{ClientID: "client-1", BootID: "boot-1", Seq: 1},
		MessageType:    "STATUS",
		Payload: contracts.Message{
			MessageType: "STATUS",
			Status:      &p3message.StatusMessage{Noise: 10, GpsStatus: 1, Temperature: 20, Satellites: 8},
		},
	}
}

func validRequest() *contracts.TrackIngestBatchRequest {
	return &contracts.TrackIngestBatchRequest{
		ContractVersion: contracts.TrackIngestContractVersionV2,
		TrackID:         "track-1",
		Events:          []contracts.TrackIngestEvent{validEvent()},
	}
}

func TestValidateIngestBatchRequestAcceptsWellFormedRequest(t *testing.T) {
	if err := validateIngestBatchRequest(validRequest()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateIngestBatchRequestAcceptsEmptyEvents(t *testing.T) {
	req := validRequest()
	req.Events = nil
	if err := validateIngestBatchRequest(req); err != nil {
		t.Fatalf("expected no error for empty events, got %v", err)
	}
}

func TestValidateIngestBatchRequestRejectsWrongContractVersion(t *testing.T) {
	req := validRequest()
	req.ContractVersion = "track_ingest.v1"
	if err := validateIngestBatchRequest(req); err == nil {
		t.Fatal("expected error for stale contract version")
	}
}

func TestValidateIngestBatchRequestRejectsEmptyTrackID(t *testing.T) {
	req := validRequest()
	req.TrackID = ""
	if err := validateIngestBatchRequest(req); err == nil {
		t.Fatal("expected error for empty track_id")
	}
}

func TestValidateIngestBatchRequestRejectsMismatchedEventTrackID(t *testing.T) {
	req := validRequest()
	req.Events[0].TrackID = "some-other-track"
	if err := validateIngestBatchRequest(req); err == nil {
		t.Fatal("expected error for mismatched event track_id")
	}
}

func TestValidateIngestBatchRequestRejectsMismatchedMessageType(t *testing.T) {
	req := validRequest()
	req.Events[0].MessageType = "PASSING"
	if err := validateIngestBatchRequest(req); err == nil {
		t.Fatal("expected error when message_type does not match payload variant")
	}
}

func TestValidateIngestBatchRequestRejectsEmptyPayload(t *testing.T) {
	req := validRequest()
	req.Events[0].Payload = contracts.Message{MessageType: "STATUS"}
	if err := validateIngestBatchRequest(req); err == nil {
		t.Fatal("expected error when payload has no decoded variant")
	}
}

func TestValidateIngestBatchRequestRejectsMissingClientID(t *testing.T) {
	req := validRequest()
	req.Events[0].EventIDContext.ClientID = ""
	if err := validateIngestBatchRequest(req); err == nil {
		t.Fatal("expected error for missing client_id")
	}
}

func TestValidateIngestBatchRequestRejectsMissingBootID(t *testing.T) {
	req := validRequest()
	req.Events[0].EventIDContext.BootID = ""
	if err := validateIngestBatchRequest(req); err == nil {
		t.Fatal("expected error for missing boot_id")
	}
}
