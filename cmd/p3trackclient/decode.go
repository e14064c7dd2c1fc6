package main

import (
	"fmt"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/p3codec"
	"github.com/bmxtiming/p3server/internal/p3message"
)

// messageFromFrame converts a decoded wire frame into the contracts.Message
// shape carried in an ingest event. RESEND frames and any type this protocol
// revision does not carry a dedicated payload for are reported as an error
// so the caller can log and skip them, matching how a CRC or TLV parse
// failure is handled.
func messageFromFrame(frame *p3codec.Frame) (contracts.Message, error) {
	switch frame.Type {
	case p3codec.MessageTypePassing:
		passing, err := p3message.PassingFromFields(frame.Fields)
		if err != nil {
			return contracts.Message{}, err
		}
		return contracts.Message{MessageType: "PASSING", Passing: passing}, nil

	case p3codec.MessageTypeStatus:
		status, err := p3message.StatusFromFields(frame.Fields)
		if err != nil {
			return contracts.Message{}, err
		}
		return contracts.Message{MessageType: "STATUS", Status: status}, nil

	case p3codec.MessageTypeVersion:
		version, err := p3message.VersionFromFields(frame.Fields)
		if err != nil {
			return contracts.Message{}, err
		}
		return contracts.Message{MessageType: "VERSION", Version: version}, nil

	default:
		return contracts.Message{}, fmt.Errorf("unsupported frame type %s", frame.Type)
	}
}
