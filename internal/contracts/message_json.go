package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/bmxtiming/p3server/internal/p3message"
)

// MarshalJSON flattens the selected variant's fields into a single object
// tagged with "message_type", matching the original protocol crate's
// #[serde(tag = "message_type")] representation.
func (m Message) MarshalJSON() ([]byte, error) {
	var variant any
	switch {
	case m.Passing != nil:
		variant = m.Passing
	case m.Status != nil:
		variant = m.Status
	case m.Version != nil:
		variant = m.Version
	default:
		return nil, fmt.Errorf("contracts: Message has no populated payload variant")
	}

	variantBytes, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(variantBytes, &fields); err != nil {
		return nil, err
	}

	tagBytes, err := json.Marshal(m.MessageType)
	if err != nil {
		return nil, err
	}
	fields["message_type"] = tagBytes

	return json.Marshal(fields)
}

// UnmarshalJSON reads a message_type-tagged flat object and populates the
// matching variant field.
func (m *Message) UnmarshalJSON(data []byte) error {
	var tag struct {
		MessageType string `json:"message_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	m.MessageType = tag.MessageType
	switch tag.MessageType {
	case "PASSING":
		var p p3message.PassingMessage
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.Passing = &p
	case "STATUS":
		var s p3message.StatusMessage
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		m.Status = &s
	case "VERSION":
		var v p3message.VersionMessage
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Version = &v
	default:
		return fmt.Errorf("contracts: unknown message_type %q", tag.MessageType)
	}

	return nil
}
