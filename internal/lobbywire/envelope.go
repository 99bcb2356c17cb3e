// Package lobbywire implements the Lobby Codec (spec §4.6): envelope
// parsing, per-command schema validation dispatch, and the
// response/event builders for the JSON text protocol spoken over the
// duplex channel to the lobby (spec §6.2).
package lobbywire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// InEnvelope is a decoded inbound frame, before command-specific
// validation. Data is left raw so dispatch can hand it to the
// command's own decoder (spec §4.6 step 1: "everything else is
// passthrough until command-specific validation").
type InEnvelope struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId"`
	CommandID string          `json:"commandId"`
	Data      json.RawMessage `json:"data"`
}

// OutEnvelope is an outbound response or event frame (spec §4.6 step
// 3). Fields not meaningful for a given Type/Status are omitted.
type OutEnvelope struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	CommandID string `json:"commandId"`
	MessageID string `json:"messageId"`
	Data      any    `json:"data,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Details   string `json:"details,omitempty"`
}

// ParseError reports a malformed envelope (spec §4.6 step 1).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "lobbywire: " + e.Reason }

// ParseEnvelope validates that raw decodes to a JSON object with the
// required envelope shape: type one of request/response/event, and
// non-empty string messageId/commandId (spec §4.6 step 1).
func ParseEnvelope(raw []byte) (InEnvelope, error) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InEnvelope{}, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	switch env.Type {
	case "request", "response", "event":
	default:
		return InEnvelope{}, &ParseError{Reason: fmt.Sprintf("invalid type %q", env.Type)}
	}
	if env.MessageID == "" {
		return InEnvelope{}, &ParseError{Reason: "missing messageId"}
	}
	if env.CommandID == "" {
		return InEnvelope{}, &ParseError{Reason: "missing commandId"}
	}
	return env, nil
}

// SuccessResponse builds a `response/success` envelope for commandID
// and messageID carrying data (spec §4.6 step 3).
func SuccessResponse(commandID, messageID string, data any) OutEnvelope {
	return OutEnvelope{Type: "response", Status: "success", CommandID: commandID, MessageID: messageID, Data: data}
}

// FailedResponse builds a `response/failed` envelope.
func FailedResponse(commandID, messageID, reason, details string) OutEnvelope {
	return OutEnvelope{Type: "response", Status: "failed", CommandID: commandID, MessageID: messageID, Reason: reason, Details: details}
}

// NewEvent builds an `event` envelope with a fresh UUID messageId
// (spec §4.6 step 3: "Events are assigned a fresh UUID messageId").
func NewEvent(commandID string, data any) OutEnvelope {
	return OutEnvelope{Type: "event", CommandID: commandID, MessageID: uuid.NewString(), Data: data}
}

// DecodeStrict unmarshals data into v, rejecting unknown fields so
// schema violations surface as a decode error (spec §4.6 step 2:
// "validate data against the command's schema"). A nil/empty data is
// treated as an empty object, since several commands take no payload.
func DecodeStrict(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("lobbywire: decoding %T: %w", v, err)
	}
	return nil
}
