// Package protocol defines the named events exchanged with the detection
// backend: inbound update/error/status payloads and outbound operator
// commands, all carried in a JSON envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound event names.
const (
	EventUpdate = "update"
	EventError  = "error"
	EventStatus = "status"
)

// ErrInvalidPayload is returned when an inbound payload fails decoding or
// schema validation.
var ErrInvalidPayload = errors.New("invalid payload")

// Envelope is a named event with its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a raw frame into an envelope.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decoding envelope: missing event name")
	}
	return env, nil
}

// Encode serializes the envelope to a single frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// TrafficKind selects the traffic profile a simulation produces.
type TrafficKind string

const (
	TrafficNormal TrafficKind = "normal"
	TrafficDDoS   TrafficKind = "ddos"
)

// ParseTrafficKind accepts "normal" or "ddos" in any case.
func ParseTrafficKind(s string) (TrafficKind, bool) {
	switch TrafficKind(strings.ToLower(strings.TrimSpace(s))) {
	case TrafficNormal:
		return TrafficNormal, true
	case TrafficDDoS:
		return TrafficDDoS, true
	}
	return "", false
}

// ErrorEvent is an out-of-band error reported by the backend.
type ErrorEvent struct {
	Message string `json:"message"`
}

// DecodeError parses an error payload. A payload that is a bare string is
// taken as the message.
func DecodeError(data json.RawMessage) (ErrorEvent, error) {
	var ev ErrorEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		var msg string
		if serr := json.Unmarshal(data, &msg); serr != nil {
			return ErrorEvent{}, fmt.Errorf("%w: error event: %v", ErrInvalidPayload, err)
		}
		ev.Message = msg
	}
	if strings.TrimSpace(ev.Message) == "" {
		return ErrorEvent{}, fmt.Errorf("%w: error event without message", ErrInvalidPayload)
	}
	return ev, nil
}

// Status is a backend acknowledgement. Each field is present only when the
// backend reported it.
type Status struct {
	Running     *bool        `json:"running,omitempty"`
	Type        *TrafficKind `json:"type,omitempty"`
	Neutralized *bool        `json:"neutralized,omitempty"`
	RateLimit   *bool        `json:"rate_limit,omitempty"`
	Blocked     []string     `json:"blocked,omitempty"`
}

// DecodeStatus parses a status payload.
func DecodeStatus(data json.RawMessage) (Status, error) {
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("%w: status event: %v", ErrInvalidPayload, err)
	}
	return st, nil
}
