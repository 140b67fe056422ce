package eventbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event types accepted on POST /events.
const (
	TypePipelineInit   = "pipeline.init"
	TypeStepDispatch   = "step.dispatch"
	TypeStepOutcome    = "step.outcome"
	TypeStepFailure    = "step.failure"
	TypeSessionResume  = "session.resume"
	TypeSessionRecover = "session.recover"
)

// ErrBadEvent marks events rejected before any state changed. The server
// answers them with 400.
var ErrBadEvent = errors.New("eventbridge: bad event")

// Event is a single request from the host plugin.
type Event struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	ClientTime time.Time       `json:"client_time"`
	ServerTime time.Time       `json:"server_time"`
	SessionID  string          `json:"session_id"`
	Payload    json.RawMessage `json:"payload"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.SessionID = strings.TrimSpace(e.SessionID)
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if !KnownType(e.Type) {
		return fmt.Errorf("unsupported event type %q", e.Type)
	}
	if e.SessionID == "" && e.Type != TypePipelineInit {
		return errors.New("session_id is required")
	}
	return nil
}

// KnownType reports whether the bridge handles events of this type.
func KnownType(kind string) bool {
	switch kind {
	case TypePipelineInit, TypeStepDispatch, TypeStepOutcome, TypeStepFailure, TypeSessionResume, TypeSessionRecover:
		return true
	}
	return false
}

// DecodePayload unmarshals the event payload into dst. An absent payload
// leaves dst untouched.
func (e Event) DecodePayload(dst any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrBadEvent, e.Type, err)
	}
	return nil
}

// EventProcessor consumes validated events and returns a JSON-encodable
// result for the caller.
type EventProcessor interface {
	HandleEvent(Event) (any, error)
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) (any, error)

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) (any, error) {
	if f == nil {
		return nil, nil
	}
	return f(e)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	EventID    string    `json:"event_id"`
	ServerTime time.Time `json:"server_time"`
	Result     any       `json:"result,omitempty"`
}
