// Package schema validates outgoing events against their JSON schemas.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"classroom-voice-capture/internal/models"
)

// ErrInvalidEvent is returned when an event does not match its schema.
var ErrInvalidEvent = errors.New("event does not match schema")

const updateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["eventType", "sessionId", "timestamp", "status", "transcript"],
  "properties": {
    "eventType": {"const": "classroom.transcript.update"},
    "sessionId": {"type": "string", "minLength": 1},
    "timestamp": {"type": "integer", "minimum": 0},
    "status": {"enum": ["idle", "listening", "processing", "error"]},
    "reason": {"type": "string"},
    "transcript": {"type": "string"},
    "loudness": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const committedSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["eventType", "sessionId", "timestamp", "language", "text"],
  "properties": {
    "eventType": {"const": "classroom.transcript.committed"},
    "sessionId": {"type": "string", "minLength": 1},
    "timestamp": {"type": "integer", "minimum": 0},
    "language": {"type": "string", "minLength": 1},
    "text": {"type": "string", "minLength": 1}
  }
}`

// Validator checks events by their eventType.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// New compiles the built-in event schemas.
func New() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for eventType, src := range map[string]string{
		models.EventTypeUpdate:    updateSchema,
		models.EventTypeCommitted: committedSchema,
	} {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", eventType, err)
		}
		v.schemas[eventType] = s
	}
	return v, nil
}

// Validate checks payload against the schema for eventType. Unknown event
// types are rejected.
func (v *Validator) Validate(eventType string, payload []byte) error {
	s, ok := v.schemas[eventType]
	if !ok {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, eventType)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", eventType, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.Field()+": "+e.Description())
	}
	return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(msgs, "; "))
}

// ValidateEvent marshals event and validates it.
func (v *Validator) ValidateEvent(eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", eventType, err)
	}
	return v.Validate(eventType, payload)
}
