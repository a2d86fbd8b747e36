package schema

import (
	"errors"
	"testing"

	"classroom-voice-capture/internal/models"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	return v
}

func TestValidator_Update(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		event   models.TranscriptUpdate
		wantErr bool
	}{
		{
			name: "valid",
			event: models.TranscriptUpdate{
				EventType: models.EventTypeUpdate, SessionID: "s-1", Timestamp: 1,
				Status: "listening", Transcript: "Hello", Loudness: 0.2,
			},
		},
		{
			name: "unknown status",
			event: models.TranscriptUpdate{
				EventType: models.EventTypeUpdate, SessionID: "s-1", Timestamp: 1, Status: "paused",
			},
			wantErr: true,
		},
		{
			name: "missing session",
			event: models.TranscriptUpdate{
				EventType: models.EventTypeUpdate, Timestamp: 1, Status: "idle",
			},
			wantErr: true,
		},
		{
			name: "loudness out of range",
			event: models.TranscriptUpdate{
				EventType: models.EventTypeUpdate, SessionID: "s-1", Timestamp: 1, Status: "idle", Loudness: 1.5,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateEvent(models.EventTypeUpdate, tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestValidator_Committed(t *testing.T) {
	v := newValidator(t)

	valid := models.TranscriptCommitted{
		EventType: models.EventTypeCommitted, SessionID: "s-1", Timestamp: 1, Language: "en", Text: "Hello world.",
	}
	if err := v.ValidateEvent(models.EventTypeCommitted, valid); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}

	empty := valid
	empty.Text = ""
	if err := v.ValidateEvent(models.EventTypeCommitted, empty); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected empty text to be rejected, got %v", err)
	}
}

func TestValidator_EventTypeMismatch(t *testing.T) {
	v := newValidator(t)

	ev := models.TranscriptCommitted{
		EventType: models.EventTypeUpdate, SessionID: "s-1", Timestamp: 1, Language: "en", Text: "x",
	}
	if err := v.ValidateEvent(models.EventTypeCommitted, ev); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected mismatched eventType to be rejected, got %v", err)
	}
}

func TestValidator_UnknownEventType(t *testing.T) {
	v := newValidator(t)
	if err := v.Validate("classroom.other", []byte(`{}`)); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected unknown type to be rejected, got %v", err)
	}
}
