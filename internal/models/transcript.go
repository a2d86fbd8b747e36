// Package models defines the data structures for transcript events.
package models

// Event types carried in the eventType field and Kafka header.
const (
	EventTypeUpdate    = "classroom.transcript.update"
	EventTypeCommitted = "classroom.transcript.committed"
)

// TranscriptUpdate is emitted whenever the running transcript of a live
// session changes.
type TranscriptUpdate struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	Timestamp  int64   `json:"timestamp"`
	Status     string  `json:"status"`
	Reason     string  `json:"reason,omitempty"`
	Transcript string  `json:"transcript"`
	Loudness   float64 `json:"loudness"`
}

// TranscriptCommitted is emitted once per session when its transcript is
// appended to history.
type TranscriptCommitted struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Language  string `json:"language"`
	Text      string `json:"text"`
}
