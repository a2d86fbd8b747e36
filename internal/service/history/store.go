// Package history keeps the transcripts of finished sessions in memory.
package history

import (
	"strings"
	"sync"
	"time"
)

// Entry is one committed transcript. Entries are never modified.
type Entry struct {
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

// Sink is notified after each commit.
type Sink interface {
	OnCommit(e Entry)
}

// Store is an append-only list of entries, optionally bounded to the newest
// maxEntries.
type Store struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
	sinks      []Sink
}

// New creates a store. maxEntries <= 0 means unbounded.
func New(maxEntries int) *Store {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Store{maxEntries: maxEntries}
}

// AddSink registers s to be notified of commits.
func (s *Store) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Commit appends an entry. Blank text is skipped and reported as false.
func (s *Store) Commit(sessionID, text, language string, ts time.Time) (Entry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, false
	}
	e := Entry{Text: text, Language: language, Timestamp: ts, SessionID: sessionID}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		drop := len(s.entries) - s.maxEntries
		s.entries = append(s.entries[:0:0], s.entries[drop:]...)
	}
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.OnCommit(e)
	}
	return e, true
}

// Entries returns a copy of all entries, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
