package segment

import (
	"sync"
	"time"
)

// Range is the audio captured between two flush markers.
type Range struct {
	Data      []byte
	StartedAt time.Time
	EndedAt   time.Time
}

// Recorder is a streaming PCM arena. Capture appends to it continuously;
// Flush places a marker that closes the current range and opens the next
// one at the same instant, so no audio is lost between ranges and capture
// never stops.
type Recorder struct {
	mu         sync.Mutex
	data       []byte
	rangeStart time.Time
	now        func() time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now, rangeStart: time.Now()}
}

// Write appends PCM to the open range.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.data = append(r.data, p...)
	r.mu.Unlock()
	return len(p), nil
}

// Flush closes the open range and returns it. The range ends on a 16-bit
// sample boundary; a split sample's first byte opens the next range.
func (r *Recorder) Flush() Range {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := len(r.data) &^ 1
	out := Range{Data: r.data[:n:n], StartedAt: r.rangeStart, EndedAt: now}
	next := make([]byte, 0, cap(r.data))
	r.data = append(next, r.data[n:]...)
	r.rangeStart = now
	return out
}

// Mark drops whatever the open range holds and starts a new one.
func (r *Recorder) Mark() int {
	return len(r.Flush().Data)
}

// Len returns the size of the open range in bytes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}
