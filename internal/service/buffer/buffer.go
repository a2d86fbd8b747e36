// Package buffer holds finalized audio chunks until a dispatch confirms
// their delivery.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DispatchState is the delivery state of a chunk.
type DispatchState int

const (
	StatePending DispatchState = iota
	StateInFlight
	StateSent
)

func (s DispatchState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateSent:
		return "SENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

var (
	ErrEmpty            = errors.New("no pending chunks")
	ErrSnapshotInFlight = errors.New("a snapshot is already in flight")
	ErrUnknownSnapshot  = errors.New("snapshot is not the one in flight")
)

// Chunk is one finalized range of s16le PCM.
type Chunk struct {
	ID        string
	Data      []byte
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	State     DispatchState
}

// Size returns the chunk length in bytes.
func (c Chunk) Size() int {
	return len(c.Data)
}

// Snapshot is the set of chunks handed to one dispatch call.
type Snapshot struct {
	seq      uint64
	ChunkIDs []string
	Data     []byte
	Duration time.Duration
}

// Size returns the number of bytes in the snapshot.
func (s *Snapshot) Size() int {
	return len(s.Data)
}

// Buffer is a FIFO of chunks with at most one snapshot in flight. It is safe
// for one producer and one consumer running concurrently.
type Buffer struct {
	mu       sync.Mutex
	chunks   []*Chunk
	inFlight *Snapshot
	seq      uint64
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append enqueues a chunk as pending.
func (b *Buffer) Append(c Chunk) {
	c.State = StatePending
	b.mu.Lock()
	b.chunks = append(b.chunks, &c)
	b.mu.Unlock()
}

// Snapshot marks every pending chunk in flight and returns their
// concatenated bytes in append order.
func (b *Buffer) Snapshot() (*Snapshot, error) {
	return b.SnapshotUpTo(0)
}

// SnapshotUpTo is Snapshot limited to the oldest pending chunks whose total
// size fits in maxBytes. The oldest chunk is always taken, even when it
// alone exceeds the limit. maxBytes <= 0 means no limit.
func (b *Buffer) SnapshotUpTo(maxBytes int) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight != nil {
		return nil, ErrSnapshotInFlight
	}

	var picked []*Chunk
	size := 0
	for _, c := range b.chunks {
		if c.State != StatePending {
			continue
		}
		if maxBytes > 0 && len(picked) > 0 && size+len(c.Data) > maxBytes {
			break
		}
		picked = append(picked, c)
		size += len(c.Data)
	}
	if size == 0 {
		return nil, ErrEmpty
	}

	b.seq++
	snap := &Snapshot{seq: b.seq, Data: make([]byte, 0, size)}
	for _, c := range picked {
		c.State = StateInFlight
		snap.ChunkIDs = append(snap.ChunkIDs, c.ID)
		snap.Data = append(snap.Data, c.Data...)
		snap.Duration += c.Duration
	}
	b.inFlight = snap
	return snap, nil
}

// Commit prunes exactly the chunks of snap and returns them marked sent.
func (b *Buffer) Commit(snap *Snapshot) ([]Chunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkInFlight(snap); err != nil {
		return nil, err
	}

	var sent []Chunk
	kept := b.chunks[:0]
	for _, c := range b.chunks {
		if c.State == StateInFlight {
			c.State = StateSent
			sent = append(sent, *c)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(b.chunks); i++ {
		b.chunks[i] = nil
	}
	b.chunks = kept
	b.inFlight = nil
	return sent, nil
}

// Release returns the chunks of snap to pending so the next snapshot
// includes them again.
func (b *Buffer) Release(snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkInFlight(snap); err != nil {
		return err
	}
	for _, c := range b.chunks {
		if c.State == StateInFlight {
			c.State = StatePending
		}
	}
	b.inFlight = nil
	return nil
}

func (b *Buffer) checkInFlight(snap *Snapshot) error {
	if snap == nil || b.inFlight == nil || snap.seq != b.inFlight.seq {
		return ErrUnknownSnapshot
	}
	return nil
}

// PendingBytes returns the number of bytes not yet in flight.
func (b *Buffer) PendingBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.chunks {
		if c.State == StatePending {
			n += len(c.Data)
		}
	}
	return n
}

// Bytes returns the number of bytes held, in flight or not.
func (b *Buffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.chunks {
		n += len(c.Data)
	}
	return n
}

// Len returns the number of chunks held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Clear drops every chunk and any in-flight snapshot.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.inFlight = nil
}
