// Package segment splits a continuous capture stream into bounded chunks
// using loudness-based voice activity detection.
package segment

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a segmenter.
type State int

const (
	// StateIdle - no capture session; ticks are rejected.
	StateIdle State = iota
	// StateListening - capture is running and ticks drive cut decisions.
	StateListening
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Decision is the outcome of one tick.
type Decision int

const (
	// DecisionNone - keep recording into the open range.
	DecisionNone Decision = iota
	// DecisionCut - the open range was finalized into a chunk.
	DecisionCut
	// DecisionDiscard - the open range held no speech and was dropped.
	DecisionDiscard
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "NONE"
	case DecisionCut:
		return "CUT"
	case DecisionDiscard:
		return "DISCARD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", d)
	}
}

// Errors for invalid state transitions.
var (
	ErrNotListening     = errors.New("segmenter is not listening")
	ErrAlreadyListening = errors.New("segmenter is already listening")
)
