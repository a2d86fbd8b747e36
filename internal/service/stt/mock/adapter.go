// Package mock provides a mock transcriber for running without a
// transcription service. It cycles through canned classroom utterances.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"classroom-voice-capture/internal/service/stt"
)

// DefaultUtterances are returned in order, one per call.
var DefaultUtterances = []string{
	"good morning everyone",
	"please open your notebooks to chapter four.",
	"today we are going to talk about photosynthesis",
	"can anyone tell me what plants need to grow?",
	"that's right, sunlight and water!",
}

// Adapter implements stt.Transcriber with canned responses.
type Adapter struct {
	mu         sync.Mutex
	utterances []string
	next       int
	delay      time.Duration
	failures   []error

	calls       int
	inFlight    int
	maxInFlight int
	received    [][]byte
}

// New creates a mock that replies after delay.
func New(delay time.Duration) *Adapter {
	return &Adapter{utterances: DefaultUtterances, delay: delay}
}

// WithUtterances replaces the canned replies.
func (a *Adapter) WithUtterances(utterances ...string) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utterances = utterances
	a.next = 0
	return a
}

// FailNext makes the next calls return errs, one per call, in order.
func (a *Adapter) FailNext(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, errs...)
}

func (a *Adapter) Name() string {
	return "mock"
}

// Transcribe waits for the configured delay, then returns the next
// utterance or queued failure.
func (a *Adapter) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	a.mu.Lock()
	a.calls++
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	a.received = append(a.received, append([]byte(nil), req.PCM...))
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return "", stt.NewTranscriptionError("mock", "", "cancelled",
				fmt.Errorf("%w: %w", stt.ErrDispatchFailure, ctx.Err()), true)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.failures) > 0 {
		err := a.failures[0]
		a.failures = a.failures[1:]
		return "", err
	}
	if len(a.utterances) == 0 {
		return "", nil
	}
	text := a.utterances[a.next%len(a.utterances)]
	a.next++
	return text, nil
}

// Calls returns the number of Transcribe calls.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (a *Adapter) MaxInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}

// Received returns a copy of the audio of every call.
func (a *Adapter) Received() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]byte(nil), a.received...)
}
