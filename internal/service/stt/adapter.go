// Package stt defines the interface for remote Speech-to-Text services.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Request is one dispatch worth of audio.
type Request struct {
	// ID identifies the dispatch in logs; providers may forward it.
	ID string
	// PCM is signed 16-bit little-endian audio.
	PCM        []byte
	SampleRate int
	Channels   int
	// Language is the target output language code.
	Language string
}

// Transcriber turns a dispatch of audio into text.
type Transcriber interface {
	// Transcribe uploads the audio and returns the recognized text.
	// Failures wrap ErrDispatchFailure or ErrMalformedResponse.
	Transcribe(ctx context.Context, req Request) (string, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

var (
	// ErrDispatchFailure covers network errors, timeouts and non-2xx
	// responses. The audio was not confirmed delivered.
	ErrDispatchFailure = errors.New("dispatch failed")

	// ErrMalformedResponse means the service answered but the body could
	// not be decoded. The audio was delivered.
	ErrMalformedResponse = errors.New("malformed transcription response")

	// ErrEmptyAudio is returned when there is nothing to upload.
	ErrEmptyAudio = errors.New("audio data is empty")
)

// TranscriptionError represents a provider failure.
type TranscriptionError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// NewTranscriptionError creates a new TranscriptionError.
func NewTranscriptionError(provider, code, message string, cause error, retryable bool) *TranscriptionError {
	return &TranscriptionError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

func (e *TranscriptionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s transcription error [%s]: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s transcription error: %s", e.Provider, e.Message)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Cause
}

// Is matches another TranscriptionError by provider and code, or the cause.
func (e *TranscriptionError) Is(target error) bool {
	if e.Cause != nil && errors.Is(e.Cause, target) {
		return true
	}
	t, ok := target.(*TranscriptionError)
	if !ok {
		return false
	}
	return e.Provider == t.Provider && e.Code == t.Code
}

// Retryable reports whether resending the same audio may succeed. Errors
// without a TranscriptionError in their chain are treated as transient.
func Retryable(err error) bool {
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}

// Kind classifies err for metrics: "malformed", "dispatch" or "other".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrDispatchFailure):
		return "dispatch"
	default:
		return "other"
	}
}
