package stt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeWAV_RoundTrip(t *testing.T) {
	pcm := make([]byte, 8)
	for i, v := range []int16{0, 1000, -1000, 32767} {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	data, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("unexpected header: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	want := []int{0, 1000, -1000, 32767}
	if len(buf.Data) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], buf.Data[i])
		}
	}
}

func TestEncodeWAV_Empty(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000, 1); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestTranscriptionError_Is(t *testing.T) {
	err := NewTranscriptionError("http", "503", "service unavailable", ErrDispatchFailure, true)

	if !errors.Is(err, ErrDispatchFailure) {
		t.Error("expected errors.Is to match the cause")
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Error("did not expect a malformed match")
	}
	if !errors.Is(err, &TranscriptionError{Provider: "http", Code: "503"}) {
		t.Error("expected provider/code match")
	}

	wrapped := fmt.Errorf("tick: %w", err)
	var te *TranscriptionError
	if !errors.As(wrapped, &te) || !te.Retryable {
		t.Errorf("expected retryable TranscriptionError via errors.As, got %v", te)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", ErrMalformedResponse), "malformed"},
		{NewTranscriptionError("http", "", "timeout", ErrDispatchFailure, true), "dispatch"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", NewTranscriptionError("http", "503", "unavailable", ErrDispatchFailure, true), true},
		{"bad request", NewTranscriptionError("http", "400", "bad request", ErrDispatchFailure, false), false},
		{"wrapped rejection", fmt.Errorf("dispatch 3: %w", NewTranscriptionError("google", "InvalidArgument", "too long", ErrDispatchFailure, false)), false},
		{"plain error", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
