// Package microphone acquires live PCM capture streams from an input device.
//
// Every backend yields signed 16-bit little-endian mono PCM.
package microphone

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned when permission is denied or no input
// hardware is present. Backends wrap it with the underlying cause.
var ErrDeviceUnavailable = errors.New("microphone device unavailable")

// Format describes the PCM layout of a stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the byte rate of s16le PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Stream is a live capture stream.
type Stream interface {
	// Read fills p with PCM bytes. It blocks until audio is available.
	Read(p []byte) (int, error)
	// Format reports the PCM layout produced by Read.
	Format() Format
	// Release stops capture and frees the device. It is safe to call more
	// than once.
	Release() error
}

// Source opens capture streams.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Options configures a backend.
type Options struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.InputFormat == "" {
		o.InputFormat = "pulse"
	}
	if o.InputDevice == "" {
		o.InputDevice = "default"
	}
	return o
}
