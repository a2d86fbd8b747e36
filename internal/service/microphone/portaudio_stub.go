//go:build !portaudio

package microphone

import (
	"context"
	"fmt"
)

// PortAudioSource is unavailable in builds without the portaudio tag.
type PortAudioSource struct{}

func NewPortAudioSource(opts Options) *PortAudioSource {
	return &PortAudioSource{}
}

func (s *PortAudioSource) Acquire(ctx context.Context) (Stream, error) {
	return nil, fmt.Errorf("%w: binary built without portaudio support", ErrDeviceUnavailable)
}
