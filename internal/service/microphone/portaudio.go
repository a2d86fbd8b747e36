//go:build portaudio

package microphone

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures the default input device through PortAudio.
type PortAudioSource struct {
	opts            Options
	framesPerBuffer int
}

// NewPortAudioSource creates a source reading 100 ms buffers.
func NewPortAudioSource(opts Options) *PortAudioSource {
	opts = opts.withDefaults()
	return &PortAudioSource{opts: opts, framesPerBuffer: opts.SampleRate / 10}
}

func (s *PortAudioSource) Acquire(ctx context.Context) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}

	in := make([]int16, s.framesPerBuffer*s.opts.Channels)
	stream, err := portaudio.OpenDefaultStream(s.opts.Channels, 0, float64(s.opts.SampleRate), s.framesPerBuffer, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to start input stream: %v", ErrDeviceUnavailable, err)
	}

	return &portAudioStream{
		stream: stream,
		in:     in,
		format: Format{SampleRate: s.opts.SampleRate, Channels: s.opts.Channels},
	}, nil
}

type portAudioStream struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	in      []int16
	pending []byte
	format  Format

	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		if s.stream == nil {
			return 0, fmt.Errorf("portaudio stream released")
		}
		if err := s.stream.Read(); err != nil {
			return 0, fmt.Errorf("portaudio read: %w", err)
		}
		s.pending = make([]byte, len(s.in)*2)
		for i, v := range s.in {
			binary.LittleEndian.PutUint16(s.pending[i*2:], uint16(v))
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *portAudioStream) Format() Format {
	return s.format
}

func (s *portAudioStream) Release() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stream != nil {
			if err := s.stream.Stop(); err != nil {
				s.stopErr = err
			}
			s.stream.Close()
			s.stream = nil
		}
		portaudio.Terminate()
	})
	return s.stopErr
}
