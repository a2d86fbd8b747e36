package microphone

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// WAVFileSource replays a PCM WAV file as if it were a live microphone.
// Multi-channel files are downmixed to mono and samples are rescaled to
// 16 bits.
type WAVFileSource struct {
	path     string
	realtime bool
	frame    time.Duration
}

// NewWAVFileSource creates a source that replays path. When realtime is
// set, Read paces delivery to the file's sample rate.
func NewWAVFileSource(path string, realtime bool) *WAVFileSource {
	return &WAVFileSource{path: path, realtime: realtime, frame: 100 * time.Millisecond}
}

func (s *WAVFileSource) Acquire(ctx context.Context) (Stream, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrDeviceUnavailable, s.path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	pcm := downmixS16(buf.Data, channels, int(dec.BitDepth))
	format := Format{SampleRate: int(dec.SampleRate), Channels: 1}

	frameBytes := format.BytesPerSecond() * int(s.frame/time.Millisecond) / 1000
	if frameBytes < 2 {
		frameBytes = 2
	}
	frameBytes &^= 1

	return &wavStream{
		pcm:        pcm,
		format:     format,
		realtime:   s.realtime,
		frameBytes: frameBytes,
		started:    time.Now(),
		done:       make(chan struct{}),
	}, nil
}

func downmixS16(samples []int, channels, bitDepth int) []byte {
	shift := bitDepth - 16
	frames := len(samples) / channels
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		v := sum / channels
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

type wavStream struct {
	mu         sync.Mutex
	pcm        []byte
	offset     int
	format     Format
	realtime   bool
	frameBytes int
	started    time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func (s *wavStream) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	if s.offset >= len(s.pcm) {
		s.mu.Unlock()
		return 0, io.EOF
	}
	n := len(p)
	if n > s.frameBytes {
		n = s.frameBytes
	}
	if remaining := len(s.pcm) - s.offset; n > remaining {
		n = remaining
	}
	copy(p, s.pcm[s.offset:s.offset+n])
	s.offset += n
	due := s.started.Add(time.Duration(s.offset) * time.Second / time.Duration(s.format.BytesPerSecond()))
	s.mu.Unlock()

	if s.realtime {
		if wait := time.Until(due); wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.done:
				return n, io.EOF
			}
		}
	}
	return n, nil
}

func (s *wavStream) Format() Format {
	return s.format
}

func (s *wavStream) Release() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
