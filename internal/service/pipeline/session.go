package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"classroom-voice-capture/internal/observability/metrics"
	"classroom-voice-capture/internal/service/buffer"
	"classroom-voice-capture/internal/service/dispatch"
	"classroom-voice-capture/internal/service/history"
	"classroom-voice-capture/internal/service/level"
	"classroom-voice-capture/internal/service/microphone"
	"classroom-voice-capture/internal/service/segment"
	"classroom-voice-capture/internal/service/transcript"
)

// Session describes an active capture session.
type Session struct {
	ID        string    `json:"sessionId"`
	Language  string    `json:"language"`
	StartedAt time.Time `json:"startedAt"`
}

// Status is the coarse state reported to the host.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusProcessing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusListening:
		return "listening"
	case StatusProcessing:
		return "processing"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reasons attached to status updates.
const (
	ReasonListening        = "listening"
	ReasonProcessing       = "processing"
	ReasonDispatchFailed   = "dispatch_failed"
	ReasonDispatchRejected = "dispatch_rejected"
	ReasonMicrophoneError  = "microphone_error"
	ReasonStopped          = "stopped"
	ReasonReset            = "reset"
)

// Update is one observation pushed to the host.
type Update struct {
	SessionID  string    `json:"sessionId,omitempty"`
	Loudness   float64   `json:"loudness"`
	Transcript string    `json:"transcript"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

// chunkSink appends finalized chunks to the buffer and records them.
type chunkSink struct {
	buf     *buffer.Buffer
	metrics *metrics.Metrics
}

func (c chunkSink) Append(chunk buffer.Chunk) {
	c.buf.Append(chunk)
	c.metrics.RecordChunkCreated(chunk.Duration.Seconds())
	c.metrics.RecordBufferBytes(c.buf.Bytes())
}

// session owns everything that lives between Start and Stop.
type session struct {
	info   Session
	logger zerolog.Logger

	rec        *segment.Recorder
	monitor    *level.Monitor
	seg        *segment.Segmenter
	buf        *buffer.Buffer
	assembler  *transcript.Assembler
	dispatcher *dispatch.Dispatcher

	// cancel stops capture and the tickers. Dispatch calls run on flushCtx
	// so an upload in progress survives cancel and is bounded by the stop
	// flush timeout instead.
	cancel      context.CancelFunc
	flushCtx    context.Context
	flushCancel context.CancelFunc
	// deviceCtx is handed to the microphone backend and cancelled only
	// after the stream has been released.
	deviceCtx    context.Context
	deviceCancel context.CancelFunc

	group   *errgroup.Group
	done    chan struct{}
	waitErr error

	mu       sync.Mutex
	stream   microphone.Stream
	released bool

	finishOnce sync.Once
	entry      history.Entry
	committed  bool
	finishErr  error
}

func (s *session) currentStream() microphone.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// swapStream installs a re-acquired stream. It reports false, releasing
// the stream, if the session already gave up the device.
func (s *session) swapStream(stream microphone.Stream) bool {
	s.mu.Lock()
	if !s.released {
		s.stream = stream
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	_ = stream.Release()
	return false
}

func (s *session) releaseStream() {
	s.mu.Lock()
	stream := s.stream
	already := s.released
	s.released = true
	s.mu.Unlock()

	if already || stream == nil {
		return
	}
	if err := stream.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("Microphone release reported an error")
	}
}
