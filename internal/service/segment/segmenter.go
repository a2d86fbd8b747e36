package segment

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/service/buffer"
)

// Thresholds tune the cut decision.
type Thresholds struct {
	SilenceThreshold float64
	SilenceDuration  time.Duration
	MinChunk         time.Duration
	MaxChunk         time.Duration
	TickInterval     time.Duration
}

// DefaultThresholds returns the classroom defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SilenceThreshold: 0.015,
		SilenceDuration:  1200 * time.Millisecond,
		MinChunk:         800 * time.Millisecond,
		MaxChunk:         4 * time.Second,
		TickInterval:     100 * time.Millisecond,
	}
}

// Sink receives finalized chunks.
type Sink interface {
	Append(c buffer.Chunk)
}

// Segmenter decides where to cut the capture stream. Each tick advances an
// internal clock by the tick interval, so decisions depend only on the
// sequence of loudness values.
//
// A cut happens when silence has lasted SilenceDuration and the open range
// is at least MinChunk long, or unconditionally at MaxChunk. A range in
// which no tick reached SilenceThreshold is discarded instead of queued.
type Segmenter struct {
	mu     sync.Mutex
	th     Thresholds
	rec    *Recorder
	sink   Sink
	ids    *Generator
	logger zerolog.Logger

	sessionId    string
	state        State
	elapsed      time.Duration
	silence      time.Duration
	speechSeen   bool
	lastLoudness float64
}

// New creates an idle segmenter that cuts rec into sink.
func New(th Thresholds, rec *Recorder, sink Sink) *Segmenter {
	if th.TickInterval <= 0 {
		th.TickInterval = DefaultThresholds().TickInterval
	}
	return &Segmenter{
		th:     th,
		rec:    rec,
		sink:   sink,
		logger: logging.WithComponent("segmenter"),
	}
}

// Start moves Idle to Listening and opens a fresh range.
func (s *Segmenter) Start(sessionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateListening {
		return ErrAlreadyListening
	}
	s.state = StateListening
	s.sessionId = sessionId
	s.ids = NewGenerator()
	s.logger = logging.WithSession("segmenter", sessionId)
	s.resetRange()
	s.rec.Mark()
	return nil
}

// OnTick feeds one loudness sample and applies the cut rule.
func (s *Segmenter) OnTick(loudness float64) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateListening {
		return DecisionNone, ErrNotListening
	}

	s.lastLoudness = loudness
	if loudness < s.th.SilenceThreshold {
		s.silence += s.th.TickInterval
	} else {
		s.silence = 0
		s.speechSeen = true
	}
	s.elapsed += s.th.TickInterval

	silenceCut := s.silence >= s.th.SilenceDuration && s.elapsed >= s.th.MinChunk
	if !silenceCut && s.elapsed < s.th.MaxChunk {
		return DecisionNone, nil
	}
	return s.finalize(), nil
}

// Stop moves Listening to Idle and flushes the open range. The returned
// chunk is nil when the range held no speech.
func (s *Segmenter) Stop() (*buffer.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateListening {
		return nil, ErrNotListening
	}
	s.state = StateIdle

	var tail *buffer.Chunk
	if s.speechSeen {
		r := s.rec.Flush()
		if len(r.Data) > 0 {
			c := s.chunk(r)
			s.sink.Append(c)
			tail = &c
		}
	} else {
		dropped := s.rec.Mark()
		s.logger.Debug().Int("bytes", dropped).Msg("Discarded silent tail")
	}
	s.resetRange()
	return tail, nil
}

func (s *Segmenter) finalize() Decision {
	defer s.resetRange()

	if !s.speechSeen {
		dropped := s.rec.Mark()
		s.logger.Debug().
			Dur("elapsed", s.elapsed).
			Int("bytes", dropped).
			Msg("Discarded range without speech")
		return DecisionDiscard
	}

	r := s.rec.Flush()
	if len(r.Data) == 0 {
		return DecisionDiscard
	}
	c := s.chunk(r)
	s.sink.Append(c)
	chunkLogger := logging.WithChunk("segmenter", s.sessionId, c.ID)
	chunkLogger.Debug().
		Dur("duration", c.Duration).
		Int("bytes", c.Size()).
		Msg("Chunk finalized")
	return DecisionCut
}

func (s *Segmenter) chunk(r Range) buffer.Chunk {
	return buffer.Chunk{
		ID:        s.ids.Next(s.sessionId),
		Data:      r.Data,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Duration:  s.elapsed,
	}
}

func (s *Segmenter) resetRange() {
	s.elapsed = 0
	s.silence = 0
	s.speechSeen = false
}

// State returns the current state.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastLoudness returns the most recent tick's loudness.
func (s *Segmenter) LastLoudness() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLoudness
}

// Elapsed returns the length of the open range.
func (s *Segmenter) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}
