// Package pipeline runs capture sessions: it wires the microphone, level
// monitor, segmenter, chunk buffer, dispatcher and transcript assembler
// together and commits the result to history when a session ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/observability/metrics"
	"classroom-voice-capture/internal/service/buffer"
	"classroom-voice-capture/internal/service/dispatch"
	"classroom-voice-capture/internal/service/history"
	"classroom-voice-capture/internal/service/level"
	"classroom-voice-capture/internal/service/microphone"
	"classroom-voice-capture/internal/service/segment"
	"classroom-voice-capture/internal/service/stt"
	"classroom-voice-capture/internal/service/transcript"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("a capture session is already active")

	// ErrNoActiveSession is returned by Stop when nothing is running.
	ErrNoActiveSession = errors.New("no active capture session")

	// ErrRecorderRestart means the capture stream failed and could not be
	// re-acquired.
	ErrRecorderRestart = errors.New("failed to restart microphone capture")
)

// Config tunes a pipeline.
type Config struct {
	Thresholds       segment.Thresholds
	DispatchInterval time.Duration
	MinDispatchBytes int
	// MaxDispatchAudio caps the audio sent in one dispatch.
	MaxDispatchAudio time.Duration
	StopFlushTimeout time.Duration
	FrameSize        int
	// ReadSize is the capture read size in bytes.
	ReadSize int
	// Language is used when Start is called without one.
	Language     string
	UpdateBuffer int
}

// DefaultConfig returns the classroom defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:       segment.DefaultThresholds(),
		DispatchInterval: 4 * time.Second,
		MinDispatchBytes: 1000,
		MaxDispatchAudio: 30 * time.Second,
		StopFlushTimeout: 5 * time.Second,
		FrameSize:        level.DefaultFrameSize,
		ReadSize:         3200,
		Language:         "en",
		UpdateBuffer:     64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Thresholds.TickInterval <= 0 {
		c.Thresholds.TickInterval = d.Thresholds.TickInterval
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = d.DispatchInterval
	}
	if c.MaxDispatchAudio <= 0 {
		c.MaxDispatchAudio = d.MaxDispatchAudio
	}
	if c.StopFlushTimeout <= 0 {
		c.StopFlushTimeout = d.StopFlushTimeout
	}
	if c.FrameSize <= 0 {
		c.FrameSize = d.FrameSize
	}
	if c.ReadSize <= 0 {
		c.ReadSize = d.ReadSize
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = d.UpdateBuffer
	}
	return c
}

// Snapshot is the host-facing view of the pipeline.
type Snapshot struct {
	Session     *Session `json:"session,omitempty"`
	Status      Status   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	Transcript  string   `json:"transcript"`
	Loudness    float64  `json:"loudness"`
	Dispatching bool     `json:"dispatching"`
}

// Pipeline owns at most one capture session at a time.
type Pipeline struct {
	source  microphone.Source
	tr      stt.Transcriber
	history *history.Store
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	updates chan Update

	mu             sync.Mutex
	current        *session
	status         Status
	reason         string
	lastTranscript string
	lastLoudness   float64
}

// New creates an idle pipeline. A nil m uses metrics.DefaultMetrics.
func New(source microphone.Source, tr stt.Transcriber, store *history.Store, cfg Config, m *metrics.Metrics) *Pipeline {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		source:  source,
		tr:      tr,
		history: store,
		cfg:     cfg,
		metrics: m,
		logger:  logging.WithComponent("pipeline"),
		updates: make(chan Update, cfg.UpdateBuffer),
	}
}

// Updates streams loudness, transcript and status changes. Updates are
// dropped when the reader falls behind.
func (p *Pipeline) Updates() <-chan Update {
	return p.updates
}

// Start acquires the microphone and begins a session. The session outlives
// ctx; only its values are inherited.
func (p *Pipeline) Start(ctx context.Context, language string) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		return Session{}, ErrSessionActive
	}
	if language == "" {
		language = p.cfg.Language
	}

	// Backends may tie the device to the context they are given, so it
	// must outlive the caller's request.
	base := context.WithoutCancel(ctx)
	deviceCtx, deviceCancel := context.WithCancel(base)

	stream, err := p.source.Acquire(deviceCtx)
	if err != nil {
		deviceCancel()
		p.metrics.RecordMicrophoneError("acquire")
		p.status, p.reason = StatusError, ReasonMicrophoneError
		p.emitLocked("")
		p.logger.Error().Err(err).Msg("Failed to acquire microphone")
		return Session{}, fmt.Errorf("failed to acquire microphone: %w", err)
	}

	info := Session{ID: uuid.NewString(), Language: language, StartedAt: time.Now().UTC()}
	format := stream.Format()

	s := &session{
		info:      info,
		logger:    logging.WithSession("pipeline", info.ID),
		rec:       segment.NewRecorder(),
		monitor:   level.NewMonitor(p.cfg.FrameSize),
		buf:       buffer.New(),
		assembler: transcript.New(),
		stream:    stream,
		done:      make(chan struct{}),

		deviceCtx:    deviceCtx,
		deviceCancel: deviceCancel,
	}
	s.seg = segment.New(p.cfg.Thresholds, s.rec, chunkSink{buf: s.buf, metrics: p.metrics})
	s.dispatcher = dispatch.New(s.buf, p.tr, s.assembler, dispatch.Config{
		SessionId:  info.ID,
		Language:   language,
		MinBytes:   p.cfg.MinDispatchBytes,
		MaxBytes:   int(p.cfg.MaxDispatchAudio.Seconds() * float64(format.BytesPerSecond())),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}, p.metrics)

	if err := s.seg.Start(info.ID); err != nil {
		_ = stream.Release()
		deviceCancel()
		return Session{}, fmt.Errorf("failed to start segmenter: %w", err)
	}

	captureCtx, cancel := context.WithCancel(base)
	s.cancel = cancel
	s.flushCtx, s.flushCancel = context.WithCancel(base)

	g, gctx := errgroup.WithContext(captureCtx)
	s.group = g
	g.Go(func() error { return p.capture(gctx, s) })
	g.Go(func() error { return p.tickLoop(gctx, s) })
	g.Go(func() error { return p.dispatchLoop(gctx, s) })
	go p.watch(s)

	p.current = s
	p.status, p.reason = StatusListening, ReasonListening
	p.lastTranscript, p.lastLoudness = "", 0
	p.emitLocked(info.ID)
	p.metrics.RecordSessionStart()

	s.logger.Info().
		Str("language", language).
		Int("sampleRate", format.SampleRate).
		Msg("Capture session started")
	return info, nil
}

// Stop ends the active session. Capture stops and the microphone is
// released immediately; the remaining audio gets one final dispatch bounded
// by the stop flush timeout or ctx, and the transcript is committed to
// history even if that dispatch does not finish.
func (p *Pipeline) Stop(ctx context.Context) (history.Entry, error) {
	p.mu.Lock()
	s := p.current
	if s == nil {
		p.mu.Unlock()
		return history.Entry{}, ErrNoActiveSession
	}
	p.status, p.reason = StatusProcessing, ReasonProcessing
	p.emitLocked(s.info.ID)
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, s.flushCancel)
	defer stop()

	p.finish(s, StatusIdle, ReasonStopped, true)
	return s.entry, s.finishErr
}

// Reset abandons the active session without committing it and clears the
// transcript. History is left untouched.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()

	if s != nil {
		p.finish(s, StatusIdle, ReasonReset, false)
	}

	p.mu.Lock()
	p.status, p.reason = StatusIdle, ReasonReset
	p.lastTranscript, p.lastLoudness = "", 0
	p.emitLocked("")
	p.mu.Unlock()
}

// Status returns the current view of the pipeline.
func (p *Pipeline) Status() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Status:     p.status,
		Reason:     p.reason,
		Transcript: p.transcriptLocked(),
		Loudness:   p.lastLoudness,
	}
	if p.current != nil {
		info := p.current.info
		snap.Session = &info
		snap.Dispatching = p.current.dispatcher.InFlight()
	}
	return snap
}

// finish tears s down exactly once. Concurrent callers block until the
// first one is done.
func (p *Pipeline) finish(s *session, status Status, reason string, commit bool) {
	s.finishOnce.Do(func() {
		s.cancel()
		s.releaseStream()
		s.deviceCancel()

		if !commit {
			s.flushCancel()
		}
		timer := time.AfterFunc(p.cfg.StopFlushTimeout, s.flushCancel)
		defer timer.Stop()
		defer s.flushCancel()

		<-s.done
		if s.waitErr != nil {
			s.finishErr = s.waitErr
			status, reason = StatusError, ReasonMicrophoneError
		}

		if tail, err := s.seg.Stop(); err == nil && tail != nil {
			chunkLogger := logging.WithChunk("pipeline", s.info.ID, tail.ID)
			chunkLogger.Debug().Int("bytes", tail.Size()).Msg("Flushed final chunk")
		}

		var text string
		if !commit {
			dropped := s.buf.Len()
			s.buf.Clear()
			s.logger.Debug().Int("chunks", dropped).Msg("Dropped buffered audio")
		}
		if commit {
			p.drain(s)
			text = s.assembler.Text()
			s.entry, s.committed = p.history.Commit(s.info.ID, text, s.info.Language, time.Now().UTC())
			p.metrics.RecordHistorySize(p.history.Len())
		}
		p.metrics.RecordSessionEnd(time.Since(s.info.StartedAt).Seconds())

		p.mu.Lock()
		if p.current == s {
			p.current = nil
		}
		p.status, p.reason = status, reason
		p.lastTranscript, p.lastLoudness = text, 0
		p.emitLocked(s.info.ID)
		p.mu.Unlock()

		s.logger.Info().
			Str("status", status.String()).
			Str("reason", reason).
			Bool("committed", s.committed).
			Int("pendingBytes", s.buf.PendingBytes()).
			Int("pendingChunks", s.buf.Len()).
			Msg("Capture session ended")
	})
}

func (p *Pipeline) drain(s *session) {
	res, err := s.dispatcher.Drain(s.flushCtx)
	switch {
	case err == nil:
		s.logger.Debug().Uint64("seq", res.Seq).Msg("Final dispatch completed")
	case errors.Is(err, dispatch.ErrBelowMinimum):
	default:
		s.logger.Warn().Err(err).
			Int("pendingBytes", s.buf.PendingBytes()).
			Msg("Final dispatch did not complete, committing transcript as is")
	}
}

// watch waits for the session workers. A worker error means capture failed
// for good, which ends the session.
func (p *Pipeline) watch(s *session) {
	s.waitErr = s.group.Wait()
	close(s.done)

	if s.waitErr != nil {
		s.logger.Error().Err(s.waitErr).Msg("Capture failed, ending session")
		p.finish(s, StatusError, ReasonMicrophoneError, true)
	}
}

// capture pumps the stream into the recorder and the level monitor. A read
// error gets one re-acquire; a second failure without audio in between
// ends the session.
func (p *Pipeline) capture(ctx context.Context, s *session) error {
	buf := make([]byte, p.cfg.ReadSize)
	retried := false

	for {
		stream := s.currentStream()
		n, err := stream.Read(buf)
		if n > 0 {
			_, _ = s.rec.Write(buf[:n])
			s.monitor.Write(buf[:n])
			p.metrics.RecordAudioCaptured(n)
			retried = false
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}

		p.metrics.RecordMicrophoneError("read")
		if retried {
			return fmt.Errorf("%w: %w", ErrRecorderRestart, err)
		}
		retried = true

		s.logger.Warn().Err(err).Msg("Capture stream failed, re-acquiring microphone")
		_ = stream.Release()
		next, aerr := p.source.Acquire(s.deviceCtx)
		if aerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.RecordMicrophoneError("restart")
			return fmt.Errorf("%w: %w", ErrRecorderRestart, aerr)
		}
		if !s.swapStream(next) {
			return nil
		}
	}
}

func (p *Pipeline) tickLoop(ctx context.Context, s *session) error {
	ticker := time.NewTicker(p.cfg.Thresholds.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		loudness := s.monitor.Level()
		p.metrics.RecordLoudness(loudness)

		decision, err := s.seg.OnTick(loudness)
		if err != nil {
			return nil
		}
		if decision == segment.DecisionDiscard {
			p.metrics.RecordChunkDiscarded("no_speech")
		}

		p.mu.Lock()
		if p.current == s {
			p.lastLoudness = loudness
			p.emitLocked(s.info.ID)
		}
		p.mu.Unlock()
	}
}

func (p *Pipeline) dispatchLoop(ctx context.Context, s *session) error {
	ticker := time.NewTicker(p.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		_, err := s.dispatcher.Tick(s.flushCtx)
		if errors.Is(err, dispatch.ErrBelowMinimum) || errors.Is(err, dispatch.ErrDispatchInFlight) {
			continue
		}

		reason := ReasonListening
		switch {
		case err == nil, errors.Is(err, stt.ErrMalformedResponse):
		case !stt.Retryable(err):
			reason = ReasonDispatchRejected
		default:
			reason = ReasonDispatchFailed
		}

		p.mu.Lock()
		if p.current == s && p.status == StatusListening {
			p.reason = reason
			p.emitLocked(s.info.ID)
		}
		p.mu.Unlock()
	}
}

func (p *Pipeline) transcriptLocked() string {
	if p.current != nil {
		return p.current.assembler.Text()
	}
	return p.lastTranscript
}

func (p *Pipeline) emitLocked(sessionID string) {
	u := Update{
		SessionID:  sessionID,
		Loudness:   p.lastLoudness,
		Transcript: p.transcriptLocked(),
		Status:     p.status,
		Reason:     p.reason,
		Time:       time.Now().UTC(),
	}
	select {
	case p.updates <- u:
	default:
		p.logger.Debug().Str("status", u.Status.String()).Msg("Update dropped, reader too slow")
	}
}
