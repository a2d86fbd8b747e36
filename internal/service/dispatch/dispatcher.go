// Package dispatch uploads buffered audio to the transcriber, one request at
// a time, and feeds the returned text to the transcript assembler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/observability/metrics"
	"classroom-voice-capture/internal/service/buffer"
	"classroom-voice-capture/internal/service/stt"
	"classroom-voice-capture/internal/service/transcript"
)

var (
	// ErrDispatchInFlight is returned by Tick while a previous dispatch is
	// still waiting on the transcriber.
	ErrDispatchInFlight = errors.New("dispatch already in flight")

	// ErrBelowMinimum is returned when the buffer holds too little audio to
	// be worth uploading.
	ErrBelowMinimum = errors.New("buffered audio below dispatch minimum")
)

// FragmentSink receives transcribed fragments in dispatch order.
type FragmentSink interface {
	Apply(f transcript.Fragment) (string, error)
}

// Config configures a dispatcher. MaxBytes caps one upload: the oldest
// pending chunks are sent first and the rest wait for the next tick. 0 means
// no cap.
type Config struct {
	SessionId  string
	Language   string
	MinBytes   int
	MaxBytes   int
	SampleRate int
	Channels   int
}

// Result describes one completed dispatch.
type Result struct {
	Seq        uint64
	Text       string
	Transcript string
	Bytes      int
	ChunkIDs   []string
	Latency    time.Duration
}

// Dispatcher moves audio from a buffer to a transcriber with at most one
// call in flight.
type Dispatcher struct {
	buf     *buffer.Buffer
	tr      stt.Transcriber
	sink    FragmentSink
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// sem holds one token while a dispatch runs; seq is only touched by
	// its holder.
	sem chan struct{}
	seq uint64
}

// New creates a dispatcher for one session.
func New(buf *buffer.Buffer, tr stt.Transcriber, sink FragmentSink, cfg Config, m *metrics.Metrics) *Dispatcher {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Dispatcher{
		buf:     buf,
		tr:      tr,
		sink:    sink,
		cfg:     cfg,
		metrics: m,
		logger:  logging.WithSession("dispatcher", cfg.SessionId),
		sem:     make(chan struct{}, 1),
	}
}

// Tick dispatches the buffered audio unless a dispatch is already running.
func (d *Dispatcher) Tick(ctx context.Context) (Result, error) {
	select {
	case d.sem <- struct{}{}:
	default:
		d.metrics.RecordDispatchSkipped("in_flight")
		d.logger.Debug().Msg("Dispatch skipped, previous call in flight")
		return Result{}, ErrDispatchInFlight
	}
	defer func() { <-d.sem }()

	return d.dispatch(ctx)
}

// Drain waits for any running dispatch to finish, then dispatches whatever
// is left. Used for the final flush on stop.
func (d *Dispatcher) Drain(ctx context.Context) (Result, error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-d.sem }()

	return d.dispatch(ctx)
}

// InFlight reports whether a dispatch is running.
func (d *Dispatcher) InFlight() bool {
	return len(d.sem) > 0
}

func (d *Dispatcher) dispatch(ctx context.Context) (Result, error) {
	pending := d.buf.PendingBytes()
	if pending == 0 || pending < d.cfg.MinBytes {
		d.metrics.RecordDispatchSkipped("below_minimum")
		return Result{}, ErrBelowMinimum
	}

	snap, err := d.buf.SnapshotUpTo(d.cfg.MaxBytes)
	if err != nil {
		if errors.Is(err, buffer.ErrEmpty) {
			return Result{}, ErrBelowMinimum
		}
		return Result{}, fmt.Errorf("failed to snapshot buffer: %w", err)
	}

	logger := d.logger.With().
		Int("bytes", snap.Size()).
		Int("chunks", len(snap.ChunkIDs)).
		Int("pendingBytes", pending).
		Logger()

	start := time.Now()
	text, err := d.tr.Transcribe(ctx, stt.Request{
		ID:         fmt.Sprintf("%s-dispatch-%d", d.cfg.SessionId, d.seq+1),
		PCM:        snap.Data,
		SampleRate: d.cfg.SampleRate,
		Channels:   d.cfg.Channels,
		Language:   d.cfg.Language,
	})
	latency := time.Since(start)
	d.metrics.RecordSTTLatency(d.tr.Name(), latency.Seconds())

	if err != nil {
		d.metrics.RecordSTTError(d.tr.Name(), stt.Kind(err))

		// The service answered, so the audio was delivered; resending it
		// would only produce the same reply.
		if errors.Is(err, stt.ErrMalformedResponse) {
			if _, cerr := d.buf.Commit(snap); cerr != nil {
				logger.Error().Err(cerr).Msg("Failed to commit snapshot")
			}
			d.metrics.RecordDispatch("malformed", snap.Size(), latency.Seconds())
			d.metrics.RecordBufferBytes(d.buf.Bytes())
			logger.Warn().Err(err).Msg("Dropped malformed transcription response")
			return Result{}, err
		}

		if rerr := d.buf.Release(snap); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to release snapshot")
		}
		if !stt.Retryable(err) {
			// Bytes stay queued; the cap keeps the next attempt the same size.
			d.metrics.RecordDispatch("rejected", snap.Size(), latency.Seconds())
			logger.Error().Err(err).Dur("latency", latency).Msg("Transcription service rejected dispatch, audio kept")
			return Result{}, err
		}
		d.metrics.RecordDispatch("failure", snap.Size(), latency.Seconds())
		logger.Warn().Err(err).Dur("latency", latency).Msg("Dispatch failed, audio kept for retry")
		return Result{}, err
	}

	if _, err := d.buf.Commit(snap); err != nil {
		// The buffer was cleared while the call was in flight.
		logger.Warn().Err(err).Msg("Snapshot no longer in buffer")
		return Result{}, err
	}
	d.metrics.RecordDispatch("success", snap.Size(), latency.Seconds())
	d.metrics.RecordBufferBytes(d.buf.Bytes())

	d.seq++
	running, err := d.sink.Apply(transcript.Fragment{Seq: d.seq, Text: text})
	if err != nil {
		return Result{}, fmt.Errorf("failed to apply fragment %d: %w", d.seq, err)
	}
	d.metrics.RecordTranscriptFragment()

	logger.Info().
		Uint64("seq", d.seq).
		Dur("latency", latency).
		Int("textLength", len(text)).
		Msg("Dispatch completed")

	return Result{
		Seq:        d.seq,
		Text:       text,
		Transcript: running,
		Bytes:      snap.Size(),
		ChunkIDs:   snap.ChunkIDs,
		Latency:    latency,
	}, nil
}
