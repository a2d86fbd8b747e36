// Package app assembles the capture pipeline and its collaborators from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classroom-voice-capture/internal/config"
	"classroom-voice-capture/internal/events"
	"classroom-voice-capture/internal/models"
	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/observability/metrics"
	"classroom-voice-capture/internal/schema"
	"classroom-voice-capture/internal/service/history"
	"classroom-voice-capture/internal/service/microphone"
	"classroom-voice-capture/internal/service/pipeline"
	"classroom-voice-capture/internal/service/segment"
	"classroom-voice-capture/internal/service/stt"
	"classroom-voice-capture/internal/service/stt/google"
	"classroom-voice-capture/internal/service/stt/httpapi"
	"classroom-voice-capture/internal/service/stt/mock"
)

// mockLatency makes the mock transcriber feel like a network call.
const mockLatency = 400 * time.Millisecond

// publishTimeout bounds one update publish.
const publishTimeout = 5 * time.Second

// UpdateListener receives every pipeline update.
type UpdateListener func(u pipeline.Update)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Metrics     *metrics.Metrics
	History     *history.Store
	Pipeline    *pipeline.Pipeline
	Publisher   *events.Publisher

	transcriber stt.Transcriber

	mu        sync.RWMutex
	listeners []UpdateListener
	started   bool
	fanCancel context.CancelFunc
	fanDone   chan struct{}
}

// New constructs the application from cfg. m may be nil to use the default
// registry.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Application, error) {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	logger := logging.WithComponent("application")

	source, err := NewSource(cfg.Audio)
	if err != nil {
		return nil, err
	}
	tr, err := NewTranscriber(ctx, cfg.STT, cfg.Audio.SampleRateHz)
	if err != nil {
		return nil, err
	}

	validator, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("failed to build event schemas: %w", err)
	}
	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicUpdates:   cfg.Kafka.TopicUpdates,
		TopicCommitted: cfg.Kafka.TopicCommitted,
		Principal:      cfg.Kafka.Principal,
	}, m, validator)

	store := history.New(cfg.History.MaxEntries)
	store.AddSink(publisher)

	p := pipeline.New(source, tr, store, PipelineConfig(cfg), m)

	logger.Info().
		Str("audioBackend", cfg.Audio.Backend).
		Str("sttProvider", tr.Name()).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Classroom voice capture application created")

	return &Application{
		Logger:      logger,
		Cfg:         cfg,
		Metrics:     m,
		History:     store,
		Pipeline:    p,
		Publisher:   publisher,
		transcriber: tr,
	}, nil
}

// PipelineConfig maps service configuration onto the pipeline.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Thresholds: segment.Thresholds{
			SilenceThreshold: cfg.Segmenter.SilenceThreshold,
			SilenceDuration:  cfg.Segmenter.SilenceDuration,
			MinChunk:         cfg.Segmenter.MinChunk,
			MaxChunk:         cfg.Segmenter.MaxChunk,
			TickInterval:     cfg.Segmenter.TickInterval,
		},
		DispatchInterval: cfg.Dispatch.Interval,
		MinDispatchBytes: cfg.Dispatch.MinBytes,
		MaxDispatchAudio: cfg.Dispatch.MaxDuration,
		StopFlushTimeout: cfg.Dispatch.StopFlushTimeout,
		FrameSize:        cfg.Audio.FrameSize,
		Language:         cfg.STT.LanguageCode,
	}
}

// NewSource builds the configured microphone backend.
func NewSource(cfg config.AudioConfig) (microphone.Source, error) {
	opts := microphone.Options{
		SampleRate:  cfg.SampleRateHz,
		Channels:    1,
		InputFormat: cfg.InputFormat,
		InputDevice: cfg.InputDevice,
	}
	switch cfg.Backend {
	case "ffmpeg":
		return microphone.NewFFmpegSource(cfg.FFmpegCommand, opts), nil
	case "wav":
		return microphone.NewWAVFileSource(cfg.WAVPath, true), nil
	case "portaudio":
		return microphone.NewPortAudioSource(opts), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

// NewTranscriber builds the configured transcription provider.
func NewTranscriber(ctx context.Context, cfg config.STTConfig, sampleRate int) (stt.Transcriber, error) {
	switch cfg.Provider {
	case "http":
		c, err := httpapi.New(httpapi.Config{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create http transcriber: %w", err)
		}
		return c, nil
	case "google":
		a, err := google.New(ctx, google.Config{
			LanguageCode:    cfg.LanguageCode,
			SampleRateHz:    sampleRate,
			AudioEncoding:   "LINEAR16",
			CredentialsFile: cfg.CredentialsFile,
			Timeout:         cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create google transcriber: %w", err)
		}
		return a, nil
	case "mock":
		return mock.New(mockLatency), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

// Subscribe registers fn for every pipeline update.
func (a *Application) Subscribe(fn UpdateListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Ready reports whether the application is serving.
func (a *Application) Ready() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.started {
		return fmt.Errorf("application not started")
	}
	return nil
}

// Start marks the application as serving and fans pipeline updates out to
// listeners and Kafka until Shutdown. ctx only contributes its values.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	a.StartupTime = time.Now().UTC()
	a.started = true
	a.mu.Unlock()

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Classroom voice capture service starting")

	fanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	a.mu.Lock()
	a.fanCancel, a.fanDone = cancel, done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.fanOut(fanCtx)
	}()
	return nil
}

// fanOut forwards updates until ctx is done, then forwards whatever is
// still queued. Kafka only sees updates whose transcript or status changed,
// not loudness ticks.
func (a *Application) fanOut(ctx context.Context) {
	var last pipeline.Update
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case u := <-a.Pipeline.Updates():
					a.forward(u, &last)
				default:
					return
				}
			}
		case u := <-a.Pipeline.Updates():
			a.forward(u, &last)
		}
	}
}

func (a *Application) forward(u pipeline.Update, last *pipeline.Update) {
	a.mu.RLock()
	listeners := a.listeners
	a.mu.RUnlock()
	for _, fn := range listeners {
		fn(u)
	}

	if u.Transcript == last.Transcript && u.Status == last.Status &&
		u.Reason == last.Reason && u.SessionID == last.SessionID {
		return
	}
	*last = u
	if u.SessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.Publisher.PublishUpdate(ctx, ToUpdateEvent(u)); err != nil {
		a.Logger.Warn().Err(err).Str("sessionId", u.SessionID).Msg("Failed to publish transcript update")
	}
}

// ToUpdateEvent converts a pipeline update into its event form.
func ToUpdateEvent(u pipeline.Update) models.TranscriptUpdate {
	return models.TranscriptUpdate{
		EventType:  models.EventTypeUpdate,
		SessionID:  u.SessionID,
		Timestamp:  u.Time.UnixMilli(),
		Status:     u.Status.String(),
		Reason:     u.Reason,
		Transcript: u.Transcript,
		Loudness:   u.Loudness,
	}
}

// Shutdown stops any running session, committing its transcript, and
// closes the publisher and transcriber.
func (a *Application) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()

	a.Logger.Info().Msg("Classroom voice capture service shutting down")

	if _, err := a.Pipeline.Stop(ctx); err != nil && !errors.Is(err, pipeline.ErrNoActiveSession) {
		a.Logger.Warn().Err(err).Msg("Active session ended with an error")
	}

	a.mu.Lock()
	cancel, done := a.fanCancel, a.fanDone
	a.fanCancel, a.fanDone = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close publisher")
	}
	if c, ok := a.transcriber.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close transcriber")
		}
	}
}
