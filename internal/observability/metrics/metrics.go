// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "classroom_voice"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Capture metrics
	AudioBytesCaptured prometheus.Counter
	MicrophoneErrors   *prometheus.CounterVec
	Loudness           prometheus.Gauge

	// Segmenter metrics
	ChunksCreated   prometheus.Counter
	ChunksDiscarded *prometheus.CounterVec
	ChunkDuration   prometheus.Histogram
	BufferBytes     prometheus.Gauge

	// Dispatch metrics
	DispatchTotal   *prometheus.CounterVec
	DispatchBytes   prometheus.Counter
	DispatchLatency prometheus.Histogram

	// Transcript metrics
	TranscriptFragments prometheus.Counter
	HistoryEntries      prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTLatency *prometheus.HistogramVec
	STTErrors  *prometheus.CounterVec

	// gRPC metrics
	RPCTotal    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of listening sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active listening sessions",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of listening sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}),

		// Capture metrics
		AudioBytesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total PCM bytes read from the microphone",
		}),
		MicrophoneErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "microphone_errors_total",
			Help:      "Total number of microphone failures",
		}, []string{"kind"}),
		Loudness: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loudness",
			Help:      "Most recent normalized loudness in [0,1]",
		}),

		// Segmenter metrics
		ChunksCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_created_total",
			Help:      "Total number of chunks enqueued for dispatch",
		}),
		ChunksDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_discarded_total",
			Help:      "Total number of recorded ranges discarded without dispatch",
		}, []string{"reason"}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Duration of enqueued chunks in seconds",
			Buckets:   []float64{0.5, 0.8, 1, 1.5, 2, 3, 4, 5},
		}),
		BufferBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_bytes",
			Help:      "Bytes held in the chunk buffer awaiting dispatch",
		}),

		// Dispatch metrics
		DispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total dispatch ticks by outcome",
		}, []string{"result"}),
		DispatchBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_bytes_total",
			Help:      "Total audio bytes uploaded for transcription",
		}),
		DispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time from snapshot to transcription result",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		// Transcript metrics
		TranscriptFragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fragments_total",
			Help:      "Total number of fragments appended to running transcripts",
		}),
		HistoryEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Number of entries in the transcript history",
		}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// STT metrics
		STTLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		// gRPC metrics
		RPCTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls handled",
		}, []string{"method", "code"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "Duration of gRPC calls in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10, 60},
		}, []string{"method"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAudioCaptured records PCM bytes read from the microphone.
func (m *Metrics) RecordAudioCaptured(bytes int) {
	m.AudioBytesCaptured.Add(float64(bytes))
}

// RecordMicrophoneError records a microphone failure of the given kind.
func (m *Metrics) RecordMicrophoneError(kind string) {
	m.MicrophoneErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordLoudness(value float64) {
	m.Loudness.Set(value)
}

// RecordChunkCreated records a chunk enqueued for dispatch.
func (m *Metrics) RecordChunkCreated(durationSeconds float64) {
	m.ChunksCreated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
}

// RecordChunkDiscarded records a recorded range dropped without dispatch.
func (m *Metrics) RecordChunkDiscarded(reason string) {
	m.ChunksDiscarded.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordBufferBytes(n int) {
	m.BufferBytes.Set(float64(n))
}

// RecordDispatch records the outcome of a dispatch tick.
func (m *Metrics) RecordDispatch(result string, bytes int, latencySeconds float64) {
	m.DispatchTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.DispatchBytes.Add(float64(bytes))
		m.DispatchLatency.Observe(latencySeconds)
	}
}

// RecordDispatchSkipped records a dispatch tick that did no upload.
func (m *Metrics) RecordDispatchSkipped(reason string) {
	m.DispatchTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordTranscriptFragment() {
	m.TranscriptFragments.Inc()
}

func (m *Metrics) RecordHistorySize(n int) {
	m.HistoryEntries.Set(float64(n))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTLatency records the latency of one transcription request.
func (m *Metrics) RecordSTTLatency(provider string, latencySeconds float64) {
	m.STTLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordRPC records a completed gRPC call.
func (m *Metrics) RecordRPC(method, code string, durationSeconds float64) {
	m.RPCTotal.WithLabelValues(method, code).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(durationSeconds)
}
