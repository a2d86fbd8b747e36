package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"classroom-voice-capture/internal/models"
	"classroom-voice-capture/internal/observability/metrics"
	"classroom-voice-capture/internal/schema"
	"classroom-voice-capture/internal/service/history"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

func newTestValidator(t *testing.T) *schema.Validator {
	t.Helper()
	v, err := schema.New()
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	return v
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, newTestMetrics(), nil)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerUpdates != nil || p.writerCommitted != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:        false,
		Brokers:        []string{"localhost:9092"},
		TopicUpdates:   "test.updates",
		TopicCommitted: "test.committed",
		Principal:      "test-principal",
	}, newTestMetrics(), nil)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicUpdates != "test.updates" {
		t.Errorf("expected topic updates 'test.updates', got %s", p.topicUpdates)
	}
	if p.topicCommitted != "test.committed" {
		t.Errorf("expected topic committed 'test.committed', got %s", p.topicCommitted)
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:        true,
		Brokers:        []string{"localhost:9092"},
		TopicUpdates:   "test.updates",
		TopicCommitted: "test.committed",
	}, newTestMetrics(), nil)
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerUpdates.Topic != "test.updates" || p.writerCommitted.Topic != "test.committed" {
		t.Errorf("unexpected writer topics %q, %q", p.writerUpdates.Topic, p.writerCommitted.Topic)
	}
}

func TestPublisher_PublishUpdate_Disabled(t *testing.T) {
	m := newTestMetrics()
	p := New(&Config{Enabled: false, TopicUpdates: "test.updates"}, m, newTestValidator(t))

	err := p.PublishUpdate(context.Background(), models.TranscriptUpdate{
		SessionID:  "sess-1",
		Timestamp:  time.Now().UnixMilli(),
		Status:     "listening",
		Transcript: "Hello",
		Loudness:   0.2,
	})
	if err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}

	got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("test.updates", models.EventTypeUpdate))
	if got != 1 {
		t.Errorf("expected 1 publish recorded, got %v", got)
	}
}

func TestPublisher_PublishCommitted_RejectedBySchema(t *testing.T) {
	m := newTestMetrics()
	p := New(&Config{Enabled: false, TopicCommitted: "test.committed"}, m, newTestValidator(t))

	err := p.PublishCommitted(context.Background(), models.TranscriptCommitted{
		SessionID: "sess-1",
		Timestamp: time.Now().UnixMilli(),
		Language:  "en",
	})
	if !errors.Is(err, schema.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}

	got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("test.committed", models.EventTypeCommitted))
	if got != 1 {
		t.Errorf("expected 1 publish error recorded, got %v", got)
	}
}

func TestPublisher_OnCommit(t *testing.T) {
	m := newTestMetrics()
	p := New(&Config{Enabled: false, TopicCommitted: "test.committed"}, m, newTestValidator(t))

	store := history.New(0)
	store.AddSink(p)
	store.Commit("sess-1", "Hello world.", "en", time.Now())

	got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("test.committed", models.EventTypeCommitted))
	if got != 1 {
		t.Errorf("expected committed event to be published, got %v", got)
	}
	if errs := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("test.committed", models.EventTypeCommitted)); errs != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false}, newTestMetrics(), nil)

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilPublisher(t *testing.T) {
	p := &Publisher{}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
