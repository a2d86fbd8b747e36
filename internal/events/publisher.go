// Package events publishes transcript events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"classroom-voice-capture/internal/models"
	"classroom-voice-capture/internal/observability/metrics"
	"classroom-voice-capture/internal/schema"
	"classroom-voice-capture/internal/service/history"
)

// commitPublishTimeout bounds publishing from a history commit, which has
// no caller context.
const commitPublishTimeout = 10 * time.Second

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerUpdates   *kafka.Writer
	writerCommitted *kafka.Writer
	principal       string
	topicUpdates    string
	topicCommitted  string
	enabled         bool
	metrics         *metrics.Metrics
	validator       *schema.Validator
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicUpdates   string
	TopicCommitted string
	Principal      string
	Enabled        bool
}

// New creates a Kafka event publisher. With Kafka disabled or no brokers it
// only logs. A nil m uses metrics.DefaultMetrics; a nil v skips schema
// validation.
func New(cfg *Config, m *metrics.Metrics, v *schema.Validator) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			metrics:   m,
			validator: v,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicUpdates:   cfg.TopicUpdates,
			topicCommitted: cfg.TopicCommitted,
			enabled:        false,
			metrics:        m,
			validator:      v,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicUpdates", cfg.TopicUpdates).
		Str("topicCommitted", cfg.TopicCommitted).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerUpdates:   newWriter(cfg.TopicUpdates),
		writerCommitted: newWriter(cfg.TopicCommitted),
		principal:       cfg.Principal,
		topicUpdates:    cfg.TopicUpdates,
		topicCommitted:  cfg.TopicCommitted,
		enabled:         true,
		metrics:         m,
		validator:       v,
	}
}

// PublishUpdate publishes a running-transcript update keyed by session.
func (p *Publisher) PublishUpdate(ctx context.Context, ev models.TranscriptUpdate) error {
	ev.EventType = models.EventTypeUpdate
	return p.publish(ctx, p.writerUpdates, p.topicUpdates, ev.EventType, ev.SessionID, ev)
}

// PublishCommitted publishes a committed transcript keyed by session.
func (p *Publisher) PublishCommitted(ctx context.Context, ev models.TranscriptCommitted) error {
	ev.EventType = models.EventTypeCommitted
	return p.publish(ctx, p.writerCommitted, p.topicCommitted, ev.EventType, ev.SessionID, ev)
}

// OnCommit publishes a history entry as a committed event.
func (p *Publisher) OnCommit(e history.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), commitPublishTimeout)
	defer cancel()

	ev := models.TranscriptCommitted{
		SessionID: e.SessionID,
		Timestamp: e.Timestamp.UnixMilli(),
		Language:  e.Language,
		Text:      e.Text,
	}
	if err := p.PublishCommitted(ctx, ev); err != nil {
		log.Error().Err(err).Str("sessionId", e.SessionID).Msg("Failed to publish committed transcript")
	}
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	if p.validator != nil {
		if err := p.validator.Validate(eventType, payload); err != nil {
			log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Event rejected by schema")
			p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
			return err
		}
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return fmt.Errorf("failed to write to %s: %w", topic, err)
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerUpdates != nil {
		if e := p.writerUpdates.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing updates writer")
			err = e
		}
	}
	if p.writerCommitted != nil {
		if e := p.writerCommitted.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing committed writer")
			err = e
		}
	}
	return err
}
