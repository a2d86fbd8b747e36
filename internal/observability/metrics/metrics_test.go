package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSession(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd(3.5)

	if got := testutil.ToFloat64(m.SessionsTotal); got != 2 {
		t.Errorf("expected 2 sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
}

func TestRecordDispatch(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordDispatch("success", 64000, 0.4)
	m.RecordDispatch("failure", 32000, 1.2)
	m.RecordDispatchSkipped("in_flight")

	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("in_flight")); got != 1 {
		t.Errorf("expected 1 in_flight skip, got %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchBytes); got != 96000 {
		t.Errorf("expected 96000 bytes, got %v", got)
	}
}

func TestRecordKafkaPublish_CountsErrors(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordKafkaPublish("t", "transcript.update", nil, 0.01)
	m.RecordKafkaPublish("t", "transcript.update", errors.New("broker down"), 0.02)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("t", "transcript.update")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("t", "transcript.update")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestNewMetricsWith_IndependentRegistries(t *testing.T) {
	a := NewMetricsWith(prometheus.NewRegistry())
	b := NewMetricsWith(prometheus.NewRegistry())

	a.RecordChunkCreated(1.2)
	if got := testutil.ToFloat64(b.ChunksCreated); got != 0 {
		t.Errorf("expected registries to be independent, got %v", got)
	}
}
