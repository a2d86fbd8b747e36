package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"classroom-voice-capture/internal/observability/metrics"
)

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		full        string
		wantService string
		wantMethod  string
	}{
		{"/grpc.health.v1.Health/Check", "grpc.health.v1.Health", "Check"},
		{"/classroom.voice.CaptureService/Start", "classroom.voice.CaptureService", "Start"},
		{"Check", "unknown", "Check"},
	}

	for _, tt := range tests {
		t.Run(tt.full, func(t *testing.T) {
			service, method := splitMethod(tt.full)
			if service != tt.wantService || method != tt.wantMethod {
				t.Errorf("splitMethod(%q) = %q, %q; want %q, %q", tt.full, service, method, tt.wantService, tt.wantMethod)
			}
		})
	}
}

func TestUnaryServerInterceptor_RecordsCode(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	interceptor := UnaryServerInterceptor(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	ok := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	fail := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	}

	if resp, err := interceptor(context.Background(), nil, info, ok); err != nil || resp != "ok" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}
	if _, err := interceptor(context.Background(), nil, info, fail); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound to pass through, got %v", err)
	}

	if got := testutil.ToFloat64(m.RPCTotal.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("expected 1 OK call, got %v", got)
	}
	if got := testutil.ToFloat64(m.RPCTotal.WithLabelValues(info.FullMethod, "NotFound")); got != 1 {
		t.Errorf("expected 1 NotFound call, got %v", got)
	}
}

func TestStreamServerInterceptor_RecordsCall(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	interceptor := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}

	handler := func(srv interface{}, ss grpc.ServerStream) error { return nil }
	if err := interceptor(nil, nil, info, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := testutil.ToFloat64(m.RPCTotal.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("expected 1 recorded stream, got %v", got)
	}
}
