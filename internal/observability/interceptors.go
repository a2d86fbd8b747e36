// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/observability/metrics"
)

// healthService is probed every few seconds by orchestrators; its calls
// are logged at debug level only.
const healthService = "grpc.health.v1.Health"

// UnaryServerInterceptor records every unary call in m and logs it.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(logger, m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor records every stream in m once it ends.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(logger, m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observeCall(logger zerolog.Logger, m *metrics.Metrics, fullMethod, kind string, start time.Time, err error) {
	duration := time.Since(start)
	code := status.Code(err).String()
	m.RecordRPC(fullMethod, code, duration.Seconds())

	service, method := splitMethod(fullMethod)
	event := logger.Info()
	if service == healthService && err == nil {
		event = logger.Debug()
	}
	event.
		Str("service", service).
		Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", duration).
		Msg("gRPC call completed")
}

// splitMethod turns "/pkg.Service/Method" into its two parts.
func splitMethod(fullMethod string) (string, string) {
	trimmed := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return "unknown", trimmed
}
