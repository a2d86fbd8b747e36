package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"classroom-voice-capture/internal/app"
	"classroom-voice-capture/internal/config"
	apihttp "classroom-voice-capture/internal/http"
	"classroom-voice-capture/internal/observability"
	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/observability/metrics"
)

const healthService = "classroom.voice.CaptureService"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.DefaultMetrics
	application, err := app.New(ctx, cfg, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// The hub outlives the signal so clients see the final session update.
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	hub := apihttp.NewHub()
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()
	application.Subscribe(hub.Broadcast)

	obsServer := observability.NewServer(cfg.Service.MetricsAddr, application.Ready)
	obsServer.Start()

	apiServer := &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           apihttp.NewRouter(application, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Service.HTTPAddr).Msg("Control API started")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Control API failed")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.StopFlushTimeout+5*time.Second)
	defer cancel()

	application.Shutdown(shutdownCtx)
	hubCancel()
	<-hubDone
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Control API shutdown failed")
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown failed")
	}
	grpcServer.GracefulStop()
}

// loadConfig reads path when given, otherwise the environment. The returned
// config is usable for logging setup even when err is set.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return config.Default(), err
		}
		return cfg, nil
	}
	cfg := config.Load()
	return cfg, cfg.Validate()
}
