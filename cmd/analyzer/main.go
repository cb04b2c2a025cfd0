package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/jamzercise/lidify-fork/internal/broker"
	"github.com/jamzercise/lidify-fork/internal/clap"
	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/internal/store"
	"github.com/jamzercise/lidify-fork/internal/telemetry"
	"github.com/jamzercise/lidify-fork/internal/workers"
)

func main() {
	var envFile string
	flag.StringVarP(&envFile, "env-file", "e", ".env", "Path to an optional env file")
	flag.Parse()

	logger := config.NewLogger("prod")

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Mode != "prod" {
		logger = config.NewLogger(cfg.Mode)
	}

	logger.Info().
		Str("model_version", cfg.CLAP.ModelVersion).
		Str("music_path", cfg.Worker.MusicPath).
		Int("workers", cfg.Worker.Workers).
		Int("threads", cfg.CLAP.Threads).
		Dur("poll_timeout", cfg.Worker.PollTimeout).
		Dur("shutdown_wait", cfg.Worker.ShutdownWaitTime).
		Str("broker", cfg.Broker.Driver).
		Msg("CLAP Audio Analyzer Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.Otel, cfg.Mode, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to flush traces")
		}
	}()
	tracer := otel.Tracer(cfg.Name)

	brk, err := broker.New(ctx, cfg.Broker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the message broker")
	}
	defer brk.Close()

	model := clap.NewRuntimeModel(cfg.CLAP, logger)
	gateway := clap.NewGateway(model, cfg.CLAP.ModelVersion, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	newStore := func(ctx context.Context) (store.TrackStore, error) {
		return store.Connect(ctx, cfg.Postgres, logger)
	}

	supervisor := workers.NewSupervisor(cfg, brk, gateway, newStore, logger, tracer, registry)

	logger.Info().Msg("Starting analyzer...")
	if err := supervisor.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Analyzer stopped with error")
	}
	logger.Info().Msg("Analyzer shut down gracefully")
}
