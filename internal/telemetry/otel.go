// Package telemetry wires tracing and metrics for the analyzer.
package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jamzercise/lidify-fork/internal/config"
)

// InitTraceProvider sets up the OTLP trace exporter and registers the
// provider. With no collector endpoint configured, tracing stays on the
// default noop provider and the returned shutdown is a no-op.
func InitTraceProvider(ctx context.Context, cfg config.OtelConfig, mode string, logger zerolog.Logger) (func(context.Context) error, error) {
	if cfg.CollectorEndpoint == "" {
		logger.Info().Msg("No OTel collector endpoint configured, tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	logger.Info().
		Str("endpoint", cfg.CollectorEndpoint).
		Msg("Initializing OpenTelemetry trace provider")

	opts := []grpc.DialOption{}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		logger.Warn().
			Msg("gRPC connection is using insecure credentials (no TLS). Do not expose this endpoint to the public internet.")
	}

	conn, err := grpc.NewClient(cfg.CollectorEndpoint, opts...)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"https://opentelemetry.io/schemas/1.34.0",
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(mode),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{}))

	return tp.Shutdown, nil
}
