package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamzercise/lidify-fork/internal/broker"
	"github.com/jamzercise/lidify-fork/internal/clap"
	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/internal/telemetry"
)

// resubscribeDelay spaces out subscription attempts after a pub/sub
// failure.
const resubscribeDelay = time.Second

// TextEmbedResponder answers ad-hoc text embedding requests. Responses
// go to a per-request topic derived from the requestId; delivery is
// fire-and-forget, so a requester that subscribes after publishing its
// request can miss the answer. Requesters own that race and their own
// timeout.
type TextEmbedResponder struct {
	bus            broker.Bus
	model          clap.Model
	modelVersion   string
	requestTopic   string
	responsePrefix string
	logger         zerolog.Logger
	tracer         trace.Tracer
	metrics        *telemetry.Metrics
}

func NewTextEmbedResponder(bus broker.Bus, model clap.Model, cfg *config.Config,
	logger zerolog.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *TextEmbedResponder {
	return &TextEmbedResponder{
		bus:            bus,
		model:          model,
		modelVersion:   cfg.CLAP.ModelVersion,
		requestTopic:   cfg.Broker.RequestTopic,
		responsePrefix: cfg.Broker.ResponsePrefix,
		logger:         logger.With().Str("component", "text-responder").Logger(),
		tracer:         tracer,
		metrics:        metrics,
	}
}

// Run listens on the request topic until ctx is canceled. A dropped
// subscription is reopened after a short delay; requests published
// while nobody is subscribed are lost, as pub/sub keeps no history.
func (r *TextEmbedResponder) Run(ctx context.Context) error {
	r.logger.Info().Msg("responder started")
	defer r.logger.Info().Msg("responder stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		sub, err := r.bus.Subscribe(ctx, r.requestTopic)
		if err != nil {
			r.logger.Error().Err(err).Msg("cannot subscribe to request topic")
			r.metrics.TransportErrors.WithLabelValues(telemetry.TransportPubSub).Inc()
			r.pause(ctx)
			continue
		}
		r.logger.Info().Str("topic", r.requestTopic).Msg("listening for text embed requests")

		r.consume(ctx, sub)
		_ = sub.Close()
	}
}

// consume drains one subscription until shutdown or a transport-side
// drop closes it.
func (r *TextEmbedResponder) consume(ctx context.Context, sub broker.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				r.logger.Warn().Msg("request subscription dropped")
				r.metrics.TransportErrors.WithLabelValues(telemetry.TransportPubSub).Inc()
				r.pause(ctx)
				return
			}
			r.handleRequest(ctx, payload)
		}
	}
}

func (r *TextEmbedResponder) handleRequest(ctx context.Context, payload []byte) {
	req, err := ParseTextEmbedRequest(payload)
	if err != nil {
		// No requestId means no response topic. Nothing to answer.
		r.logger.Warn().Err(err).Bytes("payload", payload).Msg("discarding text embed request")
		r.metrics.TextRequestsTotal.WithLabelValues(telemetry.ResultDropped).Inc()
		return
	}

	ctx, span := r.tracer.Start(ctx, "embed text", trace.WithAttributes(
		attribute.String("request.id", req.RequestID),
	))
	defer span.End()

	logger := r.logger.With().Str("request_id", req.RequestID).Logger()
	logger.Info().Msg("processing text embed request")

	inferStart := time.Now()
	vector, err := r.model.EmbedText(ctx, req.Text)
	r.metrics.InferenceSeconds.WithLabelValues(telemetry.ModalityText).Observe(time.Since(inferStart).Seconds())
	if err != nil {
		logger.Warn().Err(err).Msg("text embedding failed")
		span.RecordError(err)
	}

	resp := TextEmbedResponse{
		RequestID:    req.RequestID,
		Success:      err == nil,
		Embedding:    vector,
		ModelVersion: r.modelVersion,
	}
	body, err := json.Marshal(resp)
	if err != nil {
		logger.Error().Err(err).Msg("cannot encode response")
		r.metrics.TextRequestsTotal.WithLabelValues(telemetry.ResultError).Inc()
		return
	}

	topic := ResponseTopic(r.responsePrefix, req.RequestID)
	if err := r.bus.Publish(ctx, topic, body); err != nil {
		logger.Error().Err(err).Str("topic", topic).Msg("cannot publish response")
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
		r.metrics.TransportErrors.WithLabelValues(telemetry.TransportPubSub).Inc()
		r.metrics.TextRequestsTotal.WithLabelValues(telemetry.ResultError).Inc()
		return
	}

	span.SetAttributes(attribute.Bool("success", resp.Success))
	if resp.Success {
		r.metrics.TextRequestsTotal.WithLabelValues(telemetry.ResultOK).Inc()
	} else {
		r.metrics.TextRequestsTotal.WithLabelValues(telemetry.ResultError).Inc()
	}
	logger.Info().Bool("success", resp.Success).Msg("text embed response sent")
}

func (r *TextEmbedResponder) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(resubscribeDelay):
	}
}
