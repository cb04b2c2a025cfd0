package workers

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamzercise/lidify-fork/internal/broker"
	"github.com/jamzercise/lidify-fork/internal/clap"
	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/internal/store"
	"github.com/jamzercise/lidify-fork/internal/telemetry"
	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

// AnalysisWorker drains the job queue. Each job moves through
// processing to either completed or failed; nothing a single bad job
// does can stop the loop.
//
// The worker owns its TrackStore instance. The model is shared across
// workers and serializes inference internally, so adding workers speeds
// up I/O and polling, not inference.
type AnalysisWorker struct {
	id           int
	queue        broker.Queue
	store        store.TrackStore
	model        clap.Model
	modelVersion string
	musicPath    string
	pollTimeout  time.Duration
	logger       zerolog.Logger
	tracer       trace.Tracer
	metrics      *telemetry.Metrics
}

func NewAnalysisWorker(id int, queue broker.Queue, st store.TrackStore, model clap.Model,
	cfg *config.Config, logger zerolog.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *AnalysisWorker {
	return &AnalysisWorker{
		id:           id,
		queue:        queue,
		store:        st,
		model:        model,
		modelVersion: cfg.CLAP.ModelVersion,
		musicPath:    cfg.Worker.MusicPath,
		pollTimeout:  cfg.Worker.PollTimeout,
		logger:       logger.With().Int("worker", id).Logger(),
		tracer:       tracer,
		metrics:      metrics,
	}
}

// Run polls the queue until ctx is canceled. The bounded Pop timeout is
// the cancellation check interval, so shutdown latency is at most one
// poll interval plus the job in flight.
func (w *AnalysisWorker) Run(ctx context.Context) error {
	w.logger.Info().Msg("worker started")
	defer w.logger.Info().Msg("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, err := w.queue.Pop(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, broker.ErrNoJob) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("queue pop failed")
			w.metrics.TransportErrors.WithLabelValues(telemetry.TransportQueue).Inc()
			w.pause(ctx)
			continue
		}

		w.processJob(ctx, payload)
	}
}

// processJob runs one claimed payload through the job state machine.
// The queue read was destructive, so every exit here is terminal for
// the message.
func (w *AnalysisWorker) processJob(ctx context.Context, payload []byte) {
	start := time.Now()
	defer func() {
		w.metrics.JobSeconds.Observe(time.Since(start).Seconds())
	}()

	job, err := ParseAnalysisJob(payload)
	if err != nil {
		w.logger.Warn().Err(err).Bytes("payload", payload).Msg("discarding malformed job")
		w.metrics.JobsTotal.WithLabelValues(telemetry.ResultDiscarded).Inc()
		return
	}

	ctx, span := w.tracer.Start(ctx, "analyze track", trace.WithAttributes(
		attribute.String("track.id", job.TrackID),
	))
	defer span.End()

	logger := w.logger.With().Str("track_id", job.TrackID).Logger()
	logger.Info().Msg("processing track")

	if err := w.store.SetStatus(ctx, job.TrackID, store.StatusProcessing); err != nil {
		// Only connection-class failures surface from SetStatus. The
		// store is down and mark_failed would fail the same way, so the
		// job is abandoned; the producer resubmits on its own schedule.
		logger.Error().Err(err).Msg("cannot reach the track store")
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
		w.metrics.TransportErrors.WithLabelValues(telemetry.TransportDB).Inc()
		w.metrics.JobsTotal.WithLabelValues(telemetry.ResultFailed).Inc()
		w.pause(ctx)
		return
	}

	fullPath, err := w.resolvePath(job.FilePath)
	if err != nil {
		logger.Warn().Err(err).Str("file_path", job.FilePath).Msg("rejecting job path")
		w.failJob(ctx, span, logger, job.TrackID, "Invalid file path: "+job.FilePath)
		return
	}

	inferStart := time.Now()
	vector, err := w.model.EmbedAudio(ctx, fullPath)
	w.metrics.InferenceSeconds.WithLabelValues(telemetry.ModalityAudio).Observe(time.Since(inferStart).Seconds())
	if err != nil {
		logger.Warn().Err(err).Str("path", fullPath).Msg("audio embedding failed")
		w.failJob(ctx, span, logger, job.TrackID, "Failed to generate embedding: "+err.Error())
		return
	}

	if err := w.store.UpsertEmbedding(ctx, job.TrackID, vector, w.modelVersion); err != nil {
		if errors.Is(err, ec.ErrDBConnectionFailed) {
			logger.Error().Err(err).Msg("lost the track store while writing the embedding")
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("success", false))
			w.metrics.TransportErrors.WithLabelValues(telemetry.TransportDB).Inc()
			w.metrics.JobsTotal.WithLabelValues(telemetry.ResultFailed).Inc()
			w.pause(ctx)
			return
		}
		logger.Error().Err(err).Msg("embedding upsert failed")
		w.failJob(ctx, span, logger, job.TrackID, "Failed to store embedding: "+err.Error())
		return
	}

	if err := w.store.SetStatus(ctx, job.TrackID, store.StatusCompleted); err != nil {
		// The embedding row is already in place; only the status column
		// is stale. Worth a pause, not a failure.
		logger.Error().Err(err).Msg("cannot record completed status")
		w.metrics.TransportErrors.WithLabelValues(telemetry.TransportDB).Inc()
		w.pause(ctx)
	}

	span.SetAttributes(attribute.Bool("success", true))
	w.metrics.JobsTotal.WithLabelValues(telemetry.ResultCompleted).Inc()
	logger.Info().Dur("elapsed", time.Since(start)).Msg("completed track")
}

// failJob records a terminal failed outcome for the track.
func (w *AnalysisWorker) failJob(ctx context.Context, span trace.Span, logger zerolog.Logger,
	trackID, reason string) {
	span.SetAttributes(attribute.Bool("success", false))
	w.metrics.JobsTotal.WithLabelValues(telemetry.ResultFailed).Inc()

	if err := w.store.MarkFailed(ctx, trackID, reason); err != nil {
		logger.Error().Err(err).Msg("cannot record job failure")
		span.RecordError(err)
		w.metrics.TransportErrors.WithLabelValues(telemetry.TransportDB).Inc()
		w.pause(ctx)
	}
}

// resolvePath joins the job's relative path onto the media root.
// Separators are normalized for jobs produced on Windows, and a path
// that would climb out of the media root is rejected outright.
func (w *AnalysisWorker) resolvePath(filePath string) (string, error) {
	normalized := strings.ReplaceAll(filePath, `\`, "/")
	full := filepath.Join(w.musicPath, filepath.FromSlash(normalized))

	root := filepath.Clean(w.musicPath)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ec.ErrValidationFailed.Clone().
			WithDetails("file path escapes the media root")
	}
	return full, nil
}

// pause holds the loop for one poll interval after a transport error so
// a dead dependency is not hammered in a tight loop.
func (w *AnalysisWorker) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollTimeout):
	}
}
