package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/rs/zerolog"

	"github.com/jamzercise/lidify-fork/internal/config"
	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
	"github.com/jamzercise/lidify-fork/pkgs/utils"
)

const updateStatusSQL = `
UPDATE "Track"
SET "analysisStatus" = $1
WHERE id = $2`

const markFailedSQL = `
UPDATE "Track"
SET "analysisStatus" = $1,
    "analysisError" = $2,
    "analysisRetryCount" = COALESCE("analysisRetryCount", 0) + 1
WHERE id = $3`

const upsertEmbeddingSQL = `
INSERT INTO track_embeddings (track_id, embedding, model_version, analyzed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (track_id) DO UPDATE
SET embedding     = EXCLUDED.embedding,
    model_version = EXCLUDED.model_version,
    analyzed_at   = EXCLUDED.analyzed_at`

const getTrackAnalysisSQL = `
SELECT t.id,
       COALESCE(t."analysisStatus", ''),
       t."analysisError",
       COALESCE(t."analysisRetryCount", 0),
       e.track_id IS NOT NULL,
       e.model_version,
       e.analyzed_at
FROM "Track" t
LEFT JOIN track_embeddings e ON e.track_id = t.id
WHERE t.id = $1`

// Postgres implements TrackStore over a single pgx connection. The zero
// value is not usable; see Connect.
type Postgres struct {
	url    string
	conn   *pgx.Conn
	logger zerolog.Logger
}

var _ TrackStore = (*Postgres)(nil)

func Connect(ctx context.Context, cfg config.PostgresConfig, logger zerolog.Logger) (*Postgres, error) {
	s := &Postgres{
		url:    cfg.URL,
		logger: logger.With().Str("component", "track-store").Logger(),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Postgres) connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.url)
	if err != nil {
		return ec.ErrDBConnectionFailed.Clone().Warp(err)
	}

	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return ec.ErrDBError.Clone().
			WithMessage("pgvector types unavailable, is the extension installed?").
			Warp(err)
	}

	s.conn = conn
	s.logger.Debug().Str("url", config.MaskURL(s.url)).Msg("Connected to Postgres")
	return nil
}

// EnsureConnected probes the connection and rebuilds it when the probe
// fails. Called at the top of every operation.
func (s *Postgres) EnsureConnected(ctx context.Context) error {
	if s.conn != nil && !s.conn.IsClosed() {
		if err := s.conn.Ping(ctx); err == nil {
			return nil
		}
		s.logger.Warn().Msg("Postgres connection lost, reconnecting...")
		_ = s.conn.Close(ctx)
	}
	return s.connect(ctx)
}

func (s *Postgres) SetStatus(ctx context.Context, trackID string, status TrackStatus) error {
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	tag, err := s.conn.Exec(ctx, updateStatusSQL, string(status), trackID)
	if err != nil {
		if ec.IsConnectionErr(err) {
			return ec.ErrDBConnectionFailed.Clone().Warp(err)
		}
		s.logger.Error().
			Err(err).
			Str("track_id", trackID).
			Str("status", string(status)).
			Msg("Failed to update track status")
		return nil
	}

	if tag.RowsAffected() == 0 {
		s.logger.Warn().
			Str("track_id", trackID).
			Str("status", string(status)).
			Msg("No track row to update")
	}
	return nil
}

func (s *Postgres) MarkFailed(ctx context.Context, trackID, reason string) error {
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	reason = utils.Truncate(reason, MaxErrorLen)
	_, err := s.conn.Exec(ctx, markFailedSQL, string(StatusFailed), reason, trackID)
	if err != nil {
		if ec.IsConnectionErr(err) {
			return ec.ErrDBConnectionFailed.Clone().Warp(err)
		}
		s.logger.Error().
			Err(err).
			Str("track_id", trackID).
			Msg("Failed to mark track as failed")
		return nil
	}

	s.logger.Debug().
		Str("track_id", trackID).
		Str("reason", reason).
		Msg("Track marked failed")
	return nil
}

func (s *Postgres) UpsertEmbedding(ctx context.Context, trackID string, vec []float32, modelVersion string) error {
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	if len(vec) != EmbeddingDim {
		return ec.ErrValidationFailed.Clone().WithDetails(
			fmt.Sprintf("embedding must have %d dimensions, got %d", EmbeddingDim, len(vec)))
	}

	analyzedAt, err := utils.TimeTo.PGTimestamptz(time.Now().UTC())
	if err != nil {
		return ec.ErrDBError.Clone().Warp(err)
	}

	_, err = s.conn.Exec(ctx, upsertEmbeddingSQL,
		trackID, utils.ToPgVector(vec), modelVersion, analyzedAt)
	if err != nil {
		if ec.IsConnectionErr(err) {
			return ec.ErrDBConnectionFailed.Clone().Warp(err)
		}
		if pgErr, ok := ec.NewPGErr(err); ok {
			return ec.FromPgError(pgErr).Warp(err)
		}
		return ec.ErrDBError.Clone().Warp(err)
	}
	return nil
}

func (s *Postgres) GetTrackAnalysis(ctx context.Context, trackID string) (*TrackAnalysis, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	ta := &TrackAnalysis{}
	var status string
	err := s.conn.QueryRow(ctx, getTrackAnalysisSQL, trackID).Scan(
		&ta.TrackID,
		&status,
		&ta.Error,
		&ta.RetryCount,
		&ta.HasEmbedding,
		&ta.ModelVersion,
		&ta.AnalyzedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ec.ErrNotFound.Clone().WithDetails(
				fmt.Sprintf("track %s does not exist", trackID))
		}
		if ec.IsConnectionErr(err) {
			return nil, ec.ErrDBConnectionFailed.Clone().Warp(err)
		}
		return nil, ec.ErrDBError.Clone().Warp(err)
	}

	ta.Status = TrackStatus(status)
	return ta, nil
}

func (s *Postgres) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close(ctx)
}
