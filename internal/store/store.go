// Package store persists analysis outcomes: per-track status on the main
// application's Track table and one embedding row per track.
package store

import (
	"context"
	"time"
)

// TrackStatus is the analysis lifecycle state stored on a track row. A job
// only ever moves forward: processing, then exactly one of completed or
// failed.
type TrackStatus string

const (
	StatusProcessing TrackStatus = "processing"
	StatusCompleted  TrackStatus = "completed"
	StatusFailed     TrackStatus = "failed"
)

// MaxErrorLen caps analysisError. Longer reasons are truncated, not
// rejected.
const MaxErrorLen = 500

// EmbeddingDim matches the vector(1024) column of track_embeddings.
const EmbeddingDim = 1024

// TrackAnalysis is the queryable outcome of a track's latest analysis.
type TrackAnalysis struct {
	TrackID      string      `json:"track_id"`
	Status       TrackStatus `json:"status"`
	Error        *string     `json:"error,omitempty"`
	RetryCount   int         `json:"retry_count"`
	HasEmbedding bool        `json:"has_embedding"`
	ModelVersion *string     `json:"model_version,omitempty"`
	AnalyzedAt   *time.Time  `json:"analyzed_at,omitempty"`
}

// TrackStore is the persistence surface a worker holds. Implementations
// are bound to a single connection and are not safe for concurrent use;
// every worker owns its own instance.
//
// SetStatus and MarkFailed are best-effort: statement-level failures are
// logged and swallowed so a reporting problem never aborts a job. Only
// connection-level failures surface, wrapped in ErrDBConnectionFailed, so
// the caller can reconnect and back off.
type TrackStore interface {
	EnsureConnected(ctx context.Context) error
	SetStatus(ctx context.Context, trackID string, status TrackStatus) error
	MarkFailed(ctx context.Context, trackID, reason string) error
	UpsertEmbedding(ctx context.Context, trackID string, vec []float32, modelVersion string) error
	GetTrackAnalysis(ctx context.Context, trackID string) (*TrackAnalysis, error)
	Close(ctx context.Context) error
}
