// Package clap provides access to the CLAP joint audio-text embedding
// model. All inference flows through a single Gateway instance shared by
// every worker in the process.
package clap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Dimensions is the width of every vector leaving the gateway. The music
// checkpoint natively emits 512 floats; the storage schema is fixed at
// 1024 and narrower outputs are zero-padded up to it.
const Dimensions = 1024

var (
	ErrNotLoaded         = errors.New("model not loaded")
	ErrAudioNotFound     = errors.New("audio file not found")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrDimensionMismatch = errors.New("embedding wider than storage dimension")
	ErrInference         = errors.New("inference failed")
)

// Model is the raw embedding backend. Implementations are not assumed to be
// safe for concurrent use; the Gateway serializes access.
type Model interface {
	Load(ctx context.Context) error
	EmbedAudio(ctx context.Context, path string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Gateway owns the shared model. Load runs at most once per process and
// must succeed before any embed call; a mutex keeps inference serialized.
type Gateway struct {
	model   Model
	version string
	logger  zerolog.Logger

	mu       sync.Mutex
	loadOnce sync.Once
	loadErr  error
	loaded   atomic.Bool
}

func NewGateway(model Model, version string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		model:   model,
		version: version,
		logger:  logger.With().Str("component", "clap-gateway").Logger(),
	}
}

// Load initializes the model. Safe to call repeatedly; later calls return
// the memoized outcome of the first.
func (g *Gateway) Load(ctx context.Context) error {
	g.loadOnce.Do(func() {
		started := time.Now()
		g.logger.Info().
			Str("model_version", g.version).
			Msg("Loading CLAP model...")

		if err := g.model.Load(ctx); err != nil {
			g.loadErr = fmt.Errorf("%w: %s", ErrNotLoaded, err)
			g.logger.Error().Err(err).Msg("Failed to load CLAP model")
			return
		}

		g.loaded.Store(true)
		g.logger.Info().
			Dur("elapsed", time.Since(started)).
			Str("model_version", g.version).
			Msg("CLAP model loaded")
	})
	return g.loadErr
}

func (g *Gateway) Loaded() bool {
	return g.loaded.Load()
}

func (g *Gateway) ModelVersion() string {
	return g.version
}

// EmbedAudio embeds the audio file at path. path must be absolute and
// already resolved against the media root.
func (g *Gateway) EmbedAudio(ctx context.Context, path string) ([]float32, error) {
	if !g.loaded.Load() {
		return nil, ErrNotLoaded
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAudioNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	g.mu.Lock()
	vec, err := g.model.EmbedAudio(ctx, path)
	g.mu.Unlock()

	if err != nil {
		g.logger.Error().
			Err(err).
			Str("path", path).
			Msg("Audio embedding failed")
		return nil, fmt.Errorf("%w: %s", ErrInference, err)
	}
	return g.pad(vec)
}

// EmbedText embeds a free-text query in the same vector space as audio.
func (g *Gateway) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !g.loaded.Load() {
		return nil, ErrNotLoaded
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	g.mu.Lock()
	vec, err := g.model.EmbedText(ctx, text)
	g.mu.Unlock()

	if err != nil {
		g.logger.Error().
			Err(err).
			Int("text_len", len(text)).
			Msg("Text embedding failed")
		return nil, fmt.Errorf("%w: %s", ErrInference, err)
	}
	return g.pad(vec)
}

// pad widens vec to Dimensions with a zero tail. The tail stays zero so
// audio and text vectors of any native width compare in one space.
func (g *Gateway) pad(vec []float32) ([]float32, error) {
	if len(vec) > Dimensions {
		return nil, fmt.Errorf("%w: got %d, want at most %d",
			ErrDimensionMismatch, len(vec), Dimensions)
	}
	if len(vec) == Dimensions {
		return vec, nil
	}
	padded := make([]float32, Dimensions)
	copy(padded, vec)
	return padded, nil
}
