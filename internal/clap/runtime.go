package clap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/pkgs/utils"
)

var (
	ErrRuntimeUnavailable = errors.New("clap runtime unavailable")
	ErrRuntimeRejected    = errors.New("clap runtime rejected request")
)

type loadRequest struct {
	Threads int `json:"threads"`
}

type modelInfo struct {
	Loaded       bool   `json:"loaded"`
	ModelVersion string `json:"model_version"`
	AudioDim     int    `json:"audio_dim"`
	TextDim      int    `json:"text_dim"`
}

type embedAudioRequest struct {
	Path string `json:"path"`
}

type embedTextRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type runtimeError struct {
	Error string `json:"error"`
}

// RuntimeModel implements Model against the CLAP runtime sidecar, the
// process that owns the checkpoint and the audio decode chain. The sidecar
// shares the media mount, so embed-audio requests carry resolved paths.
type RuntimeModel struct {
	client       *resty.Client
	threads      int
	loadTimeout  time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
	info         modelInfo
}

type RuntimeOption func(*RuntimeModel)

// WithPollInterval overrides the readiness poll interval.
func WithPollInterval(d time.Duration) RuntimeOption {
	return func(m *RuntimeModel) {
		m.pollInterval = d
	}
}

func NewRuntimeModel(cfg config.CLAPConfig, logger zerolog.Logger, opts ...RuntimeOption) *RuntimeModel {
	m := &RuntimeModel{
		client: resty.New().
			SetBaseURL(cfg.RuntimeURL).
			SetTimeout(cfg.RequestTimeout),
		threads:      cfg.Threads,
		loadTimeout:  utils.DefaultIfZero(cfg.LoadTimeout, 5*time.Minute),
		pollInterval: 2 * time.Second,
		logger:       logger.With().Str("component", "clap-runtime").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load kicks off checkpoint loading on the sidecar and waits for it to
// report ready. The kick is retried while the sidecar is still binding its
// port, the wait polls until the load timeout expires.
func (m *RuntimeModel) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()

	if err := m.requestLoad(ctx); err != nil {
		return err
	}

	for {
		info, err := m.fetchInfo(ctx)
		if err == nil && info.Loaded {
			m.info = info
			m.logger.Info().
				Str("runtime_model_version", info.ModelVersion).
				Int("audio_dim", info.AudioDim).
				Int("text_dim", info.TextDim).
				Msg("CLAP runtime ready")
			return nil
		}
		if err != nil {
			m.logger.Debug().Err(err).Msg("CLAP runtime not ready yet")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: gave up waiting for model load: %s",
				ErrRuntimeUnavailable, ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *RuntimeModel) requestLoad(ctx context.Context) error {
	var lastErr error
	for retry := 0; ; retry++ {
		var rerr runtimeError
		resp, err := m.client.R().
			SetContext(ctx).
			SetBody(loadRequest{Threads: m.threads}).
			SetError(&rerr).
			Post("/v1/load")

		switch {
		case err == nil && resp.IsSuccess():
			return nil
		case err == nil:
			return fmt.Errorf("%w: %s",
				ErrRuntimeRejected, utils.DefaultIfZero(rerr.Error, resp.Status()))
		default:
			lastErr = err
		}

		wt := time.Second * (1 << min(retry, 5))
		m.logger.Warn().
			Int("retry", retry).
			Dur("wait_time", wt).
			Err(lastErr).
			Msg("Waiting for CLAP runtime...")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrRuntimeUnavailable, lastErr)
		case <-time.After(wt):
		}
	}
}

func (m *RuntimeModel) fetchInfo(ctx context.Context) (modelInfo, error) {
	var info modelInfo
	resp, err := m.client.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/v1/model")
	if err != nil {
		return modelInfo{}, fmt.Errorf("%w: %s", ErrRuntimeUnavailable, err)
	}
	if resp.IsError() {
		return modelInfo{}, fmt.Errorf("%w: %s", ErrRuntimeRejected, resp.Status())
	}
	return info, nil
}

func (m *RuntimeModel) EmbedAudio(ctx context.Context, path string) ([]float32, error) {
	return m.embed(ctx, "/v1/embeddings/audio", embedAudioRequest{Path: path})
}

func (m *RuntimeModel) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return m.embed(ctx, "/v1/embeddings/text", embedTextRequest{Text: text})
}

func (m *RuntimeModel) embed(ctx context.Context, endpoint string, body any) ([]float32, error) {
	var (
		out  embedResponse
		rerr runtimeError
	)
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&rerr).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s",
			ErrRuntimeRejected, utils.DefaultIfZero(rerr.Error, resp.Status()))
	}
	return out.Embedding, nil
}
