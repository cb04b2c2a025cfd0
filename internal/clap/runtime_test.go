package clap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jamzercise/lidify-fork/internal/clap"
	"github.com/jamzercise/lidify-fork/internal/config"
)

func runtimeConfig(url string) config.CLAPConfig {
	return config.CLAPConfig{
		RuntimeURL:     url,
		ModelVersion:   "laion-clap-music-v1",
		Threads:        2,
		LoadTimeout:    2 * time.Second,
		RequestTimeout: 2 * time.Second,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestRuntimeModelLoad(t *testing.T) {
	var (
		loadHits atomic.Int32
		infoHits atomic.Int32
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/load":
			var req struct {
				Threads int `json:"threads"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, 2, req.Threads)
			loadHits.Add(1)
			writeJSON(t, w, http.StatusAccepted, map[string]string{"status": "loading"})
		case "/v1/model":
			// Ready on the second poll.
			loaded := infoHits.Add(1) >= 2
			writeJSON(t, w, http.StatusOK, map[string]any{
				"loaded":        loaded,
				"model_version": "laion-clap-music-v1",
				"audio_dim":     512,
				"text_dim":      512,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := clap.NewRuntimeModel(runtimeConfig(srv.URL), zerolog.Nop(),
		clap.WithPollInterval(10*time.Millisecond))

	require.NoError(t, m.Load(context.Background()))
	require.Equal(t, int32(1), loadHits.Load())
	require.GreaterOrEqual(t, infoHits.Load(), int32(2))
}

func TestRuntimeModelLoadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": "unknown checkpoint"})
	}))
	defer srv.Close()

	m := clap.NewRuntimeModel(runtimeConfig(srv.URL), zerolog.Nop(),
		clap.WithPollInterval(10*time.Millisecond))

	err := m.Load(context.Background())
	require.ErrorIs(t, err, clap.ErrRuntimeRejected)
	require.Contains(t, err.Error(), "unknown checkpoint")
}

func TestRuntimeModelLoadTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/load":
			writeJSON(t, w, http.StatusAccepted, map[string]string{"status": "loading"})
		case "/v1/model":
			writeJSON(t, w, http.StatusOK, map[string]any{"loaded": false})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := runtimeConfig(srv.URL)
	cfg.LoadTimeout = 100 * time.Millisecond
	m := clap.NewRuntimeModel(cfg, zerolog.Nop(),
		clap.WithPollInterval(10*time.Millisecond))

	err := m.Load(context.Background())
	require.ErrorIs(t, err, clap.ErrRuntimeUnavailable)
}

func TestRuntimeModelEmbedAudio(t *testing.T) {
	native := make([]float32, 512)
	for i := range native {
		native[i] = 0.25
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings/audio", r.URL.Path)

		var req struct {
			Path string `json:"path"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "/music/artist/album/track.flac", req.Path)

		writeJSON(t, w, http.StatusOK, map[string]any{"embedding": native})
	}))
	defer srv.Close()

	m := clap.NewRuntimeModel(runtimeConfig(srv.URL), zerolog.Nop())

	vec, err := m.EmbedAudio(context.Background(), "/music/artist/album/track.flac")
	require.NoError(t, err)
	require.Len(t, vec, 512)
	require.Equal(t, float32(0.25), vec[0])
}

func TestRuntimeModelEmbedTextRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings/text", r.URL.Path)
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]string{"error": "text too long"})
	}))
	defer srv.Close()

	m := clap.NewRuntimeModel(runtimeConfig(srv.URL), zerolog.Nop())

	_, err := m.EmbedText(context.Background(), "some very long query")
	require.ErrorIs(t, err, clap.ErrRuntimeRejected)
	require.Contains(t, err.Error(), "text too long")
}

func TestRuntimeModelUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := clap.NewRuntimeModel(runtimeConfig(url), zerolog.Nop())

	_, err := m.EmbedText(context.Background(), "query")
	require.ErrorIs(t, err, clap.ErrRuntimeUnavailable)

	cfg := runtimeConfig(url)
	cfg.LoadTimeout = 50 * time.Millisecond
	loader := clap.NewRuntimeModel(cfg, zerolog.Nop(),
		clap.WithPollInterval(10*time.Millisecond))
	require.ErrorIs(t, loader.Load(context.Background()), clap.ErrRuntimeUnavailable)
}
