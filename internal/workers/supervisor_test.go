package workers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jamzercise/lidify-fork/internal/broker"
	"github.com/jamzercise/lidify-fork/internal/clap"
	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/internal/store"
	"github.com/jamzercise/lidify-fork/internal/workers"
	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

// trackingFactory hands out fresh fake stores and remembers them so the
// test can inspect each worker's view.
type trackingFactory struct {
	mu     sync.Mutex
	stores []*fakeStore
	err    error
}

func (f *trackingFactory) new(context.Context) (store.TrackStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st := newFakeStore()
	f.stores = append(f.stores, st)
	return st, nil
}

func (f *trackingFactory) all() []*fakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStore(nil), f.stores...)
}

func newTestSupervisor(cfg *config.Config, b broker.Broker, gateway *clap.Gateway,
	factory workers.StoreFactory) *workers.Supervisor {
	return workers.NewSupervisor(cfg, b, gateway, factory, zerolog.Nop(),
		noop.NewTracerProvider().Tracer("test"), prometheus.NewRegistry())
}

func TestSupervisorProcessesJobsEndToEnd(t *testing.T) {
	root := t.TempDir()
	writeAudioFile(t, root, "album/song.mp3")

	cfg := testConfig(root)
	b := broker.NewMemory(8)
	gateway := clap.NewGateway(&stubModel{width: 512}, cfg.CLAP.ModelVersion, zerolog.Nop())
	factory := &trackingFactory{}

	sup := newTestSupervisor(cfg, b, gateway, factory.new)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, gateway.Loaded, waitFor, tick)
	require.Eventually(t, func() bool {
		return len(factory.all()) == cfg.Worker.Workers
	}, waitFor, tick)

	pushJob(t, b, workers.AnalysisJob{TrackID: "t1", FilePath: "album/song.mp3"})

	require.Eventually(t, func() bool {
		for _, st := range factory.all() {
			if _, ok := st.embedding("t1"); ok {
				return true
			}
		}
		return false
	}, waitFor, tick)

	// The responder is live in the same process.
	waitSubscribed(t, b, cfg.Broker.RequestTopic)
	respSub, err := b.Subscribe(context.Background(),
		workers.ResponseTopic(cfg.Broker.ResponsePrefix, "rq"))
	require.NoError(t, err)
	defer respSub.Close()
	publishRequest(t, b, cfg.Broker.RequestTopic,
		workers.TextEmbedRequest{RequestID: "rq", Text: "warm jazz"})
	recvWithTimeoutW(t, respSub.Messages())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not shut down")
	}

	// Worker stores are closed on the way out.
	for _, st := range factory.all() {
		st.mu.Lock()
		closed := st.closed
		st.mu.Unlock()
		require.True(t, closed)
	}
}

func TestSupervisorFailsWhenModelLoadFails(t *testing.T) {
	cfg := testConfig(t.TempDir())
	b := broker.NewMemory(1)
	gateway := clap.NewGateway(&stubModel{loadErr: errors.New("checkpoint corrupt")},
		cfg.CLAP.ModelVersion, zerolog.Nop())
	factory := &trackingFactory{}

	sup := newTestSupervisor(cfg, b, gateway, factory.new)

	err := sup.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, clap.ErrNotLoaded)

	// Stores dialed alongside the failed load end up closed.
	for _, st := range factory.all() {
		st.mu.Lock()
		closed := st.closed
		st.mu.Unlock()
		require.True(t, closed)
	}
}

func TestSupervisorFailsWhenStoreDialFails(t *testing.T) {
	cfg := testConfig(t.TempDir())
	b := broker.NewMemory(1)
	gateway := clap.NewGateway(&stubModel{width: 512}, cfg.CLAP.ModelVersion, zerolog.Nop())
	factory := &trackingFactory{err: ec.ErrDBConnectionFailed.Clone()}

	sup := newTestSupervisor(cfg, b, gateway, factory.new)

	err := sup.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ec.ErrDBConnectionFailed)
}

func TestSupervisorShutdownIsBounded(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Worker.ShutdownWaitTime = 200 * time.Millisecond
	b := broker.NewMemory(1)
	gateway := clap.NewGateway(&stubModel{width: 512}, cfg.CLAP.ModelVersion, zerolog.Nop())
	factory := &trackingFactory{}

	sup := newTestSupervisor(cfg, b, gateway, factory.new)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, gateway.Loaded, waitFor, tick)
	cancel()

	// Idle tasks join within one poll interval, well inside the
	// per-task grace budget.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown exceeded the grace budget")
	}
}

func TestSupervisorHealthEndpoints(t *testing.T) {
	cfg := testConfig(t.TempDir())
	b := broker.NewMemory(1)
	gateway := clap.NewGateway(&stubModel{width: 512}, cfg.CLAP.ModelVersion, zerolog.Nop())
	factory := &trackingFactory{}

	sup := newTestSupervisor(cfg, b, gateway, factory.new)
	handler := sup.HealthHandler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"code": 0, "message": "ok"}`, rec.Body.String())

	// Not ready before the model is loaded.
	rec = get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, gateway.Load(context.Background()))
	rec = get("/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	// A dead broker flips readiness back off.
	b.FailPings(ec.ErrQueueUnavailable.Clone())
	rec = get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	b.FailPings(nil)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "clap_analyzer_jobs_total")
}
