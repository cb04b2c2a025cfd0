package workers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jamzercise/lidify-fork/internal/broker"
	"github.com/jamzercise/lidify-fork/internal/clap"
	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/internal/store"
	"github.com/jamzercise/lidify-fork/internal/telemetry"
	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

// StoreFactory opens a fresh store connection. Every worker gets its
// own, so no two tasks ever share a database session.
type StoreFactory func(ctx context.Context) (store.TrackStore, error)

// Supervisor owns the process lifecycle. It loads the shared model,
// dials one store per worker, runs the workers and the responder, and
// serves the health endpoints. On shutdown it joins each task with a
// bounded grace period; a task still busy after its grace is abandoned
// rather than awaited forever.
type Supervisor struct {
	cfg      *config.Config
	brk      broker.Broker
	gateway  *clap.Gateway
	newStore StoreFactory
	logger   zerolog.Logger
	tracer   trace.Tracer
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
}

func NewSupervisor(cfg *config.Config, brk broker.Broker, gateway *clap.Gateway,
	newStore StoreFactory, logger zerolog.Logger, tracer trace.Tracer,
	registry *prometheus.Registry) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		brk:      brk,
		gateway:  gateway,
		newStore: newStore,
		logger:   logger.With().Str("component", "supervisor").Logger(),
		tracer:   tracer,
		registry: registry,
		metrics:  telemetry.NewMetrics(registry),
	}
}

// Run blocks until ctx is canceled and the tasks have been joined.
// A model load or store dial failure aborts startup; once the tasks are
// running, nothing but cancellation stops them.
func (s *Supervisor) Run(ctx context.Context) error {
	var srv *http.Server
	if s.cfg.Worker.HealthCheckPort > 0 {
		srv = s.healthServer()
		go func() {
			s.logger.Info().Str("addr", srv.Addr).Msg("health server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("health server failed")
			}
		}()
	}

	// The model load can take minutes, so the store dials run alongside
	// it. Any failure cancels the rest.
	stores := make([]store.TrackStore, s.cfg.Worker.Workers)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.gateway.Load(gCtx)
	})
	for i := range stores {
		g.Go(func() error {
			st, err := s.newStore(gCtx)
			if err != nil {
				return err
			}
			stores[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, st := range stores {
			if st != nil {
				_ = st.Close(context.Background())
			}
		}
		s.shutdownHealthServer(srv)
		return err
	}

	s.logger.Info().
		Int("workers", len(stores)).
		Str("model_version", s.gateway.ModelVersion()).
		Msg("model loaded, starting tasks")

	type taskHandle struct {
		name string
		done chan struct{}
	}
	handles := make([]taskHandle, 0, len(stores)+1)

	for i, st := range stores {
		worker := NewAnalysisWorker(i, s.brk, st, s.gateway, s.cfg, s.logger, s.tracer, s.metrics)
		handle := taskHandle{name: fmt.Sprintf("worker-%d", i), done: make(chan struct{})}
		handles = append(handles, handle)
		go func() {
			defer close(handle.done)
			defer st.Close(context.Background())
			_ = worker.Run(ctx)
		}()
	}

	responder := NewTextEmbedResponder(s.brk, s.gateway, s.cfg, s.logger, s.tracer, s.metrics)
	responderHandle := taskHandle{name: "responder", done: make(chan struct{})}
	handles = append(handles, responderHandle)
	go func() {
		defer close(responderHandle.done)
		_ = responder.Run(ctx)
	}()

	<-ctx.Done()
	s.logger.Info().Msg("shutdown requested, joining tasks")

	for _, handle := range handles {
		select {
		case <-handle.done:
			s.logger.Debug().Str("task", handle.name).Msg("task joined")
		case <-time.After(s.cfg.Worker.ShutdownWaitTime):
			s.logger.Warn().
				Str("task", handle.name).
				Dur("grace", s.cfg.Worker.ShutdownWaitTime).
				Msg("grace period elapsed, abandoning task")
		}
	}

	s.shutdownHealthServer(srv)
	s.logger.Info().Msg("analyzer stopped")
	return nil
}

func (s *Supervisor) shutdownHealthServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// HealthHandler serves /healthz, /readyz and /metrics.
func (s *Supervisor) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, ec.Success)
	})
	mux.HandleFunc("/readyz", s.readyCheck)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Supervisor) healthServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Worker.HealthCheckHost, s.cfg.Worker.HealthCheckPort),
		Handler:      s.HealthHandler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// readyCheck reports ready only when the model is loaded and the broker
// answers a ping. Readiness gates traffic during the long initial model
// load.
func (s *Supervisor) readyCheck(w http.ResponseWriter, req *http.Request) {
	if !s.gateway.Loaded() {
		writeHealth(w, ec.ErrModelNotLoaded)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()
	if err := s.brk.Ping(ctx); err != nil {
		var e *ec.Error
		if errors.As(err, &e) {
			writeHealth(w, e)
		} else {
			writeHealth(w, ec.ErrQueueUnavailable)
		}
		return
	}

	writeHealth(w, ec.Success)
}

func writeHealth(w http.ResponseWriter, e *ec.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HttpStatusCode)
	_ = e.MarshalAndWriteTo(w)
}
