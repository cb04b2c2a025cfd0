package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job results as recorded in metrics.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultDiscarded = "discarded"
)

// Text embed request results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultDropped = "dropped"
)

// Transport labels for TransportErrors.
const (
	TransportDB     = "db"
	TransportQueue  = "queue"
	TransportPubSub = "pubsub"
)

// Inference modalities.
const (
	ModalityAudio = "audio"
	ModalityText  = "text"
)

type Metrics struct {
	JobsTotal         *prometheus.CounterVec
	JobSeconds        prometheus.Histogram
	InferenceSeconds  *prometheus.HistogramVec
	TextRequestsTotal *prometheus.CounterVec
	TransportErrors   *prometheus.CounterVec
}

// NewMetrics registers the analyzer collectors on reg. Passing a fresh
// Registry keeps tests independent of process-global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clap_analyzer",
			Name:      "jobs_total",
			Help:      "Analysis jobs processed, by terminal result.",
		}, []string{"result"}),
		JobSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clap_analyzer",
			Name:      "job_seconds",
			Help:      "Wall time spent per analysis job.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		InferenceSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clap_analyzer",
			Name:      "inference_seconds",
			Help:      "Time spent inside the inference gateway, by modality.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"modality"}),
		TextRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clap_analyzer",
			Name:      "text_requests_total",
			Help:      "Ad-hoc text embedding requests, by result.",
		}, []string{"result"}),
		TransportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clap_analyzer",
			Name:      "transport_errors_total",
			Help:      "Queue, pub/sub and database transport failures.",
		}, []string{"transport"}),
	}

	// Pre-create the known label children so every series shows up at
	// zero from the first scrape.
	for _, result := range []string{ResultCompleted, ResultFailed, ResultDiscarded} {
		m.JobsTotal.WithLabelValues(result)
	}
	for _, result := range []string{ResultOK, ResultError, ResultDropped} {
		m.TextRequestsTotal.WithLabelValues(result)
	}
	for _, modality := range []string{ModalityAudio, ModalityText} {
		m.InferenceSeconds.WithLabelValues(modality)
	}
	for _, transport := range []string{TransportDB, TransportQueue, TransportPubSub} {
		m.TransportErrors.WithLabelValues(transport)
	}
	return m
}
