package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the backend.
type Metrics struct {
	SessionEvents     *prometheus.CounterVec
	Generations       *prometheus.CounterVec
	EngineErrors      *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	CompletionTokens  prometheus.Histogram
	SceneTagsRedacted prometheus.Counter
	SessionsSwept     prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers the backend instruments on reg. A nil reg uses the
// process-wide default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation requests by persona and outcome.",
		}, []string{"personality", "outcome"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Engine failures by engine and error code.",
		}, []string{"engine", "code"}),
		GenerationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Engine generation latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"engine"}),
		CompletionTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_tokens",
			Help:      "Completion tokens per successful generation.",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 8),
		}),
		SceneTagsRedacted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scene_tags_redacted_total",
			Help:      "Scene tags dropped because they named identity attributes.",
		}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired sessions physically removed by the janitor.",
		}),
	}
}

func (m *Metrics) ObserveGeneration(engine string, d time.Duration) {
	m.GenerationLatency.WithLabelValues(engine).Observe(float64(d.Milliseconds()))
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
