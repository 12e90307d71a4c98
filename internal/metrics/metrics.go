package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of a proxy synthesis request.
const (
	OutcomeUnauthorized   = "unauthorized"
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeMissingText    = "missing_text"
	OutcomeUpstreamError  = "upstream_error"
	OutcomeTransportError = "transport_error"
	OutcomeOK             = "ok"
)

type Metrics struct {
	registry *prometheus.Registry

	synthRequests    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	audioBytes       prometheus.Counter
	studioActions    *prometheus.CounterVec
	studioSessions   prometheus.Gauge
}

// New registers every collector on a private registry so several instances can
// coexist in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		synthRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voiceforge",
				Name:      "tts_requests_total",
				Help:      "Synthesis proxy requests by outcome.",
			},
			[]string{"outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "voiceforge",
				Name:      "upstream_duration_seconds",
				Help:      "Time until the provider answered a synthesis request.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"status"}, // success, failure
		),

		audioBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "voiceforge",
				Name:      "audio_bytes_relayed_total",
				Help:      "Audio bytes streamed back to callers.",
			},
		),

		studioActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voiceforge",
				Name:      "studio_actions_total",
				Help:      "Browser studio actions by kind and result.",
			},
			[]string{"action", "result"},
		),

		studioSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "voiceforge",
				Name:      "studio_sessions",
				Help:      "Studio sessions held in memory.",
			},
		),
	}

	m.registry.MustRegister(
		m.synthRequests,
		m.upstreamDuration,
		m.audioBytes,
		m.studioActions,
		m.studioSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) RecordSynthesis(outcome string) {
	m.synthRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpstream(success bool, seconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.upstreamDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) AddAudioBytes(n int64) {
	if n > 0 {
		m.audioBytes.Add(float64(n))
	}
}

func (m *Metrics) RecordStudioAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.studioActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SetStudioSessions(n int) {
	m.studioSessions.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"voiceforge"}`))
}
