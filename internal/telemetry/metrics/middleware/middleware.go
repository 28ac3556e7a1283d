package middleware

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware instruments handlers with request count, duration and in-flight
// gauges, registered on the given registry.
type Middleware struct {
	buckets  []float64
	registry prometheus.Registerer
}

func New(registry prometheus.Registerer, buckets []float64) *Middleware {
	if buckets == nil {
		buckets = prometheus.ExponentialBuckets(0.1, 1.5, 5)
	}

	return &Middleware{
		buckets:  buckets,
		registry: registry,
	}
}

func (m *Middleware) WrapHandler(handlerName string, handler http.Handler) http.HandlerFunc {
	reg := prometheus.WrapRegistererWith(
		prometheus.Labels{"handler": handlerName},
		m.registry,
	)

	factory := promauto.With(reg)
	requestsTotal := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, []string{"method", "code"},
	)
	requestDuration := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Tracks the latencies for HTTP requests.",
			Buckets: m.buckets,
		},
		[]string{"method", "code"},
	)
	requestsInFlight := factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Tracks the number of HTTP requests currently in flight.",
		},
	)

	base := promhttp.InstrumentHandlerCounter(
		requestsTotal,
		promhttp.InstrumentHandlerDuration(
			requestDuration,
			promhttp.InstrumentHandlerInFlight(requestsInFlight, handler),
		),
	)

	return base.ServeHTTP
}
