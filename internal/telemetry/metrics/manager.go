package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests               *prometheus.CounterVec
	CounterRemindersCreated       prometheus.Counter
	CounterRemindersFired         prometheus.Counter
	CounterNotificationsDelivered prometheus.Counter
	CounterNotificationsQueued    prometheus.Counter
	CounterHandleRequestPanic     prometheus.Counter
	CounterRateLimitedRequests    prometheus.Counter

	// gauges
	GaugeRequests         prometheus.Gauge
	GaugeLifeSignal       prometheus.Gauge
	GaugeActiveSessions   prometheus.Gauge
	GaugeConnectedClients prometheus.Gauge

	// histograms
	HistogramRequestDuration *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager("backend", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("backend", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterRemindersCreated := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reminders_created",
		Help:      "The total number of created reminders",
	})
	counterRemindersFired := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reminders_fired",
		Help:      "The total number of reminder firings",
	})
	counterNotificationsDelivered := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notifications_delivered",
		Help:      "Notifications pushed to a connected client in real time",
	})
	counterNotificationsQueued := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notifications_queued",
		Help:      "Notifications queued for later, user not connected",
	})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of serve request panics",
	})
	counterRateLimitedRequests := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_requests",
		Help:      "The total number of rate limited requests",
	})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "current_requests",
		Help:        "Current number of requests served",
		ConstLabels: nil,
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "life_signal",
		Help:        "Shows whether the service is alive",
		ConstLabels: nil,
	})
	gaugeActiveSessions := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_reminder_sessions",
		Help:      "Current number of active reminder scheduling sessions",
	})
	gaugeConnectedClients := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connected_ws_clients",
		Help:      "Current number of connected websocket clients",
	})

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "status"})

	return &Manager{
		CounterRequests:               counterRequests,
		CounterRemindersCreated:       counterRemindersCreated,
		CounterRemindersFired:         counterRemindersFired,
		CounterNotificationsDelivered: counterNotificationsDelivered,
		CounterNotificationsQueued:    counterNotificationsQueued,
		CounterHandleRequestPanic:     counterHandleRequestPanic,
		CounterRateLimitedRequests:    counterRateLimitedRequests,
		GaugeRequests:                 gaugeRequests,
		GaugeLifeSignal:               gaugeLifeSignal,
		GaugeActiveSessions:           gaugeActiveSessions,
		GaugeConnectedClients:         gaugeConnectedClients,
		HistogramRequestDuration:      histogramRequestDuration,
	}
}
