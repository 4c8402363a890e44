package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Front-end metrics
	updatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vesta_bot_updates_received_total",
		Help: "Total number of Telegram updates received",
	}, []string{"kind"})

	updatesThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vesta_bot_updates_throttled_total",
		Help: "Total number of updates dropped by the per-chat throttle",
	})

	updatesUnauthorized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vesta_bot_updates_unauthorized_total",
		Help: "Total number of updates rejected because the sender is not authorized",
	})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vesta_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	turnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vesta_turns_processed_total",
		Help: "Total number of conversational turns by outcome",
	}, []string{"status"})

	errorsByKind = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vesta_errors_total",
		Help: "Total number of errors surfaced to users, by kind",
	}, []string{"kind"})

	authCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vesta_bot_auth_cache_entries",
		Help: "Number of users in the authorization cache",
	})

	// Backend metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vesta_ai_request_duration_seconds",
		Help:    "Duration of language-model requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vesta_ai_requests_total",
		Help: "Total number of language-model requests",
	}, []string{"model", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vesta_http_request_duration_seconds",
		Help:    "Duration of backend HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	approvalEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vesta_approval_events_total",
		Help: "Total number of approval events by direction and outcome",
	}, []string{"direction", "status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordUpdateReceived(kind string) {
	updatesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordThrottled() {
	updatesThrottled.Inc()
}

func (m *Metrics) RecordUnauthorized() {
	updatesUnauthorized.Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordTurn records the outcome of one processed user message
func (m *Metrics) RecordTurn(status string) {
	turnsProcessed.WithLabelValues(status).Inc()
}

// RecordError counts an error by its kind
func (m *Metrics) RecordError(kind string) {
	errorsByKind.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetAuthCacheEntries(n int) {
	authCacheEntries.Set(float64(n))
}

// RecordAIRequest records a language-model request
func (m *Metrics) RecordAIRequest(model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(model, status).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, fmt.Sprint(status)).Observe(duration.Seconds())
}

// RecordApprovalEvent records a published or consumed approval event
func (m *Metrics) RecordApprovalEvent(direction, status string) {
	approvalEvents.WithLabelValues(direction, status).Inc()
}

// NewMetricsServer builds the HTTP server exposing metrics and a health check
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
