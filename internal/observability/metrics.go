package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_active_calls",
		Help: "Number of active phone calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_calls_total",
		Help: "Total number of calls processed",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callbridge_call_duration_seconds",
		Help:    "Duration of phone calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Realtime model session metrics
	sessionReadyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callbridge_session_ready_latency_seconds",
		Help:    "Time from session.update (greeting) send to session.updated receipt",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0},
	})

	sessionUpdateTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_session_update_timeouts_total",
		Help: "Total number of session-ready deadlines exceeded",
	})

	// Barge-in metrics
	bargeInEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_barge_in_events_total",
		Help: "Barge-in controller outcomes",
	}, []string{"outcome"}) // confirmed, ignored_greeting_phase, ignored_audio_almost_finished, cancelled

	// Playback metrics
	playbackAudioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_playback_audio_bytes_total",
		Help: "Total audio bytes accounted by the playback tracker",
	}, []string{"direction"}) // direction: "in" (carrier->model) or "out" (model->carrier)

	// Reservation finalizer metrics
	finalizeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_finalize_outcomes_total",
		Help: "Reservation finalize outcomes by result",
	}, []string{"outcome", "error_type"}) // outcome: ok, deduped, rejected; error_type: "" for ok

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "callbridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single call.
type Metrics struct {
	callID          string
	startTime       time.Time
	sessionReqStart time.Time
	mu              sync.Mutex
}

// NewCallMetrics creates a new metrics tracker for a call.
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call.
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call.
func (m *Metrics) RecordCallEnd() {
	activeCalls.Dec()
	duration := time.Since(m.startTime).Seconds()
	callDuration.Observe(duration)
}

// RecordSessionUpdateSent marks the moment session.update (greeting) was sent.
func (m *Metrics) RecordSessionUpdateSent() {
	m.mu.Lock()
	m.sessionReqStart = time.Now()
	m.mu.Unlock()
}

// RecordSessionReady records the session-ready latency once session.updated arrives.
func (m *Metrics) RecordSessionReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sessionReqStart.IsZero() {
		sessionReadyLatency.Observe(time.Since(m.sessionReqStart).Seconds())
	}
}

// RecordSessionUpdateTimeout records a session-ready deadline exceeded.
func (m *Metrics) RecordSessionUpdateTimeout() {
	sessionUpdateTimeouts.Inc()
}

// RecordBargeIn records a barge-in controller outcome.
func (m *Metrics) RecordBargeIn(outcome string) {
	bargeInEvents.WithLabelValues(outcome).Inc()
}

// RecordPlaybackBytes records audio bytes accounted by the playback tracker.
func (m *Metrics) RecordPlaybackBytes(direction string, n int64) {
	playbackAudioBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordFinalizeOutcome records a reservation finalize outcome.
func (m *Metrics) RecordFinalizeOutcome(outcome, errorType string) {
	finalizeOutcomes.WithLabelValues(outcome, errorType).Inc()
}

// RecordError records an error.
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter.
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
