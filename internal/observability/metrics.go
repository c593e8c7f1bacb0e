package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/resilience"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "salon_voice_active_calls",
		Help: "Number of active phone calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salon_voice_calls_total",
		Help: "Total number of calls processed",
	})

	callEnds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_call_ends_total",
		Help: "Call terminations by reason",
	}, []string{"reason"})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "salon_voice_call_duration_seconds",
		Help:    "Duration of phone calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Audio pipeline metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_frames_dropped_total",
		Help: "Inbound frames or utterances dropped before processing",
	}, []string{"stage"})

	utterancesFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_utterances_total",
		Help: "Utterance buffers flushed to transcription",
	}, []string{"reason"}) // silence, max_duration

	utteranceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "salon_voice_utterance_duration_seconds",
		Help:    "Duration of flushed utterance buffers",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15},
	})

	// Backend metrics
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_backend_requests_total",
		Help: "Backend requests by kind and status",
	}, []string{"kind", "status"}) // kind: stt, tts, intent

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salon_voice_backend_latency_seconds",
		Help:    "Backend round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"kind"})

	transcripts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_transcripts_total",
		Help: "Transcripts by outcome",
	}, []string{"status"}) // ok, suppressed, unavailable, duplicate, echo

	intents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_intents_total",
		Help: "Resolved intents by category and source",
	}, []string{"category", "source"})

	handoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_handoffs_total",
		Help: "Escalations to a human operator",
	}, []string{"reason"})

	// TTS metrics
	ttsCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_tts_cache_total",
		Help: "TTS cache lookups by result",
	}, []string{"result"}) // hit, persistent_hit, miss, evict, fallback

	speechGate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_speech_gate_total",
		Help: "Speech gate transitions",
	}, []string{"event"}) // activate, mark_release, barge_in, echo

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	eventSinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salon_voice_event_sink_failures_total",
		Help: "Events the sink failed to accept",
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "salon_voice_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salon_voice_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single call
type Metrics struct {
	callID    string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call. Repeated calls are ignored.
func (m *Metrics) RecordCallEnd(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeCalls.Dec()
	callEnds.WithLabelValues(reason).Inc()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error outside a call scope.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordBackend records one backend round trip.
func RecordBackend(kind string, start time.Time, success bool) {
	backendLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	backendRequests.WithLabelValues(kind, status).Inc()
}

// RecordUtterance records a flushed utterance buffer.
func RecordUtterance(reason string, d time.Duration) {
	utterancesFlushed.WithLabelValues(reason).Inc()
	utteranceDuration.Observe(d.Seconds())
}

// RecordDropped records dropped frames or utterances at a pipeline stage.
func RecordDropped(stage string) {
	framesDropped.WithLabelValues(stage).Inc()
}

// RecordTranscript records a transcript outcome.
func RecordTranscript(status string) {
	transcripts.WithLabelValues(status).Inc()
}

// RecordIntent records a resolved intent.
func RecordIntent(category, source string) {
	intents.WithLabelValues(category, source).Inc()
}

// RecordHandoff records an escalation to a human.
func RecordHandoff(reason string) {
	handoffs.WithLabelValues(reason).Inc()
}

// RecordTTSCache records a TTS cache lookup result.
func RecordTTSCache(result string) {
	ttsCache.WithLabelValues(result).Inc()
}

// RecordSpeechGate records a speech gate transition.
func RecordSpeechGate(event string) {
	speechGate.WithLabelValues(event).Inc()
}

// RecordEventSinkFailure records an event the sink rejected.
func RecordEventSinkFailure() {
	eventSinkFailures.Inc()
}

// BreakerStateHook returns a resilience.BreakerConfig.OnStateChange callback
// that updates the breaker state gauge and logs the transition.
func BreakerStateHook(logger zerolog.Logger) func(name string, from, to resilience.CircuitState) {
	return func(name string, from, to resilience.CircuitState) {
		circuitBreakerState.WithLabelValues(name).Set(float64(to))
		ev := logger.Info()
		if to == resilience.StateOpen {
			ev = logger.Warn()
		}
		ev.Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("Circuit breaker state changed")
	}
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
