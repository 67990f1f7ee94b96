package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_active_sessions",
		Help: "Number of recording sessions in progress",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_sessions_total",
		Help: "Total number of recording sessions by outcome",
	}, []string{"outcome"}) // outcome: completed, cancelled, failed

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_session_duration_seconds",
		Help:    "Wall clock duration of recording sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Chunk transcription metrics
	chunkTranscriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_chunk_transcriptions_total",
		Help: "Total number of chunk transcriptions",
	}, []string{"status"}) // status: success, error, skipped

	chunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_chunk_latency_seconds",
		Help:    "Chunk transcription latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Engine metrics
	inferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dictation_inference_latency_seconds",
		Help:    "Model inference latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"engine"})

	engineActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_engine_activations_total",
		Help: "Total number of engine activations",
	}, []string{"status"})

	engineLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_engine_loaded",
		Help: "Whether a transcription engine is resident (1) or unloaded (0)",
	})

	// Audio metrics
	audioSecondsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_audio_seconds_total",
		Help: "Total seconds of audio transcribed",
	})

	droppedBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_capture_dropped_blocks_total",
		Help: "Capture blocks dropped because the collector fell behind",
	})

	deviceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_capture_device_errors_total",
		Help: "Errors reported by the capture device",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Publishing metrics
	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_published_events_total",
		Help: "Transcript events delivered to downstream consumers",
	}, []string{"sink", "status"})
)

// Metrics tracks metrics for a single recording session
type Metrics struct {
	sessionID      string
	startTime      time.Time
	chunkStartTime time.Time
	mu             sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session with its outcome
func (m *Metrics) RecordSessionEnd(outcome string) {
	activeSessions.Dec()
	totalSessions.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordChunkStart records the start of a chunk transcription
func (m *Metrics) RecordChunkStart() {
	m.mu.Lock()
	m.chunkStartTime = time.Now()
	m.mu.Unlock()
}

// RecordChunkEnd records the end of a chunk transcription
func (m *Metrics) RecordChunkEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.chunkStartTime.IsZero() {
		chunkLatency.Observe(time.Since(m.chunkStartTime).Seconds())
	}
	chunkTranscriptions.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordAudio records seconds of audio sent through an engine
func (m *Metrics) RecordAudio(d time.Duration) {
	audioSecondsProcessed.Add(d.Seconds())
}

// RecordError records an error outside of a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// ObserveInference records the latency of one engine call
func ObserveInference(engine string, d time.Duration) {
	inferenceLatency.WithLabelValues(engine).Observe(d.Seconds())
}

// RecordEngineActivation counts an activation attempt
func RecordEngineActivation(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	engineActivations.WithLabelValues(status).Inc()
}

// SetEngineLoaded updates the engine residency gauge
func SetEngineLoaded(loaded bool) {
	if loaded {
		engineLoaded.Set(1)
	} else {
		engineLoaded.Set(0)
	}
}

// IncrementDroppedBlocks counts capture blocks lost to backpressure
func IncrementDroppedBlocks() {
	droppedBlocks.Inc()
}

// IncrementDeviceErrors counts advisory stream errors from the device
func IncrementDeviceErrors() {
	deviceErrors.Inc()
}

// RecordPublish counts a delivery attempt to a downstream sink
func RecordPublish(sink string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	publishedEvents.WithLabelValues(sink, status).Inc()
}
