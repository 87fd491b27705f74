package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the Echo service
type Metrics struct {
	// Audio ingestion metrics
	ChunksReceived     prometheus.Counter
	AudioBytesReceived prometheus.Counter
	ChunkRMS           prometheus.Histogram

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Segmentation metrics
	SilenceChecks prometheus.Counter
	InterimEvents prometheus.Counter
	FinalEvents   prometheus.Counter

	// Recognition metrics
	RecognitionRequests  prometheus.Counter
	RecognitionSuccesses prometheus.Counter
	RecognitionFailures  prometheus.Counter
	RecognitionDuration  prometheus.Histogram

	// WebSocket metrics
	WSConnections      prometheus.Gauge
	WSConnectionsTotal prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Audio ingestion metrics
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_chunks_received_total",
			Help: "Total number of audio chunks received",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_audio_bytes_received_total",
			Help: "Total number of raw audio bytes received",
		}),
		ChunkRMS: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_chunk_rms",
			Help:    "RMS energy of received audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 0.001 to ~1.0
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "echo_active_sessions",
			Help: "Current number of active client sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_session_duration_seconds",
			Help:    "Duration of client sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Segmentation metrics
		SilenceChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_silence_checks_total",
			Help: "Total number of silence event evaluations",
		}),
		InterimEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_interim_events_total",
			Help: "Total number of interim transcription events emitted",
		}),
		FinalEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_final_events_total",
			Help: "Total number of final transcription events emitted",
		}),

		// Recognition metrics
		RecognitionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_recognition_requests_total",
			Help: "Total number of recognition requests sent",
		}),
		RecognitionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_recognition_successes_total",
			Help: "Total number of successful recognition requests",
		}),
		RecognitionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_recognition_failures_total",
			Help: "Total number of failed recognition requests",
		}),
		RecognitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_recognition_duration_seconds",
			Help:    "Duration of recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "echo_ws_connections",
			Help: "Current number of open WebSocket connections",
		}),
		WSConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echo_ws_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echo_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunk records an ingested audio chunk and its RMS energy
func (m *Metrics) RecordChunk(sizeBytes int, rms float64) {
	m.ChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(sizeBytes))
	m.ChunkRMS.Observe(rms)
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSilenceCheck increments the silence check counter
func (m *Metrics) RecordSilenceCheck() {
	m.SilenceChecks.Inc()
}

// RecordInterimEvent increments the interim event counter
func (m *Metrics) RecordInterimEvent() {
	m.InterimEvents.Inc()
}

// RecordFinalEvent increments the final event counter
func (m *Metrics) RecordFinalEvent() {
	m.FinalEvents.Inc()
}

// RecordRecognitionRequest increments the recognition request counter
func (m *Metrics) RecordRecognitionRequest() {
	m.RecognitionRequests.Inc()
}

// RecordRecognitionSuccess records a successful recognition call
func (m *Metrics) RecordRecognitionSuccess(durationSeconds float64) {
	m.RecognitionSuccesses.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordRecognitionFailure records a failed recognition call
func (m *Metrics) RecordRecognitionFailure(durationSeconds float64) {
	m.RecognitionFailures.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordWSConnect records an accepted WebSocket connection
func (m *Metrics) RecordWSConnect() {
	m.WSConnectionsTotal.Inc()
	m.WSConnections.Inc()
}

// RecordWSDisconnect records a closed WebSocket connection
func (m *Metrics) RecordWSDisconnect() {
	m.WSConnections.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
