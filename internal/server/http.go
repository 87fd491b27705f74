package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/UpperMoon0/Echo/internal/config"
	"github.com/UpperMoon0/Echo/internal/metrics"
	"github.com/UpperMoon0/Echo/internal/recognizer"
	"github.com/UpperMoon0/Echo/internal/session"
)

// maxUploadSize bounds the size of uploaded audio files (32 MiB)
const maxUploadSize = 32 << 20

// defaultStreamClient is the session key used by the form-based /stream
// endpoints when the caller does not supply a client_id
const defaultStreamClient = "default"

// FileTranscriber transcribes an already-encoded audio file. The HTTP upload
// endpoints pass client files through to it unmodified.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, filename string, data []byte, language, model string) (recognizer.Result, error)
}

// Server provides the HTTP and WebSocket API
type Server struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	sessions    *session.Manager
	transcriber FileTranscriber
	metrics     *metrics.Metrics

	startTime time.Time
}

// NewServer creates a new API server
func NewServer(logger *slog.Logger, cfg *config.Config, sessions *session.Manager,
	transcriber FileTranscriber, m *metrics.Metrics) *Server {

	s := &Server{
		logger:      logger,
		config:      cfg,
		sessions:    sessions,
		transcriber: transcriber,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:     mux,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s
}

// setupRoutes configures HTTP API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Transcription endpoints
	mux.HandleFunc("/v1/audio/transcriptions", s.withMetrics("/v1/audio/transcriptions", s.handleTranscription))
	mux.HandleFunc("/v1/audio/transcriptions/base64", s.withMetrics("/v1/audio/transcriptions/base64", s.handleBase64Transcription))

	// Embedded MCP endpoint
	mux.HandleFunc("/v1/mcp", s.withMetrics("/v1/mcp", s.handleMCP))

	// Form-based streaming endpoints
	mux.HandleFunc("/stream/start", s.withMetrics("/stream/start", s.handleStreamStart))
	mux.HandleFunc("/stream/chunk", s.withMetrics("/stream/chunk", s.handleStreamChunk))
	mux.HandleFunc("/stream/transcribe", s.withMetrics("/stream/transcribe", s.handleStreamTranscribe))

	// WebSocket streaming endpoint (not wrapped: the connection is hijacked)
	mux.HandleFunc("/ws/transcribe", s.handleWebSocket)

	// Monitoring endpoints
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("/config", s.withMetrics("/config", s.handleConfig))
	mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))
	mux.HandleFunc("/sessions", s.withMetrics("/sessions", s.handleSessions))
	mux.HandleFunc("/sessions/", s.withMetrics("/sessions/{id}", s.handleSessionDetail))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", s.withMetrics("/", s.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server",
		slog.String("address", s.server.Addr),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP API server...")

	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

// handleTranscription implements POST /v1/audio/transcriptions: a multipart
// audio file upload transcribed in one shot.
func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}

	language := formValueOr(r, "language", recognizer.LanguageAuto)
	model := formValueOr(r, "model_size", s.config.Recognizer.Model)

	result, err := s.transcriber.TranscribeFile(r.Context(), header.Filename, data, language, model)
	if err != nil {
		s.logger.Error("Transcription failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Transcription failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// base64Request is the JSON body accepted by the base64 transcription endpoint
type base64Request struct {
	AudioData string `json:"audio_data"`
	Language  string `json:"language,omitempty"`
	ModelSize string `json:"model_size,omitempty"`
}

// handleBase64Transcription implements POST /v1/audio/transcriptions/base64
func (s *Server) handleBase64Transcription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req base64Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.AudioData == "" {
		s.writeError(w, http.StatusBadRequest, "audio_data field is required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid base64 audio data: %v", err))
		return
	}

	language := req.Language
	if language == "" {
		language = recognizer.LanguageAuto
	}
	model := req.ModelSize
	if model == "" {
		model = s.config.Recognizer.Model
	}

	result, err := s.transcriber.TranscribeFile(r.Context(), "audio.wav", data, language, model)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Transcription failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleStreamStart implements POST /stream/start: creates (or resets) the
// buffer of the caller's streaming session.
func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID := formValueOr(r, "client_id", defaultStreamClient)
	language := formValueOr(r, "language", recognizer.LanguageAuto)

	sess, err := s.sessions.GetOrCreateSession(clientID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess.Clear()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "started",
		"client_id": clientID,
		"language":  language,
	})
}

// handleStreamChunk implements POST /stream/chunk: appends a raw PCM chunk to
// the caller's streaming session.
func (s *Server) handleStreamChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read chunk: %v", err))
		return
	}

	clientID := formValueOr(r, "client_id", defaultStreamClient)

	sess, err := s.sessions.GetOrCreateSession(clientID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rms, err := sess.AddChunk(data)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.RecordChunk(len(data), rms)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "chunk_added",
		"size":   len(data),
	})
}

// handleStreamTranscribe implements POST /stream/transcribe: transcribes the
// caller's current buffer and clears it on success.
func (s *Server) handleStreamTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID := formValueOr(r, "client_id", defaultStreamClient)

	sess, exists := s.sessions.GetSession(clientID)
	if !exists {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no streaming session for client %s", clientID))
		return
	}

	result, err := sess.Transcribe(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Transcription failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleHealth implements the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "ok",
		"service":   "Echo",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"components": map[string]interface{}{
			"sessions": map[string]interface{}{
				"status":       "running",
				"active_count": s.sessions.GetActiveSessionCount(),
			},
		},
	}

	s.writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    s.config.HTTP.Port,
			"address": s.config.HTTP.Address,
		},
		"audio": map[string]interface{}{
			"sample_rate":     s.config.Audio.SampleRate,
			"session_timeout": s.config.Audio.SessionTimeout,
			"poll_interval":   s.config.Audio.PollInterval,
		},
		"segmenter": map[string]interface{}{
			"silence_threshold":      s.config.Segmenter.SilenceThreshold,
			"short_silence_duration": s.config.Segmenter.ShortSilenceDuration,
			"long_silence_duration":  s.config.Segmenter.LongSilenceDuration,
		},
		"recognizer": map[string]interface{}{
			"endpoint":       s.config.Recognizer.Endpoint,
			"model":          s.config.Recognizer.Model,
			"language":       s.config.Recognizer.Language,
			"timeout":        s.config.Recognizer.Timeout,
			"max_retries":    s.config.Recognizer.MaxRetries,
			"max_concurrent": s.config.Recognizer.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"logging": map[string]interface{}{
			"level":  s.config.Logging.Level,
			"format": s.config.Logging.Format,
			"output": s.config.Logging.Output,
		},
	}

	s.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": s.sessions.GetActiveSessionCount(),
		},
	}

	if provider, ok := s.transcriber.(interface{ GetStats() recognizer.ClientStats }); ok {
		stats["recognizer"] = provider.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// handleSessions implements the /sessions endpoint
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.sessions.GetAllSessions()
	infos := make([]session.Info, 0, len(sessions))

	for _, sess := range sessions {
		infos = append(infos, sess.GetInfo())
	}

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleSessionDetail implements the /sessions/{client_id} endpoint
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Path[len("/sessions/"):]
	if clientID == "" {
		http.Error(w, "Client ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, exists := s.sessions.GetSession(clientID)
		if !exists {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		s.writeJSON(w, http.StatusOK, sess.GetInfo())

	case http.MethodDelete:
		if !s.sessions.RemoveSession(clientID) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "client_id": clientID})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoot implements the / endpoint with API documentation
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"message": "Welcome to Echo API",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                                 "API information",
			"GET /health":                           "Health check",
			"POST /v1/audio/transcriptions":         "Transcribe audio file",
			"POST /v1/audio/transcriptions/base64":  "Transcribe base64 audio data",
			"POST /v1/mcp":                          "Embedded MCP endpoint",
			"WS /ws/transcribe":                     "WebSocket for real-time streaming",
			"POST /stream/start":                    "Start streaming session",
			"POST /stream/chunk":                    "Add audio chunk to stream",
			"POST /stream/transcribe":               "Transcribe current stream buffer",
			"GET /sessions":                         "List active sessions",
			"GET /sessions/{client_id}":             "Get detailed session information",
			"GET /config":                           "Get service configuration",
			"GET /stats":                            "Get service statistics",
			"GET /metrics":                          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, apiDoc)
}

// formValueOr returns the form value for key, or fallback when absent
func formValueOr(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}
