package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UpperMoon0/Echo/internal/config"
	"github.com/UpperMoon0/Echo/internal/metrics"
	"github.com/UpperMoon0/Echo/internal/recognizer"
	"github.com/UpperMoon0/Echo/internal/segmenter"
	"github.com/UpperMoon0/Echo/internal/server"
	"github.com/UpperMoon0/Echo/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "echo"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("poll_interval", cfg.Audio.PollInterval),
		slog.Float64("silence_threshold", cfg.Segmenter.SilenceThreshold),
		slog.Float64("short_silence_duration", cfg.Segmenter.ShortSilenceDuration),
		slog.Float64("long_silence_duration", cfg.Segmenter.LongSilenceDuration),
		slog.String("recognizer_endpoint", cfg.Recognizer.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize recognition client
	rec, err := recognizer.NewClient(recognizer.Config{
		Endpoint:      cfg.Recognizer.Endpoint,
		APIKey:        cfg.Recognizer.APIKey,
		Model:         cfg.Recognizer.Model,
		Timeout:       cfg.Recognizer.GetTimeoutDuration(),
		MaxRetries:    cfg.Recognizer.MaxRetries,
		MaxConcurrent: cfg.Recognizer.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create recognition client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Recognition client initialized",
		slog.String("endpoint", cfg.Recognizer.Endpoint),
		slog.String("model", cfg.Recognizer.Model),
	)

	// Initialize session manager
	sessionMgr, err := session.NewManager(logger, rec, session.ManagerConfig{
		SampleRate:     cfg.Audio.SampleRate,
		Language:       cfg.Recognizer.Language,
		SessionTimeout: cfg.Audio.GetSessionTimeoutDuration(),
		Segmenter: segmenter.Config{
			SilenceThreshold: cfg.Segmenter.SilenceThreshold,
			ShortSilence:     cfg.Segmenter.GetShortSilenceDuration(),
			LongSilence:      cfg.Segmenter.GetLongSilenceDuration(),
		},
		Metrics: appMetrics,
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Audio.GetSessionTimeoutDuration()),
	)

	// Initialize and start the API server
	apiServer := server.NewServer(logger, cfg, sessionMgr, rec, appMetrics)
	if err := apiServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop session manager (close sessions and stop background routines)
	sessionMgr.Stop()

	// Wait for in-flight recognition requests, then report final statistics
	if err := rec.Close(); err != nil {
		logger.Error("Error closing recognition client", slog.String("error", err.Error()))
	}

	stats := rec.GetStats()
	logger.Info("Final recognition statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
