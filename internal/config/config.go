package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Audio      AudioConfig      `yaml:"audio"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig contains HTTP/WebSocket server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// AudioConfig contains audio stream parameters
type AudioConfig struct {
	SampleRate     int     `yaml:"sample_rate"`     // Hz, rate expected by the recognizer
	SessionTimeout int     `yaml:"session_timeout"` // seconds of inactivity before eviction
	PollInterval   float64 `yaml:"poll_interval"`   // seconds between silence checks
}

// SegmenterConfig contains silence segmentation parameters
type SegmenterConfig struct {
	SilenceThreshold     float64 `yaml:"silence_threshold"`      // RMS level over normalized samples
	ShortSilenceDuration float64 `yaml:"short_silence_duration"` // seconds until an interim event
	LongSilenceDuration  float64 `yaml:"long_silence_duration"`  // seconds until a final event
}

// RecognizerConfig contains recognition backend configuration
type RecognizerConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"` // "auto" enables language detection
	Timeout       int    `yaml:"timeout"`  // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is provided
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:    8000,
			Address: "0.0.0.0",
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			SessionTimeout: 300,
			PollInterval:   0.1,
		},
		Segmenter: SegmenterConfig{
			SilenceThreshold:     0.01,
			ShortSilenceDuration: 0.7,
			LongSilenceDuration:  1.5,
		},
		Recognizer: RecognizerConfig{
			Endpoint:      "http://localhost:9000/v1/audio/transcriptions",
			Model:         "base",
			Language:      "auto",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. An empty path yields the
// defaults. Validation runs in both cases.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", a.SessionTimeout)
	}

	if a.PollInterval < 0.01 || a.PollInterval > 1.0 {
		return fmt.Errorf("poll_interval must be between 0.01 and 1.0 seconds, got %f", a.PollInterval)
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.SilenceThreshold <= 0 || s.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1 (exclusive), got %f", s.SilenceThreshold)
	}

	if s.ShortSilenceDuration <= 0 {
		return fmt.Errorf("short_silence_duration must be positive, got %f", s.ShortSilenceDuration)
	}

	if s.LongSilenceDuration <= 0 {
		return fmt.Errorf("long_silence_duration must be positive, got %f", s.LongSilenceDuration)
	}

	// Equal durations would make both rules fire in the same evaluation;
	// a shorter final threshold would make the interim rule unreachable.
	if s.ShortSilenceDuration >= s.LongSilenceDuration {
		return fmt.Errorf("short_silence_duration (%f) must be less than long_silence_duration (%f)",
			s.ShortSilenceDuration, s.LongSilenceDuration)
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognizerConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	if r.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetSessionTimeoutDuration returns the session timeout as a time.Duration
func (a *AudioConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(a.SessionTimeout) * time.Second
}

// GetPollIntervalDuration returns the silence check interval as a time.Duration
func (a *AudioConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(a.PollInterval * float64(time.Second))
}

// GetShortSilenceDuration returns the interim threshold as a time.Duration
func (s *SegmenterConfig) GetShortSilenceDuration() time.Duration {
	return time.Duration(s.ShortSilenceDuration * float64(time.Second))
}

// GetLongSilenceDuration returns the final threshold as a time.Duration
func (s *SegmenterConfig) GetLongSilenceDuration() time.Duration {
	return time.Duration(s.LongSilenceDuration * float64(time.Second))
}

// GetTimeoutDuration returns the recognizer timeout as a time.Duration
func (r *RecognizerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
