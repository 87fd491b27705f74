// Package recognizer provides the speech recognition backend interface and
// an HTTP client for Whisper-compatible transcription endpoints.
package recognizer
