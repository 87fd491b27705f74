// Package server implements the HTTP and WebSocket API: transcription
// endpoints, the real-time streaming endpoint with silence-driven events,
// the embedded MCP endpoint, and monitoring/management endpoints.
package server
