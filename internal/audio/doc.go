// Package audio handles audio buffering and format conversion.
// It implements per-session PCM sample accumulation with per-chunk RMS energy
// measurement, and WAV encoding/decoding for the recognition backend.
package audio
