// Package segmenter implements the silence segmentation state machine.
// It classifies incoming audio as speech or silence from per-chunk RMS
// energy and decides when interim and final transcription events fire.
package segmenter
