// Package session manages per-client streaming state: the audio buffer,
// the silence segmentation machine, and the orchestration of recognizer
// calls outside the session lock.
package session
