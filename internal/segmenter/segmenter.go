package segmenter

import (
	"fmt"
	"sync"
	"time"
)

// State represents the current speech/silence classification of a session
type State int

const (
	// StateSpeaking is the initial state; no qualifying silence observed yet
	StateSpeaking State = iota
	// StateSilent means chunk energy has dropped to or below the threshold
	StateSilent
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateSpeaking:
		return "speaking"
	case StateSilent:
		return "silent"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventType identifies the kind of segmentation event
type EventType string

const (
	// EventInterim is a low-latency transcription hint after a short pause
	EventInterim EventType = "interim"
	// EventFinal is the conclusive transcription after a long pause
	EventFinal EventType = "final"
)

// Event is a segmentation event carrying recognized text for the transport
type Event struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text"`
	ClientID string    `json:"client_id,omitempty"`
}

// Config contains the thresholds governing the state machine
type Config struct {
	SilenceThreshold float64       // RMS at or below this counts as silence
	ShortSilence     time.Duration // elapsed silence before an interim event
	LongSilence      time.Duration // elapsed silence before a final event
}

// Decision describes which rules are eligible to fire for the current check.
// Run identifies the silence run the decision belongs to; commits against a
// stale run are rejected, so a recognizer result computed while speech
// resumed never produces an event.
type Decision struct {
	Interim bool
	Final   bool
	Run     uint64
}

// Segmenter is the state machine deciding when segmentation events fire.
// It consumes per-chunk RMS measurements and, via Decide/Commit, yields at
// most one Interim and one Final event per uninterrupted silence run.
// The clock is injectable so silence timing is deterministic under test.
type Segmenter struct {
	config Config

	state           State
	silenceStart    time.Time
	lastAudioTime   time.Time
	lastInterimText string
	finalSent       bool
	runSeq          uint64

	// Statistics
	chunksObserved uint64
	speechChunks   uint64
	silenceRuns    uint64

	now func() time.Time

	mu sync.RWMutex
}

// Stats represents segmenter statistics for monitoring
type Stats struct {
	State          string  `json:"state"`
	ChunksObserved uint64  `json:"chunks_observed"`
	SpeechChunks   uint64  `json:"speech_chunks"`
	SilenceRuns    uint64  `json:"silence_runs"`
	FinalSent      bool    `json:"final_sent"`
	Threshold      float64 `json:"threshold"`
}

// New creates a new segmenter and validates its configuration
func New(config Config) (*Segmenter, error) {
	if config.SilenceThreshold <= 0 {
		return nil, fmt.Errorf("silence threshold must be positive, got %f", config.SilenceThreshold)
	}

	if config.ShortSilence <= 0 {
		return nil, fmt.Errorf("short silence duration must be positive, got %v", config.ShortSilence)
	}

	if config.ShortSilence >= config.LongSilence {
		return nil, fmt.Errorf("short silence duration (%v) must be less than long silence duration (%v)",
			config.ShortSilence, config.LongSilence)
	}

	return &Segmenter{
		config: config,
		state:  StateSpeaking,
		now:    time.Now,
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *Segmenter) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Observe classifies one chunk's RMS energy and drives the state transitions.
// Speech resets event eligibility for the next silence run; the first silent
// chunk after speech records the start of the run.
func (s *Segmenter) Observe(rms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.chunksObserved++

	if rms > s.config.SilenceThreshold {
		s.speechChunks++
		s.lastAudioTime = now

		if s.state == StateSilent {
			s.state = StateSpeaking
			s.finalSent = false
			s.lastInterimText = ""
		}
		return
	}

	if s.state == StateSpeaking {
		s.state = StateSilent
		s.silenceStart = now
		s.runSeq++
		s.silenceRuns++
	}
}

// Decide evaluates the interim and final rules against the current silence
// duration. bufferLen is the session buffer size in samples; both rules
// short-circuit on an empty buffer. Decide does not mutate state: the caller
// performs recognition outside any session lock and then commits.
func (s *Segmenter) Decide(bufferLen int) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	decision := Decision{Run: s.runSeq}

	if s.state != StateSilent || s.silenceStart.IsZero() {
		return decision
	}

	if s.finalSent || bufferLen == 0 {
		return decision
	}

	elapsed := s.now().Sub(s.silenceStart)

	decision.Interim = elapsed >= s.config.ShortSilence
	decision.Final = elapsed >= s.config.LongSilence

	return decision
}

// CommitInterim records an interim recognition result. It reports whether an
// Interim event should be emitted: the silence run must still be current, no
// final may have been sent, and the text must be non-empty and differ from
// the last interim text of this run (exact-match suppression).
func (s *Segmenter) CommitInterim(run uint64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run != s.runSeq || s.state != StateSilent || s.finalSent {
		return false
	}

	if text == "" || text == s.lastInterimText {
		return false
	}

	s.lastInterimText = text
	return true
}

// CommitFinal marks the current silence run as finalized. It reports whether
// the commit applied; the caller then clears the transcribed samples from
// the buffer. A stale run or an already finalized run rejects the commit so
// the buffer is left intact.
func (s *Segmenter) CommitFinal(run uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run != s.runSeq || s.state != StateSilent || s.finalSent {
		return false
	}

	s.finalSent = true
	s.lastInterimText = ""
	return true
}

// State returns the current speech/silence state
func (s *Segmenter) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// FinalSent reports whether a final event was already emitted for the
// current silence run
func (s *Segmenter) FinalSent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalSent
}

// SilenceElapsed returns how long the current silence run has lasted,
// or zero when speaking
func (s *Segmenter) SilenceElapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateSilent || s.silenceStart.IsZero() {
		return 0
	}

	return s.now().Sub(s.silenceStart)
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		State:          s.state.String(),
		ChunksObserved: s.chunksObserved,
		SpeechChunks:   s.speechChunks,
		SilenceRuns:    s.silenceRuns,
		FinalSent:      s.finalSent,
		Threshold:      s.config.SilenceThreshold,
	}
}
