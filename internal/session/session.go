package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UpperMoon0/Echo/internal/audio"
	"github.com/UpperMoon0/Echo/internal/metrics"
	"github.com/UpperMoon0/Echo/internal/recognizer"
	"github.com/UpperMoon0/Echo/internal/segmenter"
)

// Session holds the streaming state for one connected client: the sample
// buffer, the silence segmentation state machine, and a handle to the
// recognition backend.
//
// AddChunk and CheckSilenceEvents are serialized against each other through
// the session lock, but the lock is never held across a recognizer call:
// CheckSilenceEvents snapshots the buffer, releases exclusive access for the
// duration of the call, and re-acquires it to commit. Chunks arriving while
// recognition is in flight simply accumulate into the next check.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time

	accumulator *audio.Accumulator
	segmenter   *segmenter.Segmenter
	recognizer  recognizer.Recognizer
	language    string
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// Event tracking
	interimEvents      uint64
	finalEvents        uint64
	recognizerFailures uint64

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	inFlight bool

	mu sync.Mutex
}

// Info represents session information for monitoring and APIs
type Info struct {
	ClientID           string        `json:"client_id"`
	CreatedAt          time.Time     `json:"created_at"`
	LastActivity       time.Time     `json:"last_activity"`
	Duration           time.Duration `json:"duration"`
	State              string        `json:"state"`
	BufferSamples      int           `json:"buffer_samples"`
	BufferSeconds      float64       `json:"buffer_seconds"`
	ChunksReceived     uint64        `json:"chunks_received"`
	InterimEvents      uint64        `json:"interim_events"`
	FinalEvents        uint64        `json:"final_events"`
	RecognizerFailures uint64        `json:"recognizer_failures"`
}

// AddChunk decodes and appends a raw PCM chunk, then feeds its RMS energy to
// the segmentation state machine. It returns the chunk's RMS.
func (s *Session) AddChunk(data []byte) (float64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("session %s is closed", s.ID)
	}
	s.LastActivity = time.Now()
	s.mu.Unlock()

	rms := s.accumulator.AddChunk(data)
	s.segmenter.Observe(rms)

	return rms, nil
}

// CheckSilenceEvents evaluates the interim and final rules against the
// current silence duration and returns at most one event. It is intended to
// be polled at a fixed cadence independent of chunk arrival.
//
// The interim rule runs first; the final rule is evaluated afterwards in the
// same call and its outcome overrides the cycle's event. A recognizer
// failure commits nothing: the buffer is retained and the next poll retries
// with whatever audio has accumulated since.
func (s *Session) CheckSilenceEvents(ctx context.Context) (*segmenter.Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s is closed", s.ID)
	}

	// A previous check is still waiting on the recognizer; the poll cadence
	// is the rate limit, not a queue.
	if s.inFlight {
		s.mu.Unlock()
		return nil, nil
	}

	decision := s.segmenter.Decide(s.accumulator.Len())
	if !decision.Interim && !decision.Final {
		s.mu.Unlock()
		return nil, nil
	}

	s.inFlight = true
	s.LastActivity = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	// Closing the session aborts an in-flight recognizer call.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	snapshot := s.accumulator.Snapshot()

	var event *segmenter.Event

	if decision.Interim {
		result, err := s.recognize(callCtx, snapshot)
		if err != nil {
			s.recordRecognizerFailure("interim", err)
		} else if s.segmenter.CommitInterim(decision.Run, result.Text) {
			event = &segmenter.Event{Type: segmenter.EventInterim, Text: result.Text, ClientID: s.ID}

			s.mu.Lock()
			s.interimEvents++
			s.mu.Unlock()
		}
	}

	if decision.Final {
		result, err := s.recognize(callCtx, snapshot)
		if err != nil {
			// Buffer retained, finalSent untouched; the next poll retries.
			s.recordRecognizerFailure("final", err)
			return event, nil
		}

		if s.segmenter.CommitFinal(decision.Run) {
			// Only the transcribed prefix is cleared; chunks that arrived
			// during the call stay for the next segment.
			s.accumulator.DiscardThrough(len(snapshot))

			if result.Text != "" {
				event = &segmenter.Event{Type: segmenter.EventFinal, Text: result.Text, ClientID: s.ID}

				s.mu.Lock()
				s.finalEvents++
				s.mu.Unlock()
			} else {
				// Conclusive but empty utterance: the run is finalized and
				// the buffer cleared, with nothing to report.
				event = nil
			}
		}
	}

	return event, nil
}

// Clear resets the audio buffer without touching the segmentation state
func (s *Session) Clear() {
	s.accumulator.Clear()

	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// Transcribe recognizes the current buffer on demand and clears it on
// success. It bypasses the silence rules; explicit transcription requests
// from the transport use it.
func (s *Session) Transcribe(ctx context.Context) (recognizer.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return recognizer.Result{}, fmt.Errorf("session %s is closed", s.ID)
	}
	s.LastActivity = time.Now()
	s.mu.Unlock()

	snapshot := s.accumulator.Snapshot()
	if len(snapshot) == 0 {
		return recognizer.Result{}, nil
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	result, err := s.recognize(callCtx, snapshot)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("recognition failed: %w", err)
	}

	s.accumulator.DiscardThrough(len(snapshot))

	return result, nil
}

// Close shuts the session down, aborting any in-flight recognizer call and
// discarding buffered audio.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.accumulator.Clear()
}

// GetInfo returns current session information
func (s *Session) GetInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	accStats := s.accumulator.GetStats()
	segStats := s.segmenter.GetStats()

	return Info{
		ClientID:           s.ID,
		CreatedAt:          s.CreatedAt,
		LastActivity:       s.LastActivity,
		Duration:           time.Since(s.CreatedAt),
		State:              segStats.State,
		BufferSamples:      accStats.BufferSamples,
		BufferSeconds:      accStats.BufferSeconds,
		ChunksReceived:     accStats.ChunksReceived,
		InterimEvents:      s.interimEvents,
		FinalEvents:        s.finalEvents,
		RecognizerFailures: s.recognizerFailures,
	}
}

// recognize calls the backend and records recognition metrics
func (s *Session) recognize(ctx context.Context, samples []float32) (recognizer.Result, error) {
	if s.metrics != nil {
		s.metrics.RecordRecognitionRequest()
	}

	start := time.Now()
	result, err := s.recognizer.Recognize(ctx, samples, s.accumulator.SampleRate(), s.language)
	elapsed := time.Since(start).Seconds()

	if s.metrics != nil {
		if err != nil {
			s.metrics.RecordRecognitionFailure(elapsed)
		} else {
			s.metrics.RecordRecognitionSuccess(elapsed)
		}
	}

	return result, err
}

func (s *Session) recordRecognizerFailure(rule string, err error) {
	s.mu.Lock()
	s.recognizerFailures++
	s.mu.Unlock()

	s.logger.Warn("Recognizer call failed",
		slog.String("client_id", s.ID),
		slog.String("rule", rule),
		slog.String("error", err.Error()),
	)
}
