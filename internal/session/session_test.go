package session

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/UpperMoon0/Echo/internal/audio"
	"github.com/UpperMoon0/Echo/internal/recognizer"
	"github.com/UpperMoon0/Echo/internal/segmenter"
)

// fakeClock is a manually advanced time source for deterministic silence timing
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// pcmChunk builds a PCM-16 chunk of n samples at the given amplitude
func pcmChunk(n int, amplitude float64) []byte {
	value := int16(amplitude * 32767)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, rec recognizer.Recognizer) (*Session, *fakeClock) {
	t.Helper()

	seg, err := segmenter.New(segmenter.Config{
		SilenceThreshold: 0.01,
		ShortSilence:     700 * time.Millisecond,
		LongSilence:      1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create segmenter: %v", err)
	}

	clock := newFakeClock()
	seg.SetClock(clock.Now)

	ctx, cancel := context.WithCancel(context.Background())

	now := time.Now()
	sess := &Session{
		ID:           "test-client",
		CreatedAt:    now,
		LastActivity: now,
		accumulator:  audio.NewAccumulator(16000),
		segmenter:    seg,
		recognizer:   rec,
		language:     recognizer.LanguageAuto,
		logger:       testLogger(),
		ctx:          ctx,
		cancel:       cancel,
	}

	t.Cleanup(sess.Close)

	return sess, clock
}

// pollUntil polls CheckSilenceEvents in fixed clock steps and collects every
// emitted event.
func pollUntil(t *testing.T, sess *Session, clock *fakeClock, step, total time.Duration) []*segmenter.Event {
	t.Helper()

	var events []*segmenter.Event
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		clock.Advance(step)

		event, err := sess.CheckSilenceEvents(context.Background())
		if err != nil {
			t.Fatalf("CheckSilenceEvents failed: %v", err)
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events
}

func TestSpeechThenSilenceProducesInterimAndFinal(t *testing.T) {
	mock := recognizer.NewMock().QueueResult("hello")
	sess, clock := newTestSession(t, mock)

	// Half a second of speech in 100ms chunks, then one silent chunk to open
	// the silence run.
	for i := 0; i < 5; i++ {
		if _, err := sess.AddChunk(pcmChunk(1600, 0.5)); err != nil {
			t.Fatalf("AddChunk failed: %v", err)
		}
		clock.Advance(100 * time.Millisecond)
	}
	sess.AddChunk(pcmChunk(1600, 0.0))

	events := pollUntil(t, sess, clock, 100*time.Millisecond, 2*time.Second)

	if len(events) != 2 {
		t.Fatalf("Expected exactly 2 events, got %d: %v", len(events), events)
	}

	if events[0].Type != segmenter.EventInterim {
		t.Errorf("Expected first event interim, got %s", events[0].Type)
	}
	if events[0].Text != "hello" {
		t.Errorf("Expected interim text 'hello', got %q", events[0].Text)
	}

	if events[1].Type != segmenter.EventFinal {
		t.Errorf("Expected second event final, got %s", events[1].Type)
	}
	if events[1].Text != "hello" {
		t.Errorf("Expected final text 'hello', got %q", events[1].Text)
	}

	// The final event clears the transcribed audio
	if sess.accumulator.Len() != 0 {
		t.Errorf("Expected empty buffer after final event, got %d samples", sess.accumulator.Len())
	}

	// Continued silence produces nothing further
	extra := pollUntil(t, sess, clock, 100*time.Millisecond, time.Second)
	if len(extra) != 0 {
		t.Errorf("Expected no events after final, got %d", len(extra))
	}
}

func TestUnchangedInterimTextSuppressed(t *testing.T) {
	// The mock repeats its last scripted result, so every interim call between
	// the short and long thresholds returns the same text.
	mock := recognizer.NewMock().QueueResult("stable text")
	sess, clock := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.5))
	sess.AddChunk(pcmChunk(1600, 0.0))

	events := pollUntil(t, sess, clock, 100*time.Millisecond, 1400*time.Millisecond)

	interims := 0
	for _, e := range events {
		if e.Type == segmenter.EventInterim {
			interims++
		}
	}

	if interims != 1 {
		t.Errorf("Expected exactly 1 interim for unchanged text, got %d", interims)
	}
}

func TestChangedInterimTextEmitsAgain(t *testing.T) {
	mock := recognizer.NewMock().
		QueueResult("hello").
		QueueResult("hello world")
	sess, clock := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.5))
	sess.AddChunk(pcmChunk(1600, 0.0))

	events := pollUntil(t, sess, clock, 100*time.Millisecond, 1400*time.Millisecond)

	if len(events) != 2 {
		t.Fatalf("Expected 2 interim events, got %d", len(events))
	}

	if events[0].Text != "hello" || events[1].Text != "hello world" {
		t.Errorf("Expected texts ['hello', 'hello world'], got [%q, %q]",
			events[0].Text, events[1].Text)
	}
}

func TestInterimFailureRetriesNextPoll(t *testing.T) {
	mock := recognizer.NewMock().
		QueueError(errors.New("backend unavailable")).
		QueueResult("recovered")
	sess, clock := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.5))
	sess.AddChunk(pcmChunk(1600, 0.0))

	// First eligible poll fails; no event, buffer untouched
	clock.Advance(800 * time.Millisecond)
	event, err := sess.CheckSilenceEvents(context.Background())
	if err != nil {
		t.Fatalf("CheckSilenceEvents failed: %v", err)
	}
	if event != nil {
		t.Errorf("Expected no event on recognizer failure, got %v", event)
	}
	if sess.accumulator.Len() == 0 {
		t.Error("Expected buffer retained after recognizer failure")
	}

	// Next poll retries and succeeds
	clock.Advance(100 * time.Millisecond)
	event, err = sess.CheckSilenceEvents(context.Background())
	if err != nil {
		t.Fatalf("CheckSilenceEvents failed: %v", err)
	}
	if event == nil || event.Type != segmenter.EventInterim {
		t.Fatalf("Expected interim event on retry, got %v", event)
	}
	if event.Text != "recovered" {
		t.Errorf("Expected text 'recovered', got %q", event.Text)
	}
}

func TestFinalFailureRetainsBuffer(t *testing.T) {
	mock := recognizer.NewMock().
		QueueResult("partial").                // interim call
		QueueError(errors.New("timeout")).     // final call fails
		QueueResult("partial").                // next interim call, suppressed
		QueueResult("partial")                 // final retry succeeds
	sess, clock := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.5))
	sess.AddChunk(pcmChunk(1600, 0.0))

	// Jump straight past the long threshold: one check evaluates both rules
	clock.Advance(1600 * time.Millisecond)
	event, err := sess.CheckSilenceEvents(context.Background())
	if err != nil {
		t.Fatalf("CheckSilenceEvents failed: %v", err)
	}

	// The interim committed before the final call failed
	if event == nil || event.Type != segmenter.EventInterim {
		t.Fatalf("Expected interim event from the failed cycle, got %v", event)
	}

	if sess.accumulator.Len() == 0 {
		t.Error("Expected buffer retained after final recognition failure")
	}
	if sess.segmenter.FinalSent() {
		t.Error("Expected finalSent false after final recognition failure")
	}

	// The next poll retries the final rule
	clock.Advance(100 * time.Millisecond)
	event, err = sess.CheckSilenceEvents(context.Background())
	if err != nil {
		t.Fatalf("CheckSilenceEvents failed: %v", err)
	}
	if event == nil || event.Type != segmenter.EventFinal {
		t.Fatalf("Expected final event on retry, got %v", event)
	}
	if sess.accumulator.Len() != 0 {
		t.Errorf("Expected empty buffer after final event, got %d samples", sess.accumulator.Len())
	}
}

func TestEmptyFinalTextClearsBufferSilently(t *testing.T) {
	mock := recognizer.NewMock().QueueResult("")
	sess, clock := newTestSession(t, mock)

	// Silence-only audio still opens a silence run
	sess.AddChunk(pcmChunk(1600, 0.0))

	clock.Advance(1600 * time.Millisecond)
	event, err := sess.CheckSilenceEvents(context.Background())
	if err != nil {
		t.Fatalf("CheckSilenceEvents failed: %v", err)
	}

	if event != nil {
		t.Errorf("Expected no event for empty final text, got %v", event)
	}

	if sess.accumulator.Len() != 0 {
		t.Errorf("Expected buffer cleared for empty final, got %d samples", sess.accumulator.Len())
	}

	if !sess.segmenter.FinalSent() {
		t.Error("Expected finalSent true after empty final commit")
	}
}

func TestNoEventsWithEmptyBuffer(t *testing.T) {
	mock := recognizer.NewMock().QueueResult("should not appear")
	sess, clock := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.0))
	sess.Clear()

	events := pollUntil(t, sess, clock, 100*time.Millisecond, 2*time.Second)

	if len(events) != 0 {
		t.Errorf("Expected no events with an empty buffer, got %d", len(events))
	}

	if mock.Calls() != 0 {
		t.Errorf("Expected no recognizer calls with an empty buffer, got %d", mock.Calls())
	}
}

func TestNewSegmentAfterFinal(t *testing.T) {
	mock := recognizer.NewMock().QueueResult("first")
	sess, clock := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.5))
	sess.AddChunk(pcmChunk(1600, 0.0))

	events := pollUntil(t, sess, clock, 100*time.Millisecond, 2*time.Second)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events for the first segment, got %d", len(events))
	}

	// Speech resumes; a fresh silence run produces a fresh pair of events
	sess.AddChunk(pcmChunk(1600, 0.5))
	sess.AddChunk(pcmChunk(1600, 0.0))

	events = pollUntil(t, sess, clock, 100*time.Millisecond, 2*time.Second)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events for the second segment, got %d", len(events))
	}
	if events[0].Type != segmenter.EventInterim || events[1].Type != segmenter.EventFinal {
		t.Errorf("Expected interim then final, got %s then %s", events[0].Type, events[1].Type)
	}
}

func TestTranscribeOnDemand(t *testing.T) {
	mock := recognizer.NewMock().QueueResult("on demand")
	sess, _ := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.5))

	result, err := sess.Transcribe(context.Background())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "on demand" {
		t.Errorf("Expected text 'on demand', got %q", result.Text)
	}

	if sess.accumulator.Len() != 0 {
		t.Errorf("Expected empty buffer after Transcribe, got %d samples", sess.accumulator.Len())
	}
}

func TestTranscribeEmptyBuffer(t *testing.T) {
	mock := recognizer.NewMock().QueueResult("should not appear")
	sess, _ := newTestSession(t, mock)

	result, err := sess.Transcribe(context.Background())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "" {
		t.Errorf("Expected empty result for empty buffer, got %q", result.Text)
	}

	if mock.Calls() != 0 {
		t.Errorf("Expected no recognizer calls for empty buffer, got %d", mock.Calls())
	}
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	mock := recognizer.NewMock()
	sess, _ := newTestSession(t, mock)

	sess.Close()

	if _, err := sess.AddChunk(pcmChunk(100, 0.5)); err == nil {
		t.Error("Expected error adding chunk to closed session")
	}

	if _, err := sess.CheckSilenceEvents(context.Background()); err == nil {
		t.Error("Expected error checking closed session")
	}

	if _, err := sess.Transcribe(context.Background()); err == nil {
		t.Error("Expected error transcribing closed session")
	}

	// Closing twice is a no-op
	sess.Close()
}

func TestGetInfo(t *testing.T) {
	mock := recognizer.NewMock()
	sess, _ := newTestSession(t, mock)

	sess.AddChunk(pcmChunk(1600, 0.5))
	sess.AddChunk(pcmChunk(1600, 0.5))

	info := sess.GetInfo()

	if info.ClientID != "test-client" {
		t.Errorf("Expected client ID test-client, got %s", info.ClientID)
	}

	if info.State != "speaking" {
		t.Errorf("Expected state speaking, got %s", info.State)
	}

	if info.BufferSamples != 3200 {
		t.Errorf("Expected 3200 buffered samples, got %d", info.BufferSamples)
	}

	if info.ChunksReceived != 2 {
		t.Errorf("Expected 2 chunks received, got %d", info.ChunksReceived)
	}
}
