package recognizer

import (
	"context"
	"sync"
)

// Mock is a scripted recognizer for tests and local development. Results are
// returned in the order they were queued; once the script is exhausted the
// last entry repeats.
type Mock struct {
	script []mockStep
	calls  int

	mu sync.Mutex
}

type mockStep struct {
	result Result
	err    error
}

// NewMock creates an empty mock recognizer that returns empty results
func NewMock() *Mock {
	return &Mock{}
}

// QueueResult appends a successful recognition result to the script
func (m *Mock) QueueResult(text string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{result: Result{Text: text, Language: "en", Confidence: 1.0}})
	return m
}

// QueueError appends a failing call to the script
func (m *Mock) QueueError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{err: err})
	return m
}

// Recognize returns the next scripted step, honoring context cancellation
func (m *Mock) Recognize(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	if len(m.script) == 0 {
		return Result{}, nil
	}

	idx := m.calls - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}

	step := m.script[idx]
	return step.result, step.err
}

// Calls returns how many times Recognize was invoked
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
