package recognizer

import "context"

// LanguageAuto requests language auto-detection from the backend
const LanguageAuto = "auto"

// Result is the outcome of one recognition call
type Result struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
}

// Recognizer converts buffered PCM samples into text. Implementations are
// expected to be safe for concurrent use across sessions and to honor
// context cancellation, since calls may block on model inference.
type Recognizer interface {
	Recognize(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error)
}
