package audio

import (
	"math"
	"sync"
	"time"
)

// Accumulator owns the append-only sample buffer for one client session.
// Raw byte chunks are decoded as little-endian 16-bit signed PCM, normalized
// to float32 in [-1.0, 1.0], and appended. The buffer grows until Clear or
// DiscardThrough truncates it; capacity is kept across resets to avoid
// allocation churn under sustained streaming.
type Accumulator struct {
	sampleRate int
	samples    []float32

	// Statistics
	chunksReceived uint64
	bytesReceived  uint64
	lastUpdate     time.Time

	mu sync.RWMutex
}

// AccumulatorStats represents accumulator statistics for monitoring
type AccumulatorStats struct {
	SampleRate     int     `json:"sample_rate"`
	BufferSamples  int     `json:"buffer_samples"`
	BufferSeconds  float64 `json:"buffer_seconds"`
	ChunksReceived uint64  `json:"chunks_received"`
	BytesReceived  uint64  `json:"bytes_received"`
}

// NewAccumulator creates a new audio accumulator for the given sample rate
func NewAccumulator(sampleRate int) *Accumulator {
	return &Accumulator{
		sampleRate: sampleRate,
		samples:    make([]float32, 0, sampleRate*2), // Pre-allocate for 2 seconds
		lastUpdate: time.Now(),
	}
}

// AddChunk decodes a raw PCM-16 chunk, appends it to the buffer, and returns
// the RMS energy of this chunk only. An empty chunk yields 0.0 and appends
// nothing. An odd byte count truncates the trailing byte.
func (a *Accumulator) AddChunk(data []byte) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.chunksReceived++
	a.bytesReceived += uint64(len(data))
	a.lastUpdate = time.Now()

	numSamples := len(data) / 2
	if numSamples == 0 {
		return 0.0
	}

	var sumSquares float64
	for i := 0; i < numSamples; i++ {
		// Little-endian int16 to normalized float
		raw := int16(data[i*2]) | int16(data[i*2+1])<<8
		sample := float32(raw) / 32768.0
		a.samples = append(a.samples, sample)
		sumSquares += float64(sample) * float64(sample)
	}

	return math.Sqrt(sumSquares / float64(numSamples))
}

// Clear truncates the buffer to empty, keeping the allocated capacity
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = a.samples[:0]
}

// Snapshot returns a copy of the current buffer contents without mutating state
func (a *Accumulator) Snapshot() []float32 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := make([]float32, len(a.samples))
	copy(snapshot, a.samples)

	return snapshot
}

// DiscardThrough drops the first n samples from the buffer. It is used to
// commit a final transcription that was produced from a snapshot: samples
// that arrived while the recognizer call was in flight stay in the buffer
// and accumulate into the next check.
func (a *Accumulator) DiscardThrough(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 {
		return
	}

	if n >= len(a.samples) {
		a.samples = a.samples[:0]
		return
	}

	remaining := copy(a.samples, a.samples[n:])
	a.samples = a.samples[:remaining]
}

// Len returns the current number of buffered samples
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples)
}

// Duration returns the buffered audio duration at the configured sample rate
func (a *Accumulator) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.sampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(len(a.samples)) / float64(a.sampleRate) * float64(time.Second))
}

// SampleRate returns the configured sample rate
func (a *Accumulator) SampleRate() int {
	return a.sampleRate
}

// LastUpdate returns the time of the last chunk arrival
func (a *Accumulator) LastUpdate() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastUpdate
}

// GetStats returns current accumulator statistics
func (a *Accumulator) GetStats() AccumulatorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seconds := float64(0)
	if a.sampleRate > 0 {
		seconds = float64(len(a.samples)) / float64(a.sampleRate)
	}

	return AccumulatorStats{
		SampleRate:     a.sampleRate,
		BufferSamples:  len(a.samples),
		BufferSeconds:  seconds,
		ChunksReceived: a.chunksReceived,
		BytesReceived:  a.bytesReceived,
	}
}
