package audio

import (
	"sync"
	"time"
)

// Accumulator collects the float samples of a single recording session. It
// is exclusively written by the capture pump; ownership of the accumulated
// sequence transfers to the caller of Take when the session stops.
type Accumulator struct {
	sampleRate int
	channels   int

	samples []float32

	// Metadata
	chunks     uint64
	lastUpdate time.Time

	mu sync.RWMutex
}

// AccumulatorStats reports accumulator state for monitoring.
type AccumulatorStats struct {
	Samples    int       `json:"samples"`
	Chunks     uint64    `json:"chunks"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	LastUpdate time.Time `json:"last_update"`
}

// NewAccumulator creates an accumulator for the given format, pre-allocating
// room for a few seconds of audio.
func NewAccumulator(sampleRate, channels int) *Accumulator {
	return &Accumulator{
		sampleRate: sampleRate,
		channels:   channels,
		samples:    make([]float32, 0, sampleRate*channels*2),
		lastUpdate: time.Now(),
	}
}

// Append adds a chunk of samples to the accumulator. The chunk is copied so
// the producer may reuse its buffer.
func (a *Accumulator) Append(chunk []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, chunk...)
	a.chunks++
	a.lastUpdate = time.Now()
}

// Len returns the number of accumulated samples.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples)
}

// Duration returns the audio duration represented by the accumulated samples.
func (a *Accumulator) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.sampleRate <= 0 || a.channels <= 0 {
		return 0
	}

	frames := len(a.samples) / a.channels
	return time.Duration(float64(frames) / float64(a.sampleRate) * float64(time.Second))
}

// Take returns the accumulated samples and resets the accumulator. The
// returned slice is owned by the caller; the accumulator no longer
// references it.
func (a *Accumulator) Take() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	samples := a.samples
	a.samples = make([]float32, 0, a.sampleRate*a.channels*2)
	a.chunks = 0
	a.lastUpdate = time.Now()

	return samples
}

// Reset discards any accumulated samples.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = a.samples[:0]
	a.chunks = 0
	a.lastUpdate = time.Now()
}

// Stats returns current accumulator statistics.
func (a *Accumulator) Stats() AccumulatorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return AccumulatorStats{
		Samples:    len(a.samples),
		Chunks:     a.chunks,
		SampleRate: a.sampleRate,
		Channels:   a.channels,
		LastUpdate: a.lastUpdate,
	}
}
