package capture

import (
	"fmt"
	"math"
)

// SampleSource delivers mono-interleaved float32 audio in chunks. The
// engine paces the pipeline; NextChunk must return promptly with whatever
// the source has buffered.
type SampleSource interface {
	// Open prepares the source for the given device and format. It is
	// called once per recording session.
	Open(deviceID string, sampleRate, channels, frames int) error

	// NextChunk returns the next chunk of samples, up to frames*channels
	// values. An empty slice means no data was available yet.
	NextChunk() ([]float32, error)

	// Close releases the source. Safe to call after a failed Open.
	Close() error
}

// overrunReporter is implemented by sources that drop buffered chunks
// when the consumer falls behind. The count is cumulative over the life
// of the source.
type overrunReporter interface {
	Overruns() uint64
}

// SyntheticSource generates a fixed-frequency tone, or silence at zero
// amplitude. Every chunk is identical for a given configuration, which
// keeps recordings reproducible in development and tests.
type SyntheticSource struct {
	// Frequency of the tone in Hz. Zero selects 440.
	Frequency float64

	// Amplitude in [0,1]. Zero produces silence.
	Amplitude float64

	sampleRate int
	channels   int
	frames     int
	phase      float64
	open       bool
}

// Open implements SampleSource.
func (s *SyntheticSource) Open(deviceID string, sampleRate, channels, frames int) error {
	if sampleRate <= 0 || channels <= 0 || frames <= 0 {
		return fmt.Errorf("invalid stream format: rate=%d channels=%d frames=%d", sampleRate, channels, frames)
	}

	s.sampleRate = sampleRate
	s.channels = channels
	s.frames = frames
	s.phase = 0
	s.open = true

	return nil
}

// NextChunk implements SampleSource.
func (s *SyntheticSource) NextChunk() ([]float32, error) {
	if !s.open {
		return nil, fmt.Errorf("source is not open")
	}

	freq := s.Frequency
	if freq == 0 {
		freq = 440
	}

	chunk := make([]float32, s.frames*s.channels)
	step := 2 * math.Pi * freq / float64(s.sampleRate)

	for i := 0; i < s.frames; i++ {
		v := float32(s.Amplitude * math.Sin(s.phase))
		s.phase += step

		for c := 0; c < s.channels; c++ {
			chunk[i*s.channels+c] = v
		}
	}

	if s.phase > 2*math.Pi {
		s.phase -= 2 * math.Pi * math.Floor(s.phase/(2*math.Pi))
	}

	return chunk, nil
}

// Close implements SampleSource.
func (s *SyntheticSource) Close() error {
	s.open = false
	return nil
}
