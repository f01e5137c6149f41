package audio

import (
	"testing"
	"time"
)

func TestAccumulatorAppendAndTake(t *testing.T) {
	acc := NewAccumulator(16000, 1)

	chunk := []float32{0.1, 0.2, 0.3}
	acc.Append(chunk)
	acc.Append(chunk)

	if acc.Len() != 6 {
		t.Errorf("Expected 6 samples, got %d", acc.Len())
	}

	// The accumulator copies, so mutating the source must not leak in
	chunk[0] = 9.9

	samples := acc.Take()
	if len(samples) != 6 {
		t.Fatalf("Expected 6 samples from Take, got %d", len(samples))
	}

	if samples[0] != 0.1 {
		t.Errorf("Expected first sample 0.1, got %f", samples[0])
	}

	if acc.Len() != 0 {
		t.Errorf("Expected empty accumulator after Take, got %d samples", acc.Len())
	}
}

func TestAccumulatorDuration(t *testing.T) {
	acc := NewAccumulator(16000, 1)
	acc.Append(make([]float32, 16000))

	if d := acc.Duration(); d != time.Second {
		t.Errorf("Expected 1s duration, got %v", d)
	}

	stereo := NewAccumulator(16000, 2)
	stereo.Append(make([]float32, 16000))

	if d := stereo.Duration(); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms duration for stereo, got %v", d)
	}
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator(16000, 1)
	acc.Append([]float32{0.5, 0.5})
	acc.Reset()

	if acc.Len() != 0 {
		t.Errorf("Expected empty accumulator after Reset, got %d samples", acc.Len())
	}

	stats := acc.Stats()
	if stats.Chunks != 0 {
		t.Errorf("Expected chunk count reset, got %d", stats.Chunks)
	}
}
