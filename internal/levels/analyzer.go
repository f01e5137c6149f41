package levels

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Sample is one level measurement over a window of audio samples. RMS and
// Peak are clamped to [0, 1]; Voice reports the smoothed energy gate.
type Sample struct {
	RMS       float64   `json:"rms"`
	Peak      float64   `json:"peak"`
	Voice     bool      `json:"voice"`
	Timestamp time.Time `json:"timestamp"`
}

// Config controls analyzer behaviour.
type Config struct {
	// Gain is applied to every sample before level computation. Zero means
	// unity gain.
	Gain float64

	// HoldCycles is the number of Analyze calls the session peak holds at
	// its value before linear decay toward zero begins.
	HoldCycles int

	// DecayPerCycle is the amount subtracted from the held peak on every
	// Analyze call once the hold expires.
	DecayPerCycle float64

	// VoiceThreshold is the smoothed-energy level above which a window
	// counts as voice.
	VoiceThreshold float64

	// VoiceSmoothing is the EMA factor for the voice energy level.
	VoiceSmoothing float64
}

// Validate checks analyzer configuration.
func (c Config) Validate() error {
	if c.Gain < 0 {
		return fmt.Errorf("gain cannot be negative, got %f", c.Gain)
	}

	if c.HoldCycles < 0 {
		return fmt.Errorf("hold_cycles cannot be negative, got %d", c.HoldCycles)
	}

	if c.DecayPerCycle < 0 || c.DecayPerCycle > 1 {
		return fmt.Errorf("decay_per_cycle must be between 0 and 1, got %f", c.DecayPerCycle)
	}

	if c.VoiceThreshold < 0 || c.VoiceThreshold > 1 {
		return fmt.Errorf("voice_threshold must be between 0 and 1, got %f", c.VoiceThreshold)
	}

	if c.VoiceSmoothing < 0 || c.VoiceSmoothing >= 1 {
		return fmt.Errorf("voice_smoothing must be in [0, 1), got %f", c.VoiceSmoothing)
	}

	return nil
}

// DefaultConfig returns analyzer defaults: unity gain, a ~600 ms hold at the
// default 75 ms metering cadence, and the original recorder's VAD tuning.
func DefaultConfig() Config {
	return Config{
		Gain:           1.0,
		HoldCycles:     8,
		DecayPerCycle:  0.05,
		VoiceThreshold: 0.01,
		VoiceSmoothing: 0.95,
	}
}

// Analyzer computes level samples from windows of float audio samples. The
// only state it carries across windows is the held session peak, its decay
// counter and the smoothed voice energy.
type Analyzer struct {
	cfg Config

	// Peak-hold state
	sessionPeak float64
	holdRemain  int

	// Voice activity state
	voiceLevel float64

	// Statistics
	windows uint64

	mu sync.Mutex
}

// NewAnalyzer creates an analyzer, or fails on invalid configuration.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("analyzer config: %w", err)
	}

	if cfg.Gain == 0 {
		cfg.Gain = 1.0
	}

	return &Analyzer{cfg: cfg}, nil
}

// Analyze computes the level sample for one window and advances the
// peak-hold state. An empty window yields a zero sample.
func (a *Analyzer) Analyze(window []float32) Sample {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	a.windows++

	if len(window) == 0 {
		a.decayPeak()
		return Sample{Timestamp: now}
	}

	var sumSquares, peak float64
	for _, s := range window {
		v := math.Abs(float64(s)) * a.cfg.Gain
		sumSquares += v * v
		if v > peak {
			peak = v
		}
	}

	rms := clamp01(math.Sqrt(sumSquares / float64(len(window))))
	peak = clamp01(peak)

	// Peak hold: a new maximum restarts the hold window, otherwise the
	// held value decays linearly toward zero.
	if peak >= a.sessionPeak {
		a.sessionPeak = peak
		a.holdRemain = a.cfg.HoldCycles
	} else {
		a.decayPeak()
	}

	a.voiceLevel = a.voiceLevel*a.cfg.VoiceSmoothing + rms*(1-a.cfg.VoiceSmoothing)

	return Sample{
		RMS:       rms,
		Peak:      peak,
		Voice:     a.voiceLevel > a.cfg.VoiceThreshold,
		Timestamp: now,
	}
}

func (a *Analyzer) decayPeak() {
	if a.holdRemain > 0 {
		a.holdRemain--
		return
	}

	a.sessionPeak -= a.cfg.DecayPerCycle
	if a.sessionPeak < 0 {
		a.sessionPeak = 0
	}
}

// SessionPeak returns the current held peak value.
func (a *Analyzer) SessionPeak() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionPeak
}

// ResetPeak clears the held peak, the decay counter and the voice state,
// typically at the start of a new recording session.
func (a *Analyzer) ResetPeak() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sessionPeak = 0
	a.holdRemain = 0
	a.voiceLevel = 0
}

// Windows returns the number of windows analyzed since construction.
func (a *Analyzer) Windows() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windows
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
