package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AkshayAD/VoiceInk-sub003/internal/audio"
	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/levels"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
)

var (
	// ErrAlreadyRecording is returned when starting while a session is
	// active.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrNotRecording is returned for pause and resume calls outside the
	// state they apply to.
	ErrNotRecording = errors.New("no recording in progress")
)

// State is the engine's recording state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"

	// stateStopping holds the engine between a Stop call and the end of
	// source teardown, so a concurrent Start cannot reopen the source
	// while the old session is still closing it.
	stateStopping State = "stopping"
)

// Options are per-session capture options. The zero value selects unity
// gain with all processing off.
type Options struct {
	// Gain multiplies every captured sample. Zero means unity.
	Gain float64 `json:"gain"`

	// NoiseSuppression zeroes chunks whose level falls below the noise
	// gate.
	NoiseSuppression bool `json:"noise_suppression"`

	// AutoGainControl slowly adjusts an internal gain toward a target
	// level.
	AutoGainControl bool `json:"auto_gain_control"`

	// EchoCancellation is accepted for API parity with capture backends
	// that implement it natively; the synthetic pipeline ignores it.
	EchoCancellation bool `json:"echo_cancellation"`
}

// Config controls the capture pipeline format and cadence.
type Config struct {
	SampleRate    int
	Channels      int
	ChunkInterval time.Duration
}

// Validate checks capture configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}

	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}

	if c.ChunkInterval < 50*time.Millisecond || c.ChunkInterval > 100*time.Millisecond {
		return fmt.Errorf("chunk_interval must be between 50ms and 100ms, got %v", c.ChunkInterval)
	}

	return nil
}

// DefaultConfig returns 16 kHz mono with a 75 ms chunk cadence.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		ChunkInterval: 75 * time.Millisecond,
	}
}

// FramesPerChunk returns the frame count of one chunk interval.
func (c Config) FramesPerChunk() int {
	return int(float64(c.SampleRate) * c.ChunkInterval.Seconds())
}

// Buffer is the encoded output of one completed recording session.
type Buffer struct {
	SessionID   string  `json:"session_id"`
	Data        []byte  `json:"-"`
	DurationSec float64 `json:"duration_sec"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
}

// Automatic gain control tuning.
const (
	noiseGateLevel = 0.008
	agcTargetRMS   = 0.2
	agcStep        = 0.02
	agcMaxGain     = 4.0
)

// Engine owns the recording state machine. One session at a time moves
// through Idle, Recording and Paused; a pump goroutine pulls chunks from
// the sample source at the configured cadence and feeds the accumulator
// and the level analyzer.
type Engine struct {
	cfg      Config
	source   SampleSource
	lister   DeviceLister
	analyzer *levels.Analyzer
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	sessionID   string
	device      Device
	selected    string
	opts        Options
	acc         *audio.Accumulator
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	agcGain     float64

	stopPump chan struct{}
	pumpDone chan struct{}
}

// NewEngine creates an idle capture engine.
func NewEngine(cfg Config, source SampleSource, lister DeviceLister, analyzer *levels.Analyzer, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture config: %w", err)
	}

	return &Engine{
		cfg:      cfg,
		source:   source,
		lister:   lister,
		analyzer: analyzer,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		state:    StateIdle,
	}, nil
}

// Devices lists available input devices.
func (e *Engine) Devices() ([]Device, error) {
	return e.lister.Devices()
}

// SelectDevice stores the device used by sessions started without an
// explicit device ID. A session already in progress keeps the device it
// opened.
func (e *Engine) SelectDevice(id string) (Device, error) {
	device, err := Resolve(e.lister, id)
	if err != nil {
		return Device{}, err
	}

	e.mu.Lock()
	e.selected = device.ID
	e.mu.Unlock()

	e.logger.Info("Device selected",
		"device_id", device.ID,
		"device_name", device.Name)

	return device, nil
}

// SelectedDevice resolves the device future sessions default to.
func (e *Engine) SelectedDevice() (Device, error) {
	e.mu.Lock()
	id := e.selected
	e.mu.Unlock()

	return Resolve(e.lister, id)
}

// StartRecording opens the device and begins a new session. An empty
// device ID selects the default device.
func (e *Engine) StartRecording(deviceID string, opts Options) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return "", ErrAlreadyRecording
	}

	if deviceID == "" {
		deviceID = e.selected
	}

	device, err := Resolve(e.lister, deviceID)
	if err != nil {
		return "", err
	}

	if opts.Gain == 0 {
		opts.Gain = 1.0
	}
	if opts.Gain < 0 {
		return "", fmt.Errorf("gain cannot be negative, got %f", opts.Gain)
	}

	if err := e.source.Open(device.ID, e.cfg.SampleRate, e.cfg.Channels, e.cfg.FramesPerChunk()); err != nil {
		return "", fmt.Errorf("failed to open device %s: %w", device.ID, err)
	}

	e.sessionID = uuid.New().String()
	e.device = device
	e.opts = opts
	e.acc = audio.NewAccumulator(e.cfg.SampleRate, e.cfg.Channels)
	e.analyzer.ResetPeak()
	e.state = StateRecording
	e.startedAt = time.Now()
	e.pausedTotal = 0
	e.agcGain = 1.0

	e.stopPump = make(chan struct{})
	e.pumpDone = make(chan struct{})
	go e.pump(e.sessionID, e.stopPump, e.pumpDone)

	e.metrics.RecordRecordingStarted()
	e.bus.RecordingStarted.Publish(events.RecordingStarted{
		SessionID: e.sessionID,
		DeviceID:  device.ID,
		StartedAt: e.startedAt,
	})

	e.logger.Info("Recording started",
		"session_id", e.sessionID,
		"device_id", device.ID,
		"device_name", device.Name,
		"sample_rate", e.cfg.SampleRate,
		"channels", e.cfg.Channels)

	return e.sessionID, nil
}

// Pause suspends capture. Chunks delivered while paused are discarded and
// paused time is excluded from Elapsed.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRecording {
		return ErrNotRecording
	}

	e.state = StatePaused
	e.pausedAt = time.Now()

	e.bus.RecordingPaused.Publish(events.RecordingPaused{SessionID: e.sessionID})
	e.logger.Info("Recording paused", "session_id", e.sessionID)

	return nil
}

// Resume continues a paused session.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePaused {
		return ErrNotRecording
	}

	e.state = StateRecording
	e.pausedTotal += time.Since(e.pausedAt)

	e.bus.RecordingResumed.Publish(events.RecordingResumed{SessionID: e.sessionID})
	e.logger.Info("Recording resumed", "session_id", e.sessionID)

	return nil
}

// StopRecording ends the session and returns the encoded WAV buffer. From
// Idle it returns nil without error. On encoding failure the session still
// ends and no buffer is produced.
func (e *Engine) StopRecording() (*Buffer, error) {
	e.mu.Lock()

	if e.state == StateIdle || e.state == stateStopping {
		e.mu.Unlock()
		return nil, nil
	}

	sessionID := e.sessionID
	acc := e.acc
	if e.state == StatePaused {
		e.pausedTotal += time.Since(e.pausedAt)
	}
	elapsed := time.Since(e.startedAt) - e.pausedTotal

	e.state = stateStopping
	close(e.stopPump)
	done := e.pumpDone
	e.mu.Unlock()

	<-done

	if err := e.source.Close(); err != nil {
		e.logger.Warn("Failed to close audio source", "error", err)
	}

	// Only now is the source free for the next session.
	e.mu.Lock()
	e.state = StateIdle
	e.sessionID = ""
	e.acc = nil
	e.mu.Unlock()

	samples := acc.Take()
	durationSec := 0.0
	if e.cfg.SampleRate > 0 {
		durationSec = float64(len(samples)/e.cfg.Channels) / float64(e.cfg.SampleRate)
	}

	wav, err := audio.EncodeWAV(samples, e.cfg.SampleRate, e.cfg.Channels)
	if err != nil {
		e.metrics.RecordEncodeFailure()
		e.metrics.RecordRecordingEnded()
		e.logger.Error("Failed to encode recording",
			"session_id", sessionID,
			"samples", len(samples),
			"error", err)
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}

	e.metrics.RecordRecordingCompleted(durationSec)
	e.bus.RecordingStopped.Publish(events.RecordingStopped{
		SessionID:   sessionID,
		WAV:         wav,
		DurationSec: durationSec,
	})

	e.logger.Info("Recording stopped",
		"session_id", sessionID,
		"duration_sec", durationSec,
		"wav_bytes", len(wav),
		"wall_elapsed", elapsed)

	return &Buffer{
		SessionID:   sessionID,
		Data:        wav,
		DurationSec: durationSec,
		SampleRate:  e.cfg.SampleRate,
		Channels:    e.cfg.Channels,
	}, nil
}

// State returns the current recording state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the active session ID, or empty when idle.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Elapsed returns recorded wall time of the active session, excluding
// paused intervals. Zero when idle.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateIdle:
		return 0
	case StatePaused:
		return e.pausedAt.Sub(e.startedAt) - e.pausedTotal
	default:
		return time.Since(e.startedAt) - e.pausedTotal
	}
}

// pump pulls chunks from the source at the configured cadence until the
// session stops.
func (e *Engine) pump(sessionID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.ChunkInterval)
	defer ticker.Stop()

	reporter, reportsOverruns := e.source.(overrunReporter)
	var overrunsSeen uint64
	if reportsOverruns {
		overrunsSeen = reporter.Overruns()
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		chunk, err := e.source.NextChunk()
		if err != nil {
			e.logger.Warn("Failed to read audio chunk",
				"session_id", sessionID,
				"error", err)
			continue
		}

		if reportsOverruns {
			if total := reporter.Overruns(); total > overrunsSeen {
				dropped := total - overrunsSeen
				overrunsSeen = total
				e.metrics.RecordOverruns(int(dropped))
				e.logger.Warn("Capture overrun, dropped oldest chunks",
					"session_id", sessionID,
					"dropped", dropped)
			}
		}

		if len(chunk) == 0 {
			continue
		}

		e.mu.Lock()
		if e.state != StateRecording || e.sessionID != sessionID {
			// Paused sessions discard incoming audio.
			e.mu.Unlock()
			continue
		}
		opts := e.opts
		acc := e.acc
		agc := e.agcGain
		e.mu.Unlock()

		chunk, agc = processChunk(chunk, opts, agc)

		e.mu.Lock()
		e.agcGain = agc
		e.mu.Unlock()

		acc.Append(chunk)
		sample := e.analyzer.Analyze(chunk)

		e.metrics.RecordChunk(len(chunk))
		e.metrics.RecordLevelWindow(sample.Voice)

		e.bus.Data.Publish(events.Data{
			SessionID: sessionID,
			Samples:   chunk,
			Timestamp: sample.Timestamp,
		})
		e.bus.Level.Publish(events.Level{
			SessionID: sessionID,
			RMS:       sample.RMS,
			Peak:      sample.Peak,
			Voice:     sample.Voice,
			Timestamp: sample.Timestamp,
		})
	}
}

// processChunk applies the session's gain, noise gate and AGC and returns
// the updated AGC gain.
func processChunk(chunk []float32, opts Options, agcGain float64) ([]float32, float64) {
	gain := opts.Gain
	if opts.AutoGainControl {
		gain *= agcGain
	}

	var sumSquares float64
	for i, s := range chunk {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		chunk[i] = float32(v)
		sumSquares += v * v
	}

	rms := math.Sqrt(sumSquares / float64(len(chunk)))

	if opts.NoiseSuppression && rms < noiseGateLevel {
		for i := range chunk {
			chunk[i] = 0
		}
		return chunk, agcGain
	}

	if opts.AutoGainControl && rms > 0 {
		if rms < agcTargetRMS && agcGain < agcMaxGain {
			agcGain += agcStep
		} else if rms > agcTargetRMS && agcGain > 1.0 {
			agcGain -= agcStep
		}
	}

	return chunk, agcGain
}
