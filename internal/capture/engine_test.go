package capture

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AkshayAD/VoiceInk-sub003/internal/audio"
	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/levels"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
)

func newTestEngine(t *testing.T) (*Engine, *events.Bus) {
	t.Helper()

	engine, bus, _ := newTestEngineWith(t, &SyntheticSource{Frequency: 440, Amplitude: 0.5}, &StaticLister{})
	return engine, bus
}

func newTestEngineWith(t *testing.T, source SampleSource, lister DeviceLister) (*Engine, *events.Bus, *metrics.Metrics) {
	t.Helper()

	analyzer, err := levels.NewAnalyzer(levels.DefaultConfig())
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	bus := events.NewBus(256)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())

	cfg := Config{
		SampleRate:    16000,
		Channels:      1,
		ChunkInterval: 50 * time.Millisecond,
	}

	engine, err := NewEngine(cfg, source, lister, analyzer, bus, m, testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	return engine, bus, m
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPauseFromIdle(t *testing.T) {
	engine, _ := newTestEngine(t)

	if err := engine.Pause(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}

	if err := engine.Resume(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording for Resume, got %v", err)
	}
}

func TestStartWhileRecording(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.StartRecording("", Options{}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	defer engine.StopRecording()

	if _, err := engine.StartRecording("", Options{}); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}
}

func TestStopFromIdle(t *testing.T) {
	engine, _ := newTestEngine(t)

	buffer, err := engine.StopRecording()
	if err != nil {
		t.Errorf("Expected nil error from idle Stop, got %v", err)
	}
	if buffer != nil {
		t.Error("Expected nil buffer from idle Stop")
	}
}

func TestStartUnknownDevice(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.StartRecording("no-such-device", Options{}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}

	if engine.State() != StateIdle {
		t.Errorf("Expected idle state after failed start, got %s", engine.State())
	}
}

func TestRecordingCycle(t *testing.T) {
	engine, bus := newTestEngine(t)

	startedCh, cancelStarted := bus.RecordingStarted.Subscribe()
	defer cancelStarted()
	stoppedCh, cancelStopped := bus.RecordingStopped.Subscribe()
	defer cancelStopped()
	levelCh, cancelLevel := bus.Level.Subscribe()
	defer cancelLevel()

	sessionID, err := engine.StartRecording("", Options{})
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	if engine.State() != StateRecording {
		t.Errorf("Expected recording state, got %s", engine.State())
	}

	select {
	case e := <-startedCh:
		if e.SessionID != sessionID {
			t.Errorf("Expected session %s, got %s", sessionID, e.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("Never received recording-started event")
	}

	// Let a few chunks flow
	time.Sleep(300 * time.Millisecond)

	select {
	case level := <-levelCh:
		if level.RMS <= 0 {
			t.Errorf("Expected positive RMS for a tone, got %f", level.RMS)
		}
	case <-time.After(time.Second):
		t.Fatal("Never received a level event")
	}

	buffer, err := engine.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	if buffer == nil {
		t.Fatal("Expected a buffer from StopRecording")
	}

	if buffer.SessionID != sessionID {
		t.Errorf("Expected session %s, got %s", sessionID, buffer.SessionID)
	}

	if err := audio.ValidateWAV(buffer.Data); err != nil {
		t.Errorf("Stop produced invalid WAV: %v", err)
	}

	if buffer.DurationSec <= 0 {
		t.Errorf("Expected positive duration, got %f", buffer.DurationSec)
	}

	select {
	case e := <-stoppedCh:
		if e.SessionID != sessionID {
			t.Errorf("Expected session %s in stopped event, got %s", sessionID, e.SessionID)
		}
		if len(e.WAV) != len(buffer.Data) {
			t.Errorf("Stopped event WAV size %d differs from buffer %d", len(e.WAV), len(buffer.Data))
		}
	case <-time.After(time.Second):
		t.Fatal("Never received recording-stopped event")
	}

	if engine.State() != StateIdle {
		t.Errorf("Expected idle state after stop, got %s", engine.State())
	}

	if engine.SessionID() != "" {
		t.Errorf("Expected empty session ID after stop, got %s", engine.SessionID())
	}
}

func TestPauseDiscardsAudio(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.StartRecording("", Options{}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if err := engine.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if engine.State() != StatePaused {
		t.Errorf("Expected paused state, got %s", engine.State())
	}

	elapsedAtPause := engine.Elapsed()
	time.Sleep(200 * time.Millisecond)

	// Paused time is excluded from elapsed
	if d := engine.Elapsed() - elapsedAtPause; d > 20*time.Millisecond {
		t.Errorf("Elapsed advanced %v while paused", d)
	}

	if err := engine.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if engine.State() != StateRecording {
		t.Errorf("Expected recording state after resume, got %s", engine.State())
	}

	buffer, err := engine.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if buffer == nil {
		t.Fatal("Expected a buffer")
	}
}

func TestElapsedIdle(t *testing.T) {
	engine, _ := newTestEngine(t)

	if d := engine.Elapsed(); d != 0 {
		t.Errorf("Expected zero elapsed when idle, got %v", d)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"interval too short", func(c *Config) { c.ChunkInterval = 10 * time.Millisecond }},
		{"interval too long", func(c *Config) { c.ChunkInterval = 500 * time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestSelectDevice(t *testing.T) {
	lister := &StaticLister{List: []Device{
		{ID: "built-in", Name: "Built-in Microphone", Default: true},
		{ID: "usb-mic", Name: "USB Microphone"},
	}}
	engine, bus, _ := newTestEngineWith(t, &SyntheticSource{Frequency: 440, Amplitude: 0.5}, lister)

	if _, err := engine.SelectDevice("no-such-device"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}

	device, err := engine.SelectDevice("usb-mic")
	if err != nil {
		t.Fatalf("SelectDevice failed: %v", err)
	}
	if device.ID != "usb-mic" {
		t.Errorf("Expected device usb-mic, got %s", device.ID)
	}

	selected, err := engine.SelectedDevice()
	if err != nil {
		t.Fatalf("SelectedDevice failed: %v", err)
	}
	if selected.ID != "usb-mic" {
		t.Errorf("Expected selected device usb-mic, got %s", selected.ID)
	}

	startedCh, cancelStarted := bus.RecordingStarted.Subscribe()
	defer cancelStarted()

	// Sessions started without an explicit ID use the selection
	if _, err := engine.StartRecording("", Options{}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	select {
	case e := <-startedCh:
		if e.DeviceID != "usb-mic" {
			t.Errorf("Expected session on usb-mic, got %s", e.DeviceID)
		}
	case <-time.After(time.Second):
		t.Fatal("Never received recording-started event")
	}

	if _, err := engine.StopRecording(); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	// An explicit ID still overrides the selection
	if _, err := engine.StartRecording("built-in", Options{}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	defer engine.StopRecording()

	select {
	case e := <-startedCh:
		if e.DeviceID != "built-in" {
			t.Errorf("Expected session on built-in, got %s", e.DeviceID)
		}
	case <-time.After(time.Second):
		t.Fatal("Never received recording-started event")
	}
}

func TestSelectDeviceDuringRecording(t *testing.T) {
	lister := &StaticLister{List: []Device{
		{ID: "built-in", Name: "Built-in Microphone", Default: true},
		{ID: "usb-mic", Name: "USB Microphone"},
	}}
	engine, _, _ := newTestEngineWith(t, &SyntheticSource{Frequency: 440, Amplitude: 0.5}, lister)

	sessionID, err := engine.StartRecording("", Options{})
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	defer engine.StopRecording()

	if _, err := engine.SelectDevice("usb-mic"); err != nil {
		t.Fatalf("SelectDevice failed: %v", err)
	}

	// The in-progress session is untouched
	if engine.State() != StateRecording {
		t.Errorf("Expected recording state, got %s", engine.State())
	}
	if engine.SessionID() != sessionID {
		t.Errorf("Expected session %s, got %s", sessionID, engine.SessionID())
	}
}

// slowCloseSource widens the teardown window between pump shutdown and
// source release.
type slowCloseSource struct {
	SyntheticSource
	closeDelay time.Duration
}

func (s *slowCloseSource) Close() error {
	time.Sleep(s.closeDelay)
	return s.SyntheticSource.Close()
}

func TestStartDuringStopTeardown(t *testing.T) {
	source := &slowCloseSource{
		SyntheticSource: SyntheticSource{Frequency: 440, Amplitude: 0.5},
		closeDelay:      200 * time.Millisecond,
	}
	engine, _, _ := newTestEngineWith(t, source, &StaticLister{})

	if _, err := engine.StartRecording("", Options{}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if _, err := engine.StopRecording(); err != nil {
			t.Errorf("StopRecording failed: %v", err)
		}
	}()

	// While the old session is still closing the source, a new session
	// must be refused rather than reopening it.
	time.Sleep(50 * time.Millisecond)
	if _, err := engine.StartRecording("", Options{}); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording during teardown, got %v", err)
	}

	<-stopped

	if engine.State() != StateIdle {
		t.Fatalf("Expected idle state after stop, got %s", engine.State())
	}

	// Once teardown is done a fresh session captures normally
	if _, err := engine.StartRecording("", Options{}); err != nil {
		t.Fatalf("StartRecording after teardown failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	buffer, err := engine.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if buffer == nil {
		t.Fatal("Expected a buffer from the second session")
	}
	if buffer.DurationSec <= 0 {
		t.Errorf("Second session captured no audio, duration %f", buffer.DurationSec)
	}
}

// overrunSource reports one dropped chunk for every read after the first.
type overrunSource struct {
	SyntheticSource
	reads uint64
}

func (s *overrunSource) NextChunk() ([]float32, error) {
	s.reads++
	return s.SyntheticSource.NextChunk()
}

func (s *overrunSource) Overruns() uint64 {
	if s.reads <= 1 {
		return 0
	}
	return s.reads - 1
}

func TestOverrunsAreSurfaced(t *testing.T) {
	source := &overrunSource{SyntheticSource: SyntheticSource{Frequency: 440, Amplitude: 0.5}}
	engine, _, m := newTestEngineWith(t, source, &StaticLister{})

	if _, err := engine.StartRecording("", Options{}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	if _, err := engine.StopRecording(); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	if got := testutil.ToFloat64(m.CaptureOverruns); got < 1 {
		t.Errorf("Expected overruns counted in the metric, got %f", got)
	}
}

func TestSyntheticSourceChunks(t *testing.T) {
	source := &SyntheticSource{Frequency: 440, Amplitude: 0.5}

	if err := source.Open("default", 16000, 1, 800); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer source.Close()

	chunk, err := source.NextChunk()
	if err != nil {
		t.Fatalf("NextChunk failed: %v", err)
	}

	if len(chunk) != 800 {
		t.Errorf("Expected 800 samples, got %d", len(chunk))
	}

	var peak float32
	for _, s := range chunk {
		if s > peak {
			peak = s
		}
	}
	if peak < 0.4 || peak > 0.51 {
		t.Errorf("Expected tone peak near 0.5, got %f", peak)
	}
}
