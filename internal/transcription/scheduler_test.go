package transcription

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AkshayAD/VoiceInk-sub003/internal/audio"
	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
	"github.com/AkshayAD/VoiceInk-sub003/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// silenceWAV returns an encoded mono recording of the given length.
func silenceWAV(t *testing.T, seconds float64) []byte {
	t.Helper()

	samples := make([]float32, int(seconds*16000))
	data, err := audio.EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

// newTestScheduler builds a scheduler over a registry with whisper-base
// downloaded and selected, unless selectModel is false.
func newTestScheduler(t *testing.T, engine Engine, selectModel bool) (*Scheduler, *events.Bus, context.CancelFunc) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ggml-base.bin"), []byte("model"), 0o644); err != nil {
		t.Fatalf("Failed to seed model file: %v", err)
	}

	bus := events.NewBus(256)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	registry, err := model.NewRegistry(dir, &model.StagedFetcher{Stages: 2}, bus, m, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if selectModel {
		if err := registry.Select("whisper-base"); err != nil {
			t.Fatalf("Select failed: %v", err)
		}
	}

	s := NewScheduler(engine, registry, bus, m, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	t.Cleanup(func() {
		cancel()
		s.Wait()
	})

	return s, bus, cancel
}

func TestSchedulerCompletesJob(t *testing.T) {
	s, bus, _ := newTestScheduler(t, &StubEngine{}, true)

	completed, cancelSub := bus.TranscriptionCompleted.Subscribe()
	defer cancelSub()

	jobID, err := s.Enqueue(silenceWAV(t, 2.0), Options{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var result events.TranscriptionCompleted
	select {
	case result = <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for job completion")
	}

	if result.JobID != jobID {
		t.Errorf("Expected job %s, got %s", jobID, result.JobID)
	}

	if result.ModelID != "whisper-base" {
		t.Errorf("Expected model whisper-base, got %s", result.ModelID)
	}

	if len(result.Segments) == 0 {
		t.Fatal("Expected at least one segment")
	}

	// Segments are ordered and the text is their space-joined concatenation
	var parts []string
	for i, seg := range result.Segments {
		if i > 0 && seg.StartSec < result.Segments[i-1].StartSec {
			t.Errorf("Segment %d out of order", i)
		}
		parts = append(parts, seg.Text)
	}
	if joined := strings.Join(parts, " "); joined != result.Text {
		t.Errorf("Expected text %q, got %q", joined, result.Text)
	}

	job, err := s.Job(jobID)
	if err != nil {
		t.Fatalf("Job lookup failed: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("Expected status completed, got %s", job.Status)
	}
}

func TestSchedulerNoModelSelected(t *testing.T) {
	s, bus, _ := newTestScheduler(t, &StubEngine{}, false)

	failed, cancelSub := bus.TranscriptionFailed.Subscribe()
	defer cancelSub()

	jobID, err := s.Enqueue(silenceWAV(t, 1.0), Options{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case e := <-failed:
		if e.JobID != jobID {
			t.Errorf("Expected job %s, got %s", jobID, e.JobID)
		}
		if !strings.Contains(e.Error, ErrNoModelSelected.Error()) {
			t.Errorf("Expected no-model error, got %q", e.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for job failure")
	}

	job, err := s.Job(jobID)
	if err != nil {
		t.Fatalf("Job lookup failed: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("Expected status failed, got %s", job.Status)
	}
}

func TestSchedulerRunsJobsInOrder(t *testing.T) {
	s, bus, _ := newTestScheduler(t, &StubEngine{SegmentDelay: 10 * time.Millisecond}, true)

	completed, cancelSub := bus.TranscriptionCompleted.Subscribe()
	defer cancelSub()

	wav := silenceWAV(t, 2.0)
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Enqueue(wav, Options{})
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
		ids = append(ids, id)
	}

	// Sample the job table while the batch drains; at no instant may more
	// than one job be running.
	stopSampler := make(chan struct{})
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		for {
			select {
			case <-stopSampler:
				return
			case <-time.After(time.Millisecond):
			}

			running := 0
			for _, job := range s.Jobs() {
				if job.Status == StatusRunning {
					running++
				}
			}
			if running > 1 {
				t.Errorf("Observed %d running jobs at once", running)
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		select {
		case e := <-completed:
			if e.JobID != ids[i] {
				t.Errorf("Completion %d: expected job %s, got %s", i, ids[i], e.JobID)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("Timed out waiting for completion %d", i)
		}
	}

	close(stopSampler)
	<-samplerDone
}

func TestSchedulerCancelQueued(t *testing.T) {
	s, _, _ := newTestScheduler(t, &StubEngine{SegmentDelay: 50 * time.Millisecond}, true)

	wav := silenceWAV(t, 4.0)

	first, err := s.Enqueue(wav, Options{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := s.Enqueue(wav, Options{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := s.Cancel(second); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	job, err := s.Job(second)
	if err != nil {
		t.Fatalf("Job lookup failed: %v", err)
	}
	if job.Status != StatusCancelled {
		t.Errorf("Expected status cancelled, got %s", job.Status)
	}

	// The first job is unaffected
	deadline := time.Now().Add(10 * time.Second)
	for {
		job, err := s.Job(first)
		if err != nil {
			t.Fatalf("Job lookup failed: %v", err)
		}
		if job.Status == StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("First job never completed, status %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerCancelRunning(t *testing.T) {
	s, _, _ := newTestScheduler(t, &StubEngine{SegmentDelay: 100 * time.Millisecond}, true)

	jobID, err := s.Enqueue(silenceWAV(t, 10.0), Options{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Wait until the job is running
	deadline := time.Now().Add(5 * time.Second)
	for s.Running() != jobID {
		if time.Now().After(deadline) {
			t.Fatal("Job never started running")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Cancel(jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		job, err := s.Job(jobID)
		if err != nil {
			t.Fatalf("Job lookup failed: %v", err)
		}
		if job.Status == StatusCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Job never cancelled, status %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerClearQueue(t *testing.T) {
	s, _, _ := newTestScheduler(t, &StubEngine{SegmentDelay: 100 * time.Millisecond}, true)

	wav := silenceWAV(t, 10.0)
	if _, err := s.Enqueue(wav, Options{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Wait for the first job to start so the rest stay queued
	deadline := time.Now().Add(5 * time.Second)
	for s.Running() == "" {
		if time.Now().After(deadline) {
			t.Fatal("First job never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(wav, Options{}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if removed := s.ClearQueue(); removed != 3 {
		t.Errorf("Expected 3 removed jobs, got %d", removed)
	}

	if depth := s.QueueDepth(); depth != 0 {
		t.Errorf("Expected empty queue, got depth %d", depth)
	}
}

func TestEnqueueEmptyAudio(t *testing.T) {
	s, _, _ := newTestScheduler(t, &StubEngine{}, true)

	if _, err := s.Enqueue(nil, Options{}); err == nil {
		t.Error("Expected error for empty audio buffer")
	}
}

func TestJobNotFound(t *testing.T) {
	s, _, _ := newTestScheduler(t, &StubEngine{}, true)

	if _, err := s.Job("missing"); err == nil {
		t.Error("Expected error for unknown job")
	}

	if err := s.Cancel("missing"); err == nil {
		t.Error("Expected error cancelling unknown job")
	}
}
