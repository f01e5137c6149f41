package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingFetcher holds every Fetch until released, to keep a download in
// flight during a test.
type blockingFetcher struct {
	release chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, desc Descriptor, dest string, progress func(percent int)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.release:
	}
	return os.WriteFile(dest, []byte(desc.ID), 0o644)
}

func newTestRegistry(t *testing.T, fetcher Fetcher) (*Registry, *events.Bus) {
	t.Helper()

	bus := events.NewBus(256)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	r, err := NewRegistry(t.TempDir(), fetcher, bus, m, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	return r, bus
}

func TestSelectUnknownModel(t *testing.T) {
	r, _ := newTestRegistry(t, &StagedFetcher{Stages: 2})

	err := r.Select("no-such-model")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound, got %v", err)
	}
}

func TestSelectNotDownloaded(t *testing.T) {
	r, _ := newTestRegistry(t, &StagedFetcher{Stages: 2})

	err := r.Select("whisper-base")
	if !errors.Is(err, ErrModelNotDownloaded) {
		t.Errorf("Expected ErrModelNotDownloaded, got %v", err)
	}

	if _, ok := r.Current(); ok {
		t.Error("Expected no current model after failed Select")
	}
}

func TestRescanMarksExistingFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "ggml-base.bin"), []byte("model"), 0o644); err != nil {
		t.Fatalf("Failed to seed model file: %v", err)
	}

	bus := events.NewBus(16)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	r, err := NewRegistry(dir, &StagedFetcher{Stages: 2}, bus, m, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	desc, err := r.Get("whisper-base")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !desc.Downloaded {
		t.Error("Expected whisper-base marked downloaded")
	}

	if err := r.Select("whisper-base"); err != nil {
		t.Errorf("Select failed for downloaded model: %v", err)
	}

	current, ok := r.Current()
	if !ok || current.ID != "whisper-base" {
		t.Errorf("Expected current model whisper-base, got %+v ok=%v", current, ok)
	}
}

func TestDownloadAlreadyDownloaded(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "ggml-tiny.bin"), []byte("model"), 0o644); err != nil {
		t.Fatalf("Failed to seed model file: %v", err)
	}

	bus := events.NewBus(16)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	r, err := NewRegistry(dir, &StagedFetcher{Stages: 2}, bus, m, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	started, err := r.Download(context.Background(), "whisper-tiny")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if started {
		t.Error("Expected Download to report false for a downloaded model")
	}
}

func TestDownloadInFlightIsNoOp(t *testing.T) {
	fetcher := &blockingFetcher{release: make(chan struct{})}
	r, _ := newTestRegistry(t, fetcher)

	started, err := r.Download(context.Background(), "whisper-tiny")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if !started {
		t.Fatal("Expected first Download to start")
	}

	if !r.Downloading("whisper-tiny") {
		t.Error("Expected download to be in flight")
	}

	again, err := r.Download(context.Background(), "whisper-tiny")
	if err != nil {
		t.Fatalf("Second Download failed: %v", err)
	}
	if again {
		t.Error("Expected second Download to report false while in flight")
	}

	close(fetcher.release)
}

func TestDownloadProgressReachesCompletion(t *testing.T) {
	r, bus := newTestRegistry(t, &StagedFetcher{Stages: 4})

	progressCh, cancelProgress := bus.DownloadProgress.Subscribe()
	defer cancelProgress()
	doneCh, cancelDone := bus.ModelDownloaded.Subscribe()
	defer cancelDone()

	started, err := r.Download(context.Background(), "whisper-tiny")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if !started {
		t.Fatal("Expected Download to start")
	}

	var done events.ModelDownloaded
	select {
	case done = <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for download completion")
	}

	if done.ModelID != "whisper-tiny" {
		t.Errorf("Expected model whisper-tiny, got %s", done.ModelID)
	}

	if _, err := os.Stat(done.LocalPath); err != nil {
		t.Errorf("Expected model file at %s: %v", done.LocalPath, err)
	}

	// Progress must be monotonic and end at 100
	last := -1
	sawFinal := false
	for {
		select {
		case p := <-progressCh:
			if p.Percent <= last {
				t.Errorf("Progress went backwards: %d after %d", p.Percent, last)
			}
			last = p.Percent
			if p.Percent == 100 {
				sawFinal = true
			}
			continue
		default:
		}
		break
	}

	if !sawFinal {
		t.Error("Never observed 100% progress")
	}

	desc, err := r.Get("whisper-tiny")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !desc.Downloaded {
		t.Error("Expected model marked downloaded after completion")
	}

	if err := r.Select("whisper-tiny"); err != nil {
		t.Errorf("Select failed after download: %v", err)
	}
}

func TestListOrderedBySize(t *testing.T) {
	r, _ := newTestRegistry(t, &StagedFetcher{Stages: 2})

	models := r.List()
	if len(models) == 0 {
		t.Fatal("Expected a non-empty catalog")
	}

	for i := 1; i < len(models); i++ {
		if models[i].SizeBytes < models[i-1].SizeBytes {
			t.Errorf("Catalog not ordered by size at index %d", i)
		}
	}
}
