package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
)

var (
	// ErrModelNotFound is returned for model IDs absent from the catalog.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelNotDownloaded is returned when selecting a model whose file
	// is not present locally.
	ErrModelNotDownloaded = errors.New("model not downloaded")
)

// Descriptor describes one transcription model in the catalog.
type Descriptor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	SpeedClass    string `json:"speed_class"`
	AccuracyClass string `json:"accuracy_class"`
	Downloaded    bool   `json:"downloaded"`
	LocalPath     string `json:"local_path,omitempty"`

	// Filename is the on-disk name inside the models directory; URL is the
	// upstream location the fetcher pulls from.
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Fetcher transfers one model to a destination path, reporting progress in
// whole percent. Implementations must honour ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, desc Descriptor, dest string, progress func(percent int)) error
}

// Registry maintains the model catalog, the downloaded state derived from
// the models directory and the currently selected model. All writes to
// selection and per-model state go through one mutex.
type Registry struct {
	dir     string
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
	fetcher Fetcher

	models     map[string]*Descriptor
	selectedID string
	inflight   map[string]struct{}

	mu sync.RWMutex
}

// NewRegistry creates a registry over the given models directory, seeds the
// built-in catalog and marks models whose files already exist as
// downloaded.
func NewRegistry(dir string, fetcher Fetcher, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("models directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory %s: %w", dir, err)
	}

	r := &Registry{
		dir:      dir,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		fetcher:  fetcher,
		models:   make(map[string]*Descriptor),
		inflight: make(map[string]struct{}),
	}

	for _, desc := range catalog() {
		d := desc
		r.models[d.ID] = &d
	}

	r.rescan()

	return r, nil
}

// catalog returns the built-in whisper model set.
func catalog() []Descriptor {
	const mb = 1024 * 1024

	return []Descriptor{
		{ID: "whisper-tiny", Name: "Tiny", SizeBytes: 39 * mb, SpeedClass: "fastest", AccuracyClass: "low",
			Filename: "ggml-tiny.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin"},
		{ID: "whisper-tiny.en", Name: "Tiny (English)", SizeBytes: 39 * mb, SpeedClass: "fastest", AccuracyClass: "low",
			Filename: "ggml-tiny.en.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin"},
		{ID: "whisper-base", Name: "Base", SizeBytes: 147 * mb, SpeedClass: "fast", AccuracyClass: "medium",
			Filename: "ggml-base.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin"},
		{ID: "whisper-base.en", Name: "Base (English)", SizeBytes: 147 * mb, SpeedClass: "fast", AccuracyClass: "medium",
			Filename: "ggml-base.en.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin"},
		{ID: "whisper-small", Name: "Small", SizeBytes: 488 * mb, SpeedClass: "balanced", AccuracyClass: "high",
			Filename: "ggml-small.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin"},
		{ID: "whisper-medium", Name: "Medium", SizeBytes: 1542 * mb, SpeedClass: "slow", AccuracyClass: "higher",
			Filename: "ggml-medium.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin"},
		{ID: "whisper-large", Name: "Large", SizeBytes: 3094 * mb, SpeedClass: "slowest", AccuracyClass: "highest",
			Filename: "ggml-large.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large.bin"},
	}
}

// rescan re-derives the downloaded flag of every model from file presence.
// Caller must not hold the mutex.
func (r *Registry) rescan() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.models {
		path := filepath.Join(r.dir, m.Filename)
		if _, err := os.Stat(path); err == nil {
			m.Downloaded = true
			m.LocalPath = path
		} else {
			m.Downloaded = false
			m.LocalPath = ""
			if r.selectedID == m.ID {
				r.selectedID = ""
			}
		}
	}
}

// List returns a snapshot of every descriptor, ordered by size.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, *m)
	}

	// Stable order keeps API responses deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	return out
}

func less(a, b Descriptor) bool {
	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes < b.SizeBytes
	}
	return a.ID < b.ID
}

// Get returns a snapshot of one descriptor.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}

	return *m, nil
}

// Select makes the given model current. Only downloaded models are
// selectable.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}

	if !m.Downloaded {
		return fmt.Errorf("%w: %s", ErrModelNotDownloaded, id)
	}

	r.selectedID = id
	r.logger.Info("Model selected", "model_id", id)

	return nil
}

// ClearSelection drops the current selection.
func (r *Registry) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selectedID = ""
}

// Current returns the selected descriptor, or false when none is selected.
func (r *Registry) Current() (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.selectedID == "" {
		return Descriptor{}, false
	}

	m, ok := r.models[r.selectedID]
	if !ok {
		return Descriptor{}, false
	}

	return *m, true
}

// Download starts fetching the model in the background. It reports false
// when the model is already downloaded or a download is already in flight,
// true when a new transfer started. Progress is published as
// download-progress events; completion flips Downloaded and fires
// model-downloaded.
func (r *Registry) Download(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()

	m, ok := r.models[id]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}

	if m.Downloaded {
		r.mu.Unlock()
		return false, nil
	}

	if _, busy := r.inflight[id]; busy {
		r.mu.Unlock()
		return false, nil
	}

	r.inflight[id] = struct{}{}
	desc := *m
	r.mu.Unlock()

	go r.runDownload(ctx, desc)

	return true, nil
}

func (r *Registry) runDownload(ctx context.Context, desc Descriptor) {
	dest := filepath.Join(r.dir, desc.Filename)

	r.logger.Info("Model download started",
		"model_id", desc.ID,
		"size_bytes", desc.SizeBytes,
		"dest", dest)

	lastPercent := -1
	progress := func(percent int) {
		if percent <= lastPercent {
			return
		}
		lastPercent = percent
		r.bus.DownloadProgress.Publish(events.DownloadProgress{
			ModelID: desc.ID,
			Percent: percent,
		})
	}

	err := r.fetcher.Fetch(ctx, desc, dest, progress)

	r.mu.Lock()
	delete(r.inflight, desc.ID)

	if err != nil {
		r.mu.Unlock()
		os.Remove(dest)
		r.metrics.RecordDownload("failed")
		r.logger.Error("Model download failed",
			"model_id", desc.ID,
			"error", err)
		return
	}

	m := r.models[desc.ID]
	m.Downloaded = true
	m.LocalPath = dest
	done := *m
	r.mu.Unlock()

	progress(100)

	r.metrics.RecordDownload("completed")

	r.bus.ModelDownloaded.Publish(events.ModelDownloaded{
		ModelID:   done.ID,
		Name:      done.Name,
		SizeBytes: done.SizeBytes,
		LocalPath: done.LocalPath,
	})

	r.logger.Info("Model download completed", "model_id", done.ID)
}

// Downloading reports whether a download for the model is in flight.
func (r *Registry) Downloading(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, busy := r.inflight[id]
	return busy
}

// Dir returns the models directory.
func (r *Registry) Dir() string {
	return r.dir
}
