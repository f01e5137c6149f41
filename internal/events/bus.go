package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Default per-subscriber channel capacity. A subscriber that falls further
// behind than this loses events rather than stalling the producer.
const defaultSubscriberBuffer = 64

// Topic is a broadcast channel for one event type. Publish delivers to
// every subscriber that can keep up and counts drops for the rest; it never
// blocks the publisher.
type Topic[T any] struct {
	mu      sync.RWMutex
	subs    map[int]chan T
	nextID  int
	buffer  int
	dropped atomic.Uint64
}

// NewTopic creates a topic with the given per-subscriber buffer capacity.
// A non-positive capacity selects the default.
func NewTopic[T any](buffer int) *Topic[T] {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Topic[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber and returns its channel together
// with a cancel function. Cancel is idempotent and closes the channel.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++

	ch := make(chan T, t.buffer)
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers the event to all subscribers without blocking. Events
// for full subscriber buffers are dropped and counted.
func (t *Topic[T]) Publish(event T) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
			t.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Dropped returns the number of events dropped due to slow subscribers.
func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}

// RecordingStarted fires on the transition to Recording.
type RecordingStarted struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
}

// RecordingPaused fires on the transition to Paused.
type RecordingPaused struct {
	SessionID string `json:"session_id"`
}

// RecordingResumed fires on the transition back to Recording.
type RecordingResumed struct {
	SessionID string `json:"session_id"`
}

// RecordingStopped carries the encoded WAV buffer of a completed session.
type RecordingStopped struct {
	SessionID   string  `json:"session_id"`
	WAV         []byte  `json:"-"`
	DurationSec float64 `json:"duration_sec"`
}

// Level is one live level sample, emitted periodically while recording.
type Level struct {
	SessionID string    `json:"session_id"`
	RMS       float64   `json:"rms"`
	Peak      float64   `json:"peak"`
	Voice     bool      `json:"voice"`
	Timestamp time.Time `json:"timestamp"`
}

// Data is one raw audio chunk, emitted continuously while recording.
type Data struct {
	SessionID string    `json:"session_id"`
	Samples   []float32 `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Segment is the event-surface form of a transcription segment.
type Segment struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// TranscriptionProgress carries one incremental segment of a running job.
type TranscriptionProgress struct {
	JobID   string  `json:"job_id"`
	Segment Segment `json:"segment"`
}

// TranscriptionCompleted carries the final result of a successful job.
type TranscriptionCompleted struct {
	JobID       string    `json:"job_id"`
	Text        string    `json:"text"`
	Segments    []Segment `json:"segments"`
	Language    string    `json:"language"`
	DurationSec float64   `json:"duration_sec"`
	ModelID     string    `json:"model_id"`
}

// TranscriptionFailed reports a terminally failed job.
type TranscriptionFailed struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// DownloadProgress reports model download progress in whole percent.
type DownloadProgress struct {
	ModelID string `json:"model_id"`
	Percent int    `json:"percent"`
}

// ModelDownloaded fires once a model download completes.
type ModelDownloaded struct {
	ModelID   string `json:"model_id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	LocalPath string `json:"local_path"`
}

// Bus aggregates one topic per event type of the core's event surface.
type Bus struct {
	RecordingStarted       *Topic[RecordingStarted]
	RecordingPaused        *Topic[RecordingPaused]
	RecordingResumed       *Topic[RecordingResumed]
	RecordingStopped       *Topic[RecordingStopped]
	Level                  *Topic[Level]
	Data                   *Topic[Data]
	TranscriptionProgress  *Topic[TranscriptionProgress]
	TranscriptionCompleted *Topic[TranscriptionCompleted]
	TranscriptionFailed    *Topic[TranscriptionFailed]
	DownloadProgress       *Topic[DownloadProgress]
	ModelDownloaded        *Topic[ModelDownloaded]
}

// NewBus creates a bus with the given per-subscriber buffer capacity for
// every topic.
func NewBus(buffer int) *Bus {
	return &Bus{
		RecordingStarted:       NewTopic[RecordingStarted](buffer),
		RecordingPaused:        NewTopic[RecordingPaused](buffer),
		RecordingResumed:       NewTopic[RecordingResumed](buffer),
		RecordingStopped:       NewTopic[RecordingStopped](buffer),
		Level:                  NewTopic[Level](buffer),
		Data:                   NewTopic[Data](buffer),
		TranscriptionProgress:  NewTopic[TranscriptionProgress](buffer),
		TranscriptionCompleted: NewTopic[TranscriptionCompleted](buffer),
		TranscriptionFailed:    NewTopic[TranscriptionFailed](buffer),
		DownloadProgress:       NewTopic[DownloadProgress](buffer),
		ModelDownloaded:        NewTopic[ModelDownloaded](buffer),
	}
}

// DroppedTotal sums dropped events across every topic, for overrun
// reporting.
func (b *Bus) DroppedTotal() uint64 {
	return b.RecordingStarted.Dropped() +
		b.RecordingPaused.Dropped() +
		b.RecordingResumed.Dropped() +
		b.RecordingStopped.Dropped() +
		b.Level.Dropped() +
		b.Data.Dropped() +
		b.TranscriptionProgress.Dropped() +
		b.TranscriptionCompleted.Dropped() +
		b.TranscriptionFailed.Dropped() +
		b.DownloadProgress.Dropped() +
		b.ModelDownloaded.Dropped()
}
