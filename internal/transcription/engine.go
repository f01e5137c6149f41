package transcription

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoModelSelected is returned when a job reaches the front of the
	// queue with no model selected.
	ErrNoModelSelected = errors.New("no model selected")

	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
)

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Options are per-job transcription options.
type Options struct {
	// Language is a hint for the engine; empty means auto-detect.
	Language string `json:"language,omitempty"`

	// Timestamps requests per-segment timing in the result.
	Timestamps bool `json:"timestamps"`
}

// Job is one queued unit of transcription work over a complete WAV buffer.
type Job struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Options    Options   `json:"options"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Error      string    `json:"error,omitempty"`

	Audio  []byte  `json:"-"`
	Result *Result `json:"result,omitempty"`
}

// Segment is one timed slice of recognized speech.
type Segment struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// Result is the complete output of one finished job.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	ModelID  string    `json:"model_id"`
}

// Request carries everything an engine needs to transcribe one buffer.
type Request struct {
	Audio      []byte
	ModelID    string
	ModelPath  string
	Language   string
	Timestamps bool
}

// Engine transcribes one complete WAV buffer. Implementations must check
// ctx between segments so a running job can be cancelled, and must call
// onSegment (when non-nil) for each segment as it is produced.
type Engine interface {
	Transcribe(ctx context.Context, req Request, onSegment func(Segment)) (*Result, error)
}
