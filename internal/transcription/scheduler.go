package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
	"github.com/AkshayAD/VoiceInk-sub003/internal/model"
)

// Scheduler runs transcription jobs strictly one at a time in FIFO order.
// Jobs are enqueued without blocking; the model is resolved when a job
// reaches the front of the queue, so a selection made after Enqueue still
// applies. A failed job is terminal, the scheduler moves on to the next.
type Scheduler struct {
	engine   Engine
	registry *model.Registry
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []*Job
	jobs    map[string]*Job
	running string
	cancels map[string]context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler over the given engine and model
// registry. Call Start to begin processing.
func NewScheduler(engine Engine, registry *model.Registry, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		registry: registry,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		jobs:     make(map[string]*Job),
		cancels:  make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the worker goroutine. It processes jobs until ctx is
// cancelled; Wait blocks until the worker exits.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the worker goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Enqueue adds a complete WAV buffer to the queue and returns the job ID.
// It never blocks on running work.
func (s *Scheduler) Enqueue(audio []byte, opts Options) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio buffer cannot be empty")
	}

	job := &Job{
		ID:         uuid.New().String(),
		Status:     StatusQueued,
		Options:    opts,
		EnqueuedAt: time.Now(),
		Audio:      audio,
	}

	s.mu.Lock()
	s.queue = append(s.queue, job)
	s.jobs[job.ID] = job
	depth := len(s.queue)
	s.mu.Unlock()

	s.metrics.SetQueueDepth(depth)

	s.logger.Info("Transcription job queued",
		"job_id", job.ID,
		"audio_bytes", len(audio),
		"queue_depth", depth)

	s.signal()

	return job.ID, nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return *job, nil
}

// Jobs returns a snapshot of every known job, most recent first.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].EnqueuedAt.After(out[j-1].EnqueuedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	return out
}

// Cancel cancels one job. A queued job is removed from the queue; a
// running job has its context cancelled and finishes as Cancelled.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()

	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	switch job.Status {
	case StatusQueued:
		for i, queued := range s.queue {
			if queued.ID == id {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
		job.Status = StatusCancelled
		job.Audio = nil
		depth := len(s.queue)
		s.mu.Unlock()

		s.metrics.SetQueueDepth(depth)
		s.metrics.RecordJob(string(StatusCancelled))
		s.logger.Info("Queued job cancelled", "job_id", id)
		return nil

	case StatusRunning:
		cancel := s.cancels[id]
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.logger.Info("Running job cancellation requested", "job_id", id)
		return nil

	default:
		s.mu.Unlock()
		return fmt.Errorf("job %s already finished with status %s", id, job.Status)
	}
}

// ClearQueue removes every queued job and returns how many were removed.
// The running job, if any, is unaffected.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()

	cleared := len(s.queue)
	for _, job := range s.queue {
		job.Status = StatusCancelled
		job.Audio = nil
	}
	s.queue = nil
	s.mu.Unlock()

	s.metrics.SetQueueDepth(0)

	if cleared > 0 {
		s.logger.Info("Transcription queue cleared", "removed", cleared)
	}

	return cleared
}

// QueueDepth returns the number of queued jobs, excluding the running one.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running returns the ID of the running job, or empty when idle.
func (s *Scheduler) Running() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		job := s.dequeue()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		s.process(ctx, job)
	}
}

// dequeue pops the head of the queue and marks it running, or returns nil
// when the queue is empty.
func (s *Scheduler) dequeue() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}

	job := s.queue[0]
	s.queue = s.queue[1:]
	s.running = job.ID

	return job
}

func (s *Scheduler) process(ctx context.Context, job *Job) {
	started := time.Now()

	current, ok := s.registry.Current()
	if !ok {
		s.finishFailed(job, ErrNoModelSelected)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	job.Status = StatusRunning
	s.cancels[job.ID] = cancel
	depth := len(s.queue)
	s.mu.Unlock()

	s.metrics.SetQueueDepth(depth)

	s.logger.Info("Transcription job started",
		"job_id", job.ID,
		"model_id", current.ID)

	onSegment := func(seg Segment) {
		s.bus.TranscriptionProgress.Publish(events.TranscriptionProgress{
			JobID:   job.ID,
			Segment: toEventSegment(seg),
		})
	}

	req := Request{
		Audio:      job.Audio,
		ModelID:    current.ID,
		ModelPath:  current.LocalPath,
		Language:   job.Options.Language,
		Timestamps: job.Options.Timestamps,
	}

	result, err := s.engine.Transcribe(jobCtx, req, onSegment)

	cancel()

	s.mu.Lock()
	delete(s.cancels, job.ID)
	s.running = ""
	s.mu.Unlock()

	if err != nil {
		if jobCtx.Err() != nil && ctx.Err() == nil {
			s.finishCancelled(job)
			return
		}
		s.finishFailed(job, err)
		return
	}

	s.mu.Lock()
	job.Status = StatusCompleted
	job.Result = result
	job.Audio = nil
	s.mu.Unlock()

	s.metrics.RecordJob(string(StatusCompleted))
	s.metrics.ObserveJobDuration(time.Since(started).Seconds())

	eventSegments := make([]events.Segment, len(result.Segments))
	for i, seg := range result.Segments {
		eventSegments[i] = toEventSegment(seg)
	}

	s.bus.TranscriptionCompleted.Publish(events.TranscriptionCompleted{
		JobID:       job.ID,
		Text:        result.Text,
		Segments:    eventSegments,
		Language:    result.Language,
		DurationSec: result.Duration,
		ModelID:     result.ModelID,
	})

	s.logger.Info("Transcription job completed",
		"job_id", job.ID,
		"segments", len(result.Segments),
		"elapsed", time.Since(started))
}

func (s *Scheduler) finishFailed(job *Job, err error) {
	s.mu.Lock()
	job.Status = StatusFailed
	job.Error = err.Error()
	job.Audio = nil
	s.running = ""
	s.mu.Unlock()

	s.metrics.RecordJob(string(StatusFailed))

	s.bus.TranscriptionFailed.Publish(events.TranscriptionFailed{
		JobID: job.ID,
		Error: err.Error(),
	})

	s.logger.Error("Transcription job failed",
		"job_id", job.ID,
		"error", err)
}

func (s *Scheduler) finishCancelled(job *Job) {
	s.mu.Lock()
	job.Status = StatusCancelled
	job.Audio = nil
	s.running = ""
	s.mu.Unlock()

	s.metrics.RecordJob(string(StatusCancelled))

	s.logger.Info("Transcription job cancelled", "job_id", job.ID)
}

func toEventSegment(seg Segment) events.Segment {
	return events.Segment{
		ID:         seg.ID,
		Text:       seg.Text,
		StartSec:   seg.Start,
		EndSec:     seg.End,
		Confidence: seg.Confidence,
		Final:      seg.Final,
	}
}
