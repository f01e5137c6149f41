package transcription

import (
	"context"
	"fmt"
	"time"

	"github.com/AkshayAD/VoiceInk-sub003/internal/audio"
)

// StubEngine produces deterministic placeholder transcripts without a real
// model. The audio is split into fixed-length windows and each window
// yields one segment, so the output depends only on the input duration.
// It backs development setups and the scheduler tests.
type StubEngine struct {
	// WindowSec is the segment length in seconds. Zero selects 2s.
	WindowSec float64

	// SegmentDelay is an optional pause before each segment, used by tests
	// to exercise cancellation of a running job.
	SegmentDelay time.Duration
}

// Transcribe implements Engine.
func (e *StubEngine) Transcribe(ctx context.Context, req Request, onSegment func(Segment)) (*Result, error) {
	duration, err := audio.Duration(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("invalid audio buffer: %w", err)
	}

	window := e.WindowSec
	if window <= 0 {
		window = 2.0
	}

	count := int(duration / window)
	if duration > float64(count)*window {
		count++
	}
	if count == 0 && duration > 0 {
		count = 1
	}

	segments := make([]Segment, 0, count)
	text := ""

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if e.SegmentDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.SegmentDelay):
			}
		}

		start := float64(i) * window
		end := start + window
		if end > duration {
			end = duration
		}

		seg := Segment{
			ID:         fmt.Sprintf("seg-%03d", i),
			Text:       fmt.Sprintf("segment %d of simulated speech", i),
			Start:      start,
			End:        end,
			Confidence: 0.95,
			Final:      i == count-1,
		}

		segments = append(segments, seg)
		if text != "" {
			text += " "
		}
		text += seg.Text

		if onSegment != nil {
			onSegment(seg)
		}
	}

	return &Result{
		Text:     text,
		Segments: segments,
		Language: orDefault(req.Language, "en"),
		Duration: duration,
		ModelID:  req.ModelID,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
