package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice capture core
type Metrics struct {
	// Recording session metrics
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	RecordingDuration   prometheus.Histogram
	RecordingActive     prometheus.Gauge

	// Capture pipeline metrics
	ChunksCaptured  prometheus.Counter
	SamplesCaptured prometheus.Counter
	CaptureOverruns prometheus.Counter
	EncodeFailures  prometheus.Counter

	// Level analysis metrics
	LevelWindowsProcessed prometheus.Counter
	VoiceWindowsDetected  prometheus.Counter

	// Transcription metrics
	TranscriptionJobs        *prometheus.CounterVec
	TranscriptionQueueDepth  prometheus.Gauge
	TranscriptionJobDuration prometheus.Histogram

	// Model download metrics
	ModelDownloads *prometheus.CounterVec

	// Event bus metrics
	EventsDropped prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them on the default
// Prometheus registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics against the given registerer. Tests
// pass a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Recording session metrics
		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_recordings_started_total",
			Help: "Total number of recording sessions started",
		}),
		RecordingsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_recordings_completed_total",
			Help: "Total number of recording sessions completed with a WAV buffer",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceink_recording_duration_seconds",
			Help:    "Duration of completed recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		RecordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voiceink_recording_active",
			Help: "Whether a recording session is currently active (0 or 1)",
		}),

		// Capture pipeline metrics
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_capture_chunks_total",
			Help: "Total number of audio chunks captured",
		}),
		SamplesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_capture_samples_total",
			Help: "Total number of audio samples captured",
		}),
		CaptureOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_capture_overruns_total",
			Help: "Total number of chunks dropped because the pipeline fell behind",
		}),
		EncodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_encode_failures_total",
			Help: "Total number of WAV encoding failures at session stop",
		}),

		// Level analysis metrics
		LevelWindowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_level_windows_processed_total",
			Help: "Total number of level analysis windows processed",
		}),
		VoiceWindowsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceink_level_voice_windows_total",
			Help: "Total number of windows classified as containing voice",
		}),

		// Transcription metrics
		TranscriptionJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceink_transcription_jobs_total",
			Help: "Total number of transcription jobs by terminal status",
		}, []string{"status"}),
		TranscriptionQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voiceink_transcription_queue_depth",
			Help: "Current number of queued transcription jobs",
		}),
		TranscriptionJobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceink_transcription_job_duration_seconds",
			Help:    "Wall time of completed transcription jobs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Model download metrics
		ModelDownloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceink_model_downloads_total",
			Help: "Total number of model downloads by outcome",
		}, []string{"outcome"}),

		// Event bus metrics
		EventsDropped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voiceink_events_dropped_total",
			Help: "Total number of events dropped due to slow subscribers",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceink_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceink_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordRecordingStarted increments the started counter and flags the
// active gauge
func (m *Metrics) RecordRecordingStarted() {
	m.RecordingsStarted.Inc()
	m.RecordingActive.Set(1)
}

// RecordRecordingCompleted records a completed session and clears the
// active gauge
func (m *Metrics) RecordRecordingCompleted(durationSeconds float64) {
	m.RecordingsCompleted.Inc()
	m.RecordingDuration.Observe(durationSeconds)
	m.RecordingActive.Set(0)
}

// RecordRecordingEnded clears the active gauge without counting a
// completed session
func (m *Metrics) RecordRecordingEnded() {
	m.RecordingActive.Set(0)
}

// RecordChunk records one captured audio chunk
func (m *Metrics) RecordChunk(samples int) {
	m.ChunksCaptured.Inc()
	m.SamplesCaptured.Add(float64(samples))
}

// RecordOverruns adds dropped chunks to the capture overrun counter
func (m *Metrics) RecordOverruns(count int) {
	m.CaptureOverruns.Add(float64(count))
}

// RecordEncodeFailure increments the WAV encode failure counter
func (m *Metrics) RecordEncodeFailure() {
	m.EncodeFailures.Inc()
}

// RecordLevelWindow records one analyzed window
func (m *Metrics) RecordLevelWindow(hasVoice bool) {
	m.LevelWindowsProcessed.Inc()
	if hasVoice {
		m.VoiceWindowsDetected.Inc()
	}
}

// RecordJob records a transcription job reaching a terminal status
func (m *Metrics) RecordJob(status string) {
	m.TranscriptionJobs.WithLabelValues(status).Inc()
}

// SetQueueDepth sets the current transcription queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.TranscriptionQueueDepth.Set(float64(depth))
}

// ObserveJobDuration records the wall time of a completed job
func (m *Metrics) ObserveJobDuration(durationSeconds float64) {
	m.TranscriptionJobDuration.Observe(durationSeconds)
}

// RecordDownload records a model download outcome ("completed" or "failed")
func (m *Metrics) RecordDownload(outcome string) {
	m.ModelDownloads.WithLabelValues(outcome).Inc()
}

// SetEventsDropped publishes the bus-wide dropped event total
func (m *Metrics) SetEventsDropped(total uint64) {
	m.EventsDropped.Set(float64(total))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
