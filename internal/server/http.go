package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AkshayAD/VoiceInk-sub003/internal/capture"
	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
	"github.com/AkshayAD/VoiceInk-sub003/internal/model"
	"github.com/AkshayAD/VoiceInk-sub003/internal/transcription"
)

// HTTPServer provides the REST and websocket API over the capture core
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	engine    *capture.Engine
	registry  *model.Registry
	scheduler *transcription.Scheduler
	bus       *events.Bus
	metrics   *metrics.Metrics

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	engine *capture.Engine, registry *model.Registry,
	scheduler *transcription.Scheduler, bus *events.Bus, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		engine:    engine,
		registry:  registry,
		scheduler: scheduler,
		bus:       bus,
		metrics:   m,
		startTime: time.Now(),
	}

	router := mux.NewRouter()
	h.setupRoutes(router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(router *mux.Router) {
	// Health and status
	router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	router.HandleFunc("/status", h.withMetrics("/status", h.handleStatus)).Methods(http.MethodGet)

	// Devices
	router.HandleFunc("/devices", h.withMetrics("/devices", h.handleDevices)).Methods(http.MethodGet)
	router.HandleFunc("/devices/select", h.withMetrics("/devices/select", h.handleDeviceSelect)).Methods(http.MethodPost)

	// Recording lifecycle
	router.HandleFunc("/recording/start", h.withMetrics("/recording/start", h.handleStart)).Methods(http.MethodPost)
	router.HandleFunc("/recording/pause", h.withMetrics("/recording/pause", h.handlePause)).Methods(http.MethodPost)
	router.HandleFunc("/recording/resume", h.withMetrics("/recording/resume", h.handleResume)).Methods(http.MethodPost)
	router.HandleFunc("/recording/stop", h.withMetrics("/recording/stop", h.handleStop)).Methods(http.MethodPost)

	// Models
	router.HandleFunc("/models", h.withMetrics("/models", h.handleModels)).Methods(http.MethodGet)
	router.HandleFunc("/models/{id}/download", h.withMetrics("/models/{id}/download", h.handleModelDownload)).Methods(http.MethodPost)
	router.HandleFunc("/models/{id}/select", h.withMetrics("/models/{id}/select", h.handleModelSelect)).Methods(http.MethodPost)
	router.HandleFunc("/models/selection", h.withMetrics("/models/selection", h.handleClearSelection)).Methods(http.MethodDelete)

	// Transcription jobs
	router.HandleFunc("/transcriptions", h.withMetrics("/transcriptions", h.handleJobs)).Methods(http.MethodGet)
	router.HandleFunc("/transcriptions", h.withMetrics("/transcriptions", h.handleClearQueue)).Methods(http.MethodDelete)
	router.HandleFunc("/transcriptions/{id}", h.withMetrics("/transcriptions/{id}", h.handleJobDetail)).Methods(http.MethodGet)
	router.HandleFunc("/transcriptions/{id}", h.withMetrics("/transcriptions/{id}", h.handleJobCancel)).Methods(http.MethodDelete)

	// Event stream
	router.HandleFunc("/events", h.handleEvents)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voiceink-core",
			"version": "1.0.0",
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	current, selected := h.registry.Current()

	status := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"recording": map[string]interface{}{
			"state":       string(h.engine.State()),
			"session_id":  h.engine.SessionID(),
			"elapsed_sec": h.engine.Elapsed().Seconds(),
		},
		"transcription": map[string]interface{}{
			"queue_depth": h.scheduler.QueueDepth(),
			"running_job": h.scheduler.Running(),
		},
		"events": map[string]interface{}{
			"dropped_total": h.bus.DroppedTotal(),
		},
	}

	if selected {
		status["model"] = map[string]interface{}{
			"id":   current.ID,
			"name": current.Name,
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// handleDevices implements the /devices endpoint
func (h *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.engine.Devices()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	response := map[string]interface{}{
		"devices": devices,
	}

	if selected, err := h.engine.SelectedDevice(); err == nil {
		response["selected"] = selected.ID
	}

	writeJSON(w, http.StatusOK, response)
}

// deviceSelectRequest is the body of POST /devices/select
type deviceSelectRequest struct {
	DeviceID string `json:"device_id"`
}

// handleDeviceSelect implements POST /devices/select
func (h *HTTPServer) handleDeviceSelect(w http.ResponseWriter, r *http.Request) {
	var req deviceSelectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	device, err := h.engine.SelectDevice(req.DeviceID)
	if err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": device,
	})
}

// startRequest is the body of POST /recording/start
type startRequest struct {
	DeviceID string          `json:"device_id"`
	Options  capture.Options `json:"options"`
}

// handleStart implements POST /recording/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	sessionID, err := h.engine.StartRecording(req.DeviceID, req.Options)
	if err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sessionID,
		"state":      string(h.engine.State()),
	})
}

// handlePause implements POST /recording/pause
func (h *HTTPServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(); err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": string(h.engine.State()),
	})
}

// handleResume implements POST /recording/resume
func (h *HTTPServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(); err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": string(h.engine.State()),
	})
}

// stopRequest is the body of POST /recording/stop
type stopRequest struct {
	// Transcribe enqueues the recording for transcription. Defaults to
	// true.
	Transcribe *bool                 `json:"transcribe,omitempty"`
	Options    transcription.Options `json:"options"`
}

// handleStop implements POST /recording/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	buffer, err := h.engine.StopRecording()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	if buffer == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state": string(capture.StateIdle),
		})
		return
	}

	response := map[string]interface{}{
		"state":        string(capture.StateIdle),
		"session_id":   buffer.SessionID,
		"duration_sec": buffer.DurationSec,
		"wav_bytes":    len(buffer.Data),
	}

	transcribe := req.Transcribe == nil || *req.Transcribe
	if transcribe {
		jobID, err := h.scheduler.Enqueue(buffer.Data, req.Options)
		if err != nil {
			h.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		response["job_id"] = jobID
	}

	writeJSON(w, http.StatusOK, response)
}

// handleModels implements GET /models
func (h *HTTPServer) handleModels(w http.ResponseWriter, r *http.Request) {
	models := h.registry.List()

	response := map[string]interface{}{
		"models": models,
	}

	if current, ok := h.registry.Current(); ok {
		response["selected"] = current.ID
	}

	writeJSON(w, http.StatusOK, response)
}

// handleModelDownload implements POST /models/{id}/download
func (h *HTTPServer) handleModelDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// The download outlives the request, so it must not inherit the
	// request context.
	started, err := h.registry.Download(context.Background(), id)
	if err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	status := http.StatusAccepted
	if !started {
		status = http.StatusOK
	}

	writeJSON(w, status, map[string]interface{}{
		"model_id": id,
		"started":  started,
	})
}

// handleModelSelect implements POST /models/{id}/select
func (h *HTTPServer) handleModelSelect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.registry.Select(id); err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": id,
	})
}

// handleClearSelection implements DELETE /models/selection
func (h *HTTPServer) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	h.registry.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// handleJobs implements GET /transcriptions
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.Jobs()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(jobs),
		"jobs":  jobs,
	})
}

// handleClearQueue implements DELETE /transcriptions
func (h *HTTPServer) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	removed := h.scheduler.ClearQueue()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}

// handleJobDetail implements GET /transcriptions/{id}
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.scheduler.Job(id)
	if err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleJobCancel implements DELETE /transcriptions/{id}
func (h *HTTPServer) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.scheduler.Cancel(id); err != nil {
		h.writeError(w, r, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    id,
		"cancelled": true,
	})
}

func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.logger.Warn("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err)

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errStatus maps domain errors to HTTP status codes
func errStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrAlreadyRecording),
		errors.Is(err, capture.ErrNotRecording),
		errors.Is(err, model.ErrModelNotDownloaded):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceNotFound),
		errors.Is(err, model.ErrModelNotFound),
		errors.Is(err, transcription.ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
