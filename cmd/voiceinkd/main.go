package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AkshayAD/VoiceInk-sub003/internal/capture"
	"github.com/AkshayAD/VoiceInk-sub003/internal/config"
	"github.com/AkshayAD/VoiceInk-sub003/internal/events"
	"github.com/AkshayAD/VoiceInk-sub003/internal/levels"
	"github.com/AkshayAD/VoiceInk-sub003/internal/metrics"
	"github.com/AkshayAD/VoiceInk-sub003/internal/model"
	"github.com/AkshayAD/VoiceInk-sub003/internal/server"
	"github.com/AkshayAD/VoiceInk-sub003/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voiceink-core"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("capture_backend", cfg.Capture.Backend),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Int("channels", cfg.Capture.Channels),
		slog.Float64("chunk_interval", cfg.Capture.ChunkInterval),
		slog.String("transcription_engine", cfg.Transcription.Engine),
		slog.String("models_dir", cfg.Models.Dir),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize the event bus
	bus := events.NewBus(cfg.Capture.EventBuffer)

	// Initialize the level analyzer
	analyzer, err := levels.NewAnalyzer(levels.Config{
		Gain:           cfg.Levels.Gain,
		HoldCycles:     cfg.Levels.HoldCycles,
		DecayPerCycle:  cfg.Levels.DecayPerCycle,
		VoiceThreshold: cfg.Levels.VoiceThreshold,
		VoiceSmoothing: cfg.Levels.VoiceSmoothing,
	})
	if err != nil {
		logger.Error("Failed to create level analyzer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the model registry
	var fetcher model.Fetcher
	switch cfg.Models.Fetcher {
	case "http":
		fetcher = model.NewHTTPFetcher(cfg.Models.GetDownloadTimeout())
	default:
		fetcher = &model.StagedFetcher{Stages: 10, Delay: 200 * time.Millisecond}
	}

	registry, err := model.NewRegistry(cfg.Models.Dir, fetcher, bus, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create model registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Model registry initialized",
		slog.String("dir", registry.Dir()),
		slog.Int("models", len(registry.List())),
	)

	if cfg.Models.Watch {
		if err := registry.Watch(ctx); err != nil {
			logger.Warn("Failed to watch models directory", slog.String("error", err.Error()))
		}
	}

	// Initialize the capture engine
	var source capture.SampleSource
	var lister capture.DeviceLister
	switch cfg.Capture.Backend {
	case "portaudio":
		source = capture.NewPortAudioSource()
		lister = &capture.PortAudioLister{}
	default:
		source = &capture.SyntheticSource{Frequency: 440, Amplitude: 0.5}
		lister = &capture.StaticLister{}
	}

	engine, err := capture.NewEngine(capture.Config{
		SampleRate:    cfg.Capture.SampleRate,
		Channels:      cfg.Capture.Channels,
		ChunkInterval: cfg.Capture.GetChunkInterval(),
	}, source, lister, analyzer, bus, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create capture engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Capture engine initialized", slog.String("backend", cfg.Capture.Backend))

	// Initialize the transcription engine and scheduler
	var transcriptionEngine transcription.Engine
	switch cfg.Transcription.Engine {
	case "http":
		transcriptionEngine, err = transcription.NewHTTPEngine(transcription.HTTPConfig{
			Endpoint:     cfg.Transcription.Endpoint,
			APIKey:       cfg.Transcription.APIKey,
			Timeout:      cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:   cfg.Transcription.MaxRetries,
			OutputFormat: cfg.Transcription.OutputFormat,
		})
		if err != nil {
			logger.Error("Failed to create transcription engine", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		transcriptionEngine = &transcription.StubEngine{}
	}

	scheduler := transcription.NewScheduler(transcriptionEngine, registry, bus, appMetrics, logger)
	scheduler.Start(ctx)
	logger.Info("Transcription scheduler started", slog.String("engine", cfg.Transcription.Engine))

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
		}
		httpServer = server.NewHTTPServer(httpConfig, logger, engine, registry, scheduler, bus, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Mirror the bus drop total into the metrics gauge
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				appMetrics.SetEventsDropped(bus.DroppedTotal())
			}
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// End any active recording session
	if engine.State() != capture.StateIdle {
		if _, err := engine.StopRecording(); err != nil {
			logger.Error("Error stopping recording", slog.String("error", err.Error()))
		}
	}

	// Stop the scheduler worker
	cancel()
	scheduler.Wait()

	// Final statistics
	logger.Info("Final service statistics",
		slog.Int("queued_jobs", scheduler.QueueDepth()),
		slog.Uint64("events_dropped", bus.DroppedTotal()),
		slog.Uint64("level_windows", analyzer.Windows()),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
