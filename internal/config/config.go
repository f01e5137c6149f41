package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Capture       CaptureConfig       `yaml:"capture"`
	Levels        LevelsConfig        `yaml:"levels"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Models        ModelsConfig        `yaml:"models"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// CaptureConfig contains audio capture configuration
type CaptureConfig struct {
	Backend       string  `yaml:"backend"`        // "portaudio" or "synthetic"
	SampleRate    int     `yaml:"sample_rate"`    // Hz
	Channels      int     `yaml:"channels"`
	ChunkInterval float64 `yaml:"chunk_interval"` // seconds
	EventBuffer   int     `yaml:"event_buffer"`   // per-subscriber channel capacity
}

// LevelsConfig contains level metering configuration
type LevelsConfig struct {
	Gain           float64 `yaml:"gain"`
	HoldCycles     int     `yaml:"hold_cycles"`
	DecayPerCycle  float64 `yaml:"decay_per_cycle"`
	VoiceThreshold float64 `yaml:"voice_threshold"`
	VoiceSmoothing float64 `yaml:"voice_smoothing"`
}

// TranscriptionConfig contains transcription engine configuration
type TranscriptionConfig struct {
	Engine       string `yaml:"engine"` // "stub" or "http"
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"api_key"`
	Timeout      int    `yaml:"timeout"` // seconds
	MaxRetries   int    `yaml:"max_retries"`
	OutputFormat string `yaml:"output_format"`
}

// ModelsConfig contains model registry configuration
type ModelsConfig struct {
	Dir             string `yaml:"dir"`
	Fetcher         string `yaml:"fetcher"`          // "http" or "staged"
	DownloadTimeout int    `yaml:"download_timeout"` // seconds
	Watch           bool   `yaml:"watch"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Levels.Validate(); err != nil {
		return fmt.Errorf("levels config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("models config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	validBackends := map[string]bool{"portaudio": true, "synthetic": true}
	if !validBackends[c.Backend] {
		return fmt.Errorf("backend must be 'portaudio' or 'synthetic', got '%s'", c.Backend)
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}

	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}

	if c.ChunkInterval < 0.05 || c.ChunkInterval > 0.1 {
		return fmt.Errorf("chunk_interval must be between 0.05 and 0.1 seconds, got %f", c.ChunkInterval)
	}

	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer cannot be negative, got %d", c.EventBuffer)
	}

	return nil
}

// Validate validates level metering configuration
func (l *LevelsConfig) Validate() error {
	if l.Gain < 0 {
		return fmt.Errorf("gain cannot be negative, got %f", l.Gain)
	}

	if l.HoldCycles < 0 {
		return fmt.Errorf("hold_cycles cannot be negative, got %d", l.HoldCycles)
	}

	if l.DecayPerCycle < 0 || l.DecayPerCycle > 1 {
		return fmt.Errorf("decay_per_cycle must be between 0 and 1, got %f", l.DecayPerCycle)
	}

	if l.VoiceThreshold < 0 || l.VoiceThreshold > 1 {
		return fmt.Errorf("voice_threshold must be between 0 and 1, got %f", l.VoiceThreshold)
	}

	if l.VoiceSmoothing < 0 || l.VoiceSmoothing >= 1 {
		return fmt.Errorf("voice_smoothing must be between 0 and 1 (exclusive), got %f", l.VoiceSmoothing)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	validEngines := map[string]bool{"stub": true, "http": true}
	if !validEngines[t.Engine] {
		return fmt.Errorf("engine must be 'stub' or 'http', got '%s'", t.Engine)
	}

	if t.Engine == "http" {
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}

		if t.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
		}
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.OutputFormat != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[t.OutputFormat] {
			return fmt.Errorf("output_format must be 'json' or 'text', got '%s'", t.OutputFormat)
		}
	}

	return nil
}

// Validate validates model registry configuration
func (m *ModelsConfig) Validate() error {
	if m.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	validFetchers := map[string]bool{"http": true, "staged": true}
	if !validFetchers[m.Fetcher] {
		return fmt.Errorf("fetcher must be 'http' or 'staged', got '%s'", m.Fetcher)
	}

	if m.DownloadTimeout < 1 {
		return fmt.Errorf("download_timeout must be at least 1 second, got %d", m.DownloadTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkInterval returns the chunk interval as a time.Duration
func (c *CaptureConfig) GetChunkInterval() time.Duration {
	return time.Duration(c.ChunkInterval * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetDownloadTimeout returns the download timeout as a time.Duration
func (m *ModelsConfig) GetDownloadTimeout() time.Duration {
	return time.Duration(m.DownloadTimeout) * time.Second
}
