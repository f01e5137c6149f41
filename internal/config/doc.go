// Package config provides configuration loading and validation for the
// voice capture daemon. It handles YAML-based configuration with struct
// validation covering the HTTP API, capture pipeline, level metering,
// transcription and model registry sections.
package config
