// Package server exposes the capture core over HTTP: a REST API for
// recording, model and transcription control, a websocket event stream
// and Prometheus metrics.
package server
