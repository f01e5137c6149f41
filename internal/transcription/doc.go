// Package transcription queues completed recordings and turns them into
// text, one job at a time. Engines plug in behind a single interface:
// a remote HTTP API for production, a deterministic stub for development
// and tests.
package transcription
