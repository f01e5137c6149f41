// Package audio provides the canonical 16-bit PCM WAV codec and the
// per-session sample accumulator that collects captured float samples
// until a recording is stopped and encoded.
package audio
