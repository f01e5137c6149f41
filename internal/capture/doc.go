// Package capture records audio from a sample source into an in-memory
// session buffer, metering levels as it goes. Sources plug in behind one
// interface: PortAudio for real devices, a synthetic generator for
// development and tests.
package capture
