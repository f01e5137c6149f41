// Package levels computes RMS and peak levels from sample windows for
// live metering, including the peak-hold-then-decay behaviour of a
// classic VU meter and a smoothed energy-based voice activity signal.
package levels
