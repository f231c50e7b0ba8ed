// Package quality computes streaming quality decisions from bandwidth and
// buffer-health observations. A pure Go Reference implementation and a
// WebAssembly Accelerated implementation produce identical results; Select
// picks one at startup.
package quality
