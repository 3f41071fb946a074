// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for the loopback process.
//
// Provides concurrent-safe state handling primitives including:
//   - Counters and gauges published by the engine on the reactor goroutine
//   - Named debug probes evaluated on demand (SIGUSR1 state dump)
//   - Platform probes
package control
