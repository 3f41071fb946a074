// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded readiness reactor that drives
// the loopback engine: a Poller backend (epoll on Linux) plus dispatch of
// readiness events to registered handlers and of periodic ticks to timeout
// handlers.
package reactor
