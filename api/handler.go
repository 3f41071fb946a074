// File: api/handler.go
// Package api defines the reactor handler contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler reacts to readiness of a registered descriptor. The return value is
// a hint for logging only; the reactor never unregisters on it.
type Handler interface {
	HandleEvent(fd int, mask EventMask, name string) bool
}

// TimeoutHandler is invoked once per reactor tick.
type TimeoutHandler interface {
	HandleTimeout()
}
