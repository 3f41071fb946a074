// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Registration surface of the event reactor as seen by its handlers.

package api

// Registrar is the part of the reactor components need to hook themselves in.
type Registrar interface {
	// Register associates a descriptor with its handler. Fails if the fd is
	// already present.
	Register(pd PollDescriptor, h Handler) error

	// Unregister removes a previously registered descriptor.
	Unregister(pd PollDescriptor) error

	// RegisterTimeoutHandler adds a per-tick callback.
	RegisterTimeoutHandler(h TimeoutHandler)

	// UnregisterTimeoutHandler removes a per-tick callback.
	UnregisterTimeoutHandler(h TimeoutHandler) error
}
