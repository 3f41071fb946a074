// Package api
// Author: momentics
//
// Readiness masks and poll descriptors shared by the reactor and its handlers.

package api

import "strings"

// EventMask is a bitset of readiness conditions on a descriptor.
type EventMask uint32

const (
	EventReadable EventMask = 1 << iota
	EventWritable
	EventError
	EventHangup
	EventInvalid
)

// EventFaults groups the conditions that are logged but never fatal to the loop.
const EventFaults = EventError | EventHangup | EventInvalid

var maskNames = []struct {
	bit  EventMask
	name string
}{
	{EventReadable, "POLLIN"},
	{EventWritable, "POLLOUT"},
	{EventError, "POLLERR"},
	{EventHangup, "POLLHUP"},
	{EventInvalid, "POLLNVAL"},
}

// Has reports whether every bit of other is set in m.
func (m EventMask) Has(other EventMask) bool {
	return m&other == other
}

// String renders the mask as POLLIN|POLLERR style names.
func (m EventMask) String() string {
	var parts []string
	for _, n := range maskNames {
		if m&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// PollDescriptor identifies one I/O source to the reactor. It is created once
// per device or control and never modified afterwards.
type PollDescriptor struct {
	Name string
	Fd   int
	Mask EventMask
}

// PollEvent is one readiness notification reported by a Poller.
type PollEvent struct {
	Fd   int
	Mask EventMask
}
