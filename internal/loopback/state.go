// File: internal/loopback/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loopback

import "fmt"

// State is the capture state of the engine.
type State int

const (
	// StateListening waits for audible capture data; playback is closed.
	StateListening State = iota
	// StatePlaying forwards capture data to the open playback device.
	StatePlaying
	// StateDeviceBusy follows a failed playback open. Internal only.
	StateDeviceBusy
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StatePlaying:
		return "PLAYING"
	case StateDeviceBusy:
		return "DEVICE_BUSY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
