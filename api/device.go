// File: api/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Audio device capabilities consumed by the loopback engine. Concrete
// implementations live in internal/alsa and internal/wavsink; tests use fake.

package api

import "fmt"

// DeviceState mirrors the hardware state of a PCM stream.
type DeviceState int

const (
	DeviceOpen DeviceState = iota
	DeviceSetup
	DevicePrepared
	DeviceRunning
	DeviceXrun
	DeviceDraining
	DevicePaused
	DeviceSuspended
	DeviceDisconnected
)

func (s DeviceState) String() string {
	switch s {
	case DeviceOpen:
		return "OPEN"
	case DeviceSetup:
		return "SETUP"
	case DevicePrepared:
		return "PREPARED"
	case DeviceRunning:
		return "RUNNING"
	case DeviceXrun:
		return "XRUN"
	case DeviceDraining:
		return "DRAINING"
	case DevicePaused:
		return "PAUSED"
	case DeviceSuspended:
		return "SUSPENDED"
	case DeviceDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// SampleFormat is the interleaved little-endian sample encoding of a stream.
type SampleFormat int

const (
	FormatS16LE SampleFormat = iota
	FormatS32LE
)

// Width returns the size of one sample in bytes.
func (f SampleFormat) Width() int {
	if f == FormatS32LE {
		return 4
	}
	return 2
}

func (f SampleFormat) String() string {
	if f == FormatS32LE {
		return "s32_le"
	}
	return "s16_le"
}

// ParseSampleFormat accepts the names produced by SampleFormat.String.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "", "s16_le", "S16_LE":
		return FormatS16LE, nil
	case "s32_le", "S32_LE":
		return FormatS32LE, nil
	}
	return FormatS16LE, fmt.Errorf("sample format %q: %w", s, ErrInvalidArgument)
}

// Direction selects the capture or playback side of a device or mixer.
type Direction int

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// StreamConfig is the hardware configuration used to open a PCM stream.
type StreamConfig struct {
	Device      string
	Rate        int
	Channels    int
	Format      SampleFormat
	PeriodSize  int // frames
	PeriodCount int
}

// FrameSize returns the number of bytes per interleaved frame.
func (c StreamConfig) FrameSize() int {
	return c.Channels * c.Format.Width()
}

// PeriodBytes returns the number of bytes in one period.
func (c StreamConfig) PeriodBytes() int {
	return c.PeriodSize * c.FrameSize()
}

// CaptureDevice is a non-blocking capture handle.
type CaptureDevice interface {
	// Read returns the frames currently available; an empty result with a nil
	// error means nothing was ready.
	Read() ([]byte, error)
	// Descriptor returns the readiness descriptor of the handle.
	Descriptor(name string) (PollDescriptor, error)
	// State reports the current hardware state.
	State() DeviceState
	// Drop discards pending frames and restarts the stream after an error.
	Drop() error
	Close() error
}

// PlaybackDevice is a non-blocking playback handle.
type PlaybackDevice interface {
	// Write queues p and returns the number of bytes accepted, which may be
	// less than len(p). An underrun is reported as ErrXrun.
	Write(p []byte) (int, error)
	// Avail returns the free space of the device buffer in frames.
	Avail() (int, error)
	Close() error
}

// OpenStatus tags the outcome of a playback open attempt.
type OpenStatus int

const (
	Opened OpenStatus = iota
	OpenBusy
	OpenFailed
)

func (s OpenStatus) String() string {
	switch s {
	case Opened:
		return "opened"
	case OpenBusy:
		return "busy"
	default:
		return "failed"
	}
}

// OpenResult is the tagged result of PlaybackOpener.Open: Device is set only
// when Status is Opened, Err only otherwise.
type OpenResult struct {
	Status OpenStatus
	Device PlaybackDevice
	Err    error
}

// PlaybackOpener opens the configured playback device on demand.
type PlaybackOpener interface {
	Open() OpenResult
	// PeriodSize is the playback period in frames.
	PeriodSize() int
	// PeriodCount is the number of periods in the device buffer.
	PeriodCount() int
}

// AllChannels addresses every channel of a volume control.
const AllChannels = -1

// VolumeControl is a hardware mixer element.
type VolumeControl interface {
	// Volume returns per-channel percentages for the given direction.
	Volume(dir Direction) ([]int, error)
	// SetVolume applies percent to one channel or AllChannels.
	SetVolume(percent int, channel int) error
	// AcknowledgeEvents consumes pending change notifications.
	AcknowledgeEvents() error
}
