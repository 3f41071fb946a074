// File: internal/loopback/energy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loopback

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/momentics/hioload-loopback/api"
)

// Energy returns the sum of squares of every signed little-endian sample in
// data. Zero means digital silence. The sum saturates at math.MaxUint64.
// A trailing partial sample is ignored.
func Energy(data []byte, format api.SampleFormat) uint64 {
	var sum uint64
	w := format.Width()
	for i := 0; i+w <= len(data); i += w {
		var v int64
		if w == 4 {
			v = int64(int32(binary.LittleEndian.Uint32(data[i:])))
		} else {
			v = int64(int16(binary.LittleEndian.Uint16(data[i:])))
		}
		sq := uint64(v * v)
		if sum > math.MaxUint64-sq {
			return math.MaxUint64
		}
		sum += sq
	}
	return sum
}

// SilencePeriods returns how many consecutive silent periods make up window
// at the given rate and period size, rounded up and never below one.
func SilencePeriods(window time.Duration, rate, periodSize int) int {
	if periodSize <= 0 || rate <= 0 || window <= 0 {
		return 1
	}
	num := int64(window) * int64(rate)
	den := int64(time.Second) * int64(periodSize)
	n := int((num + den - 1) / den)
	if n < 1 {
		n = 1
	}
	return n
}
