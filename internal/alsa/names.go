// File: internal/alsa/names.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Device and mixer name parsing.

package alsa

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/momentics/hioload-loopback/api"
)

// CardsFile lists the sound cards known to the kernel.
var CardsFile = "/proc/asound/cards"

// deviceRe accepts hw:0,1 plughw:Loopback,1 hw:CARD=Gadget,DEV=0 and an
// optional trailing subdevice, which is ignored.
var deviceRe = regexp.MustCompile(`^(?:[a-zA-Z_]+:)(?:CARD=)?([A-Za-z0-9_]+)(?:,(?:DEV=)?(\d+))?(?:,(\d+))?$`)

var cardLineRe = regexp.MustCompile(`^\s*(\d+)\s+\[(\S+?)\s*\]`)

// ParseDeviceName resolves an ALSA device identifier to card and device
// numbers. Card names are looked up in CardsFile.
func ParseDeviceName(name string) (card, device uint, err error) {
	m := deviceRe.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return 0, 0, fmt.Errorf("device %q: %w", name, api.ErrInvalidArgument)
	}
	card, err = resolveCard(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("device %q: %w", name, err)
	}
	if m[2] != "" {
		d, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("device %q: %w", name, api.ErrInvalidArgument)
		}
		device = uint(d)
	}
	return card, device, nil
}

// DeviceName formats the hw identifier of card and device.
func DeviceName(card, device uint) string {
	return fmt.Sprintf("hw:%d,%d", card, device)
}

func resolveCard(id string) (uint, error) {
	if n, err := strconv.ParseUint(id, 10, 32); err == nil {
		return uint(n), nil
	}
	f, err := os.Open(CardsFile)
	if err != nil {
		return 0, fmt.Errorf("resolve card %q: %w", id, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := cardLineRe.FindStringSubmatch(sc.Text())
		if m != nil && strings.EqualFold(m[2], id) {
			n, _ := strconv.Atoi(m[1])
			return uint(n), nil
		}
	}
	return 0, fmt.Errorf("card %q: %w", id, api.ErrNotFound)
}

// MixerSpec names a mixer element and optionally the card holding it.
type MixerSpec struct {
	Control string
	Card    uint
	HasCard bool
}

func (s MixerSpec) String() string {
	if s.HasCard {
		return fmt.Sprintf("%s:%d", s.Control, s.Card)
	}
	return s.Control
}

var mixerRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9 _-]*?)(?::([0-9]+))?$`)

// ParseMixerSpec parses "Control" or "Control:card", e.g. "Digital:2".
func ParseMixerSpec(s string) (MixerSpec, error) {
	m := mixerRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return MixerSpec{}, fmt.Errorf("mixer %q: %w", s, api.ErrInvalidMixerSpec)
	}
	spec := MixerSpec{Control: m[1]}
	if m[2] != "" {
		n, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return MixerSpec{}, fmt.Errorf("mixer %q: %w", s, api.ErrInvalidMixerSpec)
		}
		spec.Card = uint(n)
		spec.HasCard = true
	}
	return spec, nil
}

// toPercent maps a raw element value to 0..100, rounding to nearest.
func toPercent(v, lo, hi int64) int {
	if hi <= lo {
		return 0
	}
	if v <= lo {
		return 0
	}
	if v >= hi {
		return 100
	}
	return int(((v-lo)*100 + (hi-lo)/2) / (hi - lo))
}

// fromPercent maps 0..100 back into the element range.
func fromPercent(p int, lo, hi int64) int64 {
	if p <= 0 {
		return lo
	}
	if p >= 100 {
		return hi
	}
	return lo + (int64(p)*(hi-lo)+50)/100
}
