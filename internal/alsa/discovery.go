// File: internal/alsa/discovery.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package alsa

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/momentics/hioload-loopback/api"
)

// DeviceDir holds the PCM and control device nodes.
var DeviceDir = "/dev/snd"

var pcmNodeRe = regexp.MustCompile(`^pcmC(\d+)D(\d+)([cp])$`)

type pcmNode struct {
	card, device uint
}

// ListPCMs returns the hw identifiers of every PCM node for dir, ordered by
// card then device. A missing device directory yields an empty list.
func ListPCMs(dir api.Direction) ([]string, error) {
	entries, err := os.ReadDir(DeviceDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pcms: %w", err)
	}

	want := "p"
	if dir == api.Capture {
		want = "c"
	}
	var nodes []pcmNode
	for _, e := range entries {
		m := pcmNodeRe.FindStringSubmatch(e.Name())
		if m == nil || m[3] != want {
			continue
		}
		c, _ := strconv.ParseUint(m[1], 10, 32)
		d, _ := strconv.ParseUint(m[2], 10, 32)
		nodes = append(nodes, pcmNode{uint(c), uint(d)})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].card != nodes[j].card {
			return nodes[i].card < nodes[j].card
		}
		return nodes[i].device < nodes[j].device
	})

	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = DeviceName(n.card, n.device)
	}
	return out, nil
}
