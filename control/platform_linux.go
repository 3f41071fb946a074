//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probe integrations.

package control

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// RegisterPlatformProbes sets Linux-specific debug probes. The process
// probes report the error text when /proc cannot be read.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.pid", func() any {
		return os.Getpid()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})

	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	dp.RegisterProbe("platform.rss_bytes", func() any {
		mem, err := self.MemoryInfo()
		if err != nil {
			return err.Error()
		}
		return mem.RSS
	})
	dp.RegisterProbe("platform.cpu_percent", func() any {
		pct, err := self.CPUPercent()
		if err != nil {
			return err.Error()
		}
		return pct
	})
}
