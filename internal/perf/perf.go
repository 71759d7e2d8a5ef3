// Package perf collects the observability counters served by /stats:
// frame throughput plus process and host resource usage.
package perf

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one point-in-time stats reading.
type Snapshot struct {
	UptimeSeconds       float64 `json:"uptimeSeconds"`
	FramesServedWeb     uint64  `json:"framesServedWeb"`
	FramesServedDesktop uint64  `json:"framesServedDesktop"`
	CPUPercent          float64 `json:"cpuPercent"`
	RSSBytes            uint64  `json:"rssBytes"`
	HostMemUsedPercent  float64 `json:"hostMemUsedPercent"`
}

type Collector struct {
	startedAt time.Time
	proc      *process.Process

	servedWeb     atomic.Uint64
	servedDesktop atomic.Uint64
}

func NewCollector() *Collector {
	c := &Collector{startedAt: time.Now()}
	// Best effort: stats degrade to zeros if the platform refuses.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// FrameServedWeb records one MJPEG part written to a browser viewer.
func (c *Collector) FrameServedWeb() {
	c.servedWeb.Add(1)
}

// FrameServedDesktop records one length-prefixed frame written to a native
// viewer.
func (c *Collector) FrameServedDesktop() {
	c.servedDesktop.Add(1)
}

// Sample reads counters and current resource usage. Resource probes that
// fail leave their fields at zero rather than failing the whole snapshot.
func (c *Collector) Sample() Snapshot {
	snap := Snapshot{
		UptimeSeconds:       time.Since(c.startedAt).Seconds(),
		FramesServedWeb:     c.servedWeb.Load(),
		FramesServedDesktop: c.servedDesktop.Load(),
	}

	if c.proc != nil {
		if pct, err := c.proc.CPUPercent(); err == nil {
			snap.CPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil && mi != nil {
			snap.RSSBytes = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		snap.HostMemUsedPercent = vm.UsedPercent
	}
	return snap
}
