package diagnostics

import (
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const hostCacheTTL = 2 * time.Second

// MemorySnapshot describes memory usage at one instant. Heap figures come
// from the Go runtime; host and process figures are best effort and stay
// zero when unavailable.
type MemorySnapshot struct {
	HeapUsedMB      float64 `json:"heap_used_mb" yaml:"heap_used_mb"`
	HeapCommittedMB float64 `json:"heap_committed_mb" yaml:"heap_committed_mb"`

	// HeapMaxMB is the runtime soft memory limit, or total host memory when
	// no limit is set.
	HeapMaxMB    float64   `json:"heap_max_mb" yaml:"heap_max_mb"`
	ProcessRSSMB float64   `json:"process_rss_mb" yaml:"process_rss_mb"`
	HostTotalMB  float64   `json:"host_total_mb" yaml:"host_total_mb"`
	HostUsedPct  float64   `json:"host_used_percent" yaml:"host_used_percent"`
	Goroutines   int       `json:"goroutines" yaml:"goroutines"`
	CollectedAt  time.Time `json:"collected_at" yaml:"collected_at"`
}

// MemoryCollector produces MemorySnapshots.
type MemoryCollector struct {
	mu       sync.Mutex
	proc     *process.Process
	lastHost time.Time
	host     hostMemory
	now      func() time.Time
}

type hostMemory struct {
	totalMB float64
	usedPct float64
	rssMB   float64
}

// NewMemoryCollector creates a collector for the current process.
func NewMemoryCollector() *MemoryCollector {
	c := &MemoryCollector{now: time.Now}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		c.proc = p
	}
	return c
}

// Snapshot gathers current memory statistics.
func (c *MemoryCollector) Snapshot() MemorySnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.mu.Lock()
	host := c.hostLocked()
	c.mu.Unlock()

	snap := MemorySnapshot{
		HeapUsedMB:      toMB(ms.HeapAlloc),
		HeapCommittedMB: toMB(ms.HeapSys),
		ProcessRSSMB:    host.rssMB,
		HostTotalMB:     host.totalMB,
		HostUsedPct:     host.usedPct,
		Goroutines:      runtime.NumGoroutine(),
		CollectedAt:     c.now(),
	}

	// A negative argument reads the limit without changing it.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		snap.HeapMaxMB = toMB(uint64(limit))
	} else {
		snap.HeapMaxMB = host.totalMB
	}
	return snap
}

func (c *MemoryCollector) hostLocked() hostMemory {
	now := c.now()
	if !c.lastHost.IsZero() && now.Sub(c.lastHost) < hostCacheTTL {
		return c.host
	}

	var h hostMemory
	if vm, err := mem.VirtualMemory(); err == nil {
		h.totalMB = toMB(vm.Total)
		h.usedPct = vm.UsedPercent
	}
	if c.proc != nil {
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			h.rssMB = toMB(info.RSS)
		}
	}
	c.host = h
	c.lastHost = now
	return h
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
