package diagnostics

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
)

// SystemMetrics holds host resource usage reported by the health endpoint.
type SystemMetrics struct {
	CPUModel   string  `json:"cpu_model,omitempty"`
	CPUThreads int     `json:"cpu_threads,omitempty"`
	CPUPercent float64 `json:"cpu_percent"`

	// Disk usage of the filesystem holding the state store (in GB).
	DiskPath    string  `json:"disk_path"`
	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskPercent float64 `json:"disk_percent"`

	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`

	Memory MemorySnapshot `json:"memory"`
}

// SystemMetricsCollector collects host-wide statistics. CPU percentage is
// computed from the delta between two calls, so the first Collect reports 0.
type SystemMetricsCollector struct {
	mu           sync.Mutex
	diskPath     string
	memory       *MemoryCollector
	lastCPUTotal float64
	lastCPUIdle  float64

	infoCollected bool
	cpuModel      string
	cpuThreads    int
}

// NewSystemMetricsCollector creates a collector reporting disk usage for the
// filesystem containing diskPath. An empty path means the root filesystem.
func NewSystemMetricsCollector(diskPath string, memory *MemoryCollector) *SystemMetricsCollector {
	if diskPath == "" {
		diskPath = rootDiskPath()
	}
	if memory == nil {
		memory = NewMemoryCollector()
	}
	return &SystemMetricsCollector{diskPath: diskPath, memory: memory}
}

// Collect gathers current system statistics.
func (c *SystemMetricsCollector) Collect() SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := SystemMetrics{DiskPath: c.diskPath}
	c.collectHardwareInfo(&stats)
	c.collectCPUInfo(&stats)
	c.collectDiskInfo(&stats)
	c.collectLoadAvg(&stats)
	stats.Memory = c.memory.Snapshot()
	return stats
}

func (c *SystemMetricsCollector) collectCPUInfo(stats *SystemMetrics) {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return
	}

	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	idleTime := t.Idle + t.Iowait

	if c.lastCPUTotal > 0 {
		totalDelta := total - c.lastCPUTotal
		idleDelta := idleTime - c.lastCPUIdle
		if totalDelta > 0 {
			stats.CPUPercent = (1 - idleDelta/totalDelta) * 100
		}
	}

	c.lastCPUTotal = total
	c.lastCPUIdle = idleTime
}

func (c *SystemMetricsCollector) collectDiskInfo(stats *SystemMetrics) {
	path := c.diskPath
	// The state directory may not exist yet; fall back to the nearest parent.
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := parentDir(path)
		if parent == path {
			break
		}
		path = parent
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return
	}
	stats.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	stats.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
	stats.DiskPercent = usage.UsedPercent
}

func (c *SystemMetricsCollector) collectLoadAvg(stats *SystemMetrics) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	stats.LoadAvg1 = avg.Load1
	stats.LoadAvg5 = avg.Load5
	stats.LoadAvg15 = avg.Load15
}

func (c *SystemMetricsCollector) collectHardwareInfo(stats *SystemMetrics) {
	if !c.infoCollected {
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			c.cpuModel = strings.TrimSpace(infos[0].ModelName)
		}
		if threads, err := cpu.Counts(true); err == nil && threads > 0 {
			c.cpuThreads = threads
		}
		c.infoCollected = true
	}
	stats.CPUModel = c.cpuModel
	stats.CPUThreads = c.cpuThreads
}

func parentDir(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	switch {
	case i < 0:
		return "."
	case i == 0:
		return path[:1]
	default:
		return path[:i]
	}
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}
