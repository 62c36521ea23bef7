// Package diagnostics reports process and host resource usage.
//
// MemoryCollector feeds the memory figures shown in workflow state views:
// Go heap usage from the runtime, the soft memory limit, process RSS and
// host memory from gopsutil. SystemMetricsCollector adds CPU, load and disk
// figures for the health endpoint. Host readings are cached briefly since
// they are comparatively expensive.
package diagnostics
