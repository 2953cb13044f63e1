package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/dblpix/errors"
)

// SystemMetrics reports host resources next to the pipeline sizing
type SystemMetrics struct {
	LogicalCPUs   int     `json:"logical_cpus"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

const (
	// maxDefaultWorkers caps auto-sizing; more committers only contend for the store
	maxDefaultWorkers = 14
	// approxRecordBytes is a generous in-memory estimate for one assembled record
	approxRecordBytes = 4 << 10
)

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// DefaultWorkers returns the committer count used when none is configured:
// twice the logical CPUs, capped at 14. Falls back to 4 if CPUs can't be read.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 4
	}
	return calculateWorkerCount(n)
}

func calculateWorkerCount(cpus int) int {
	w := 2 * cpus
	if w > maxDefaultWorkers {
		return maxDefaultWorkers
	}
	if w < 1 {
		return 1
	}
	return w
}

// GetSystemMetrics returns current host resource usage
func GetSystemMetrics() SystemMetrics {
	var m SystemMetrics
	if n, err := cpu.Counts(true); err == nil {
		m.LogicalCPUs = n
	}
	total, available, err := getMemoryStats()
	if err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(total-available) / 1024 / 1024 / 1024
		m.MemoryPercent = (m.MemoryUsedGB / m.MemoryTotalGB) * 100
	}
	return m
}

// checkMemoryPressure compares the backpressure bound with available memory.
// Returns a warning if the pipeline could claim more than a quarter of it.
func checkMemoryPressure(cfg PipelineConfig) string {
	_, available, err := getMemoryStats()
	if err != nil {
		return ""
	}
	return memoryPressureWarning(cfg, available)
}

func memoryPressureWarning(cfg PipelineConfig, availableBytes uint64) string {
	need := uint64(cfg.MaxResident()) * approxRecordBytes
	if availableBytes == 0 || need <= availableBytes/4 {
		return ""
	}
	return fmt.Sprintf(
		"queue depth %d × batch size %d may hold ~%.1fMB of records with %.1fMB available. "+
			"Consider lowering ingest.queue_depth or ingest.batch_size.",
		cfg.QueueDepth, cfg.BatchSize,
		float64(need)/1024/1024, float64(availableBytes)/1024/1024)
}
