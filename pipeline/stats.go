package pipeline

import (
	"runtime"
	"time"
)

// RunStats captures throughput and resource usage of a run.
type RunStats struct {
	Total           int           `json:"total"`
	Scored          int           `json:"scored"`
	Failed          int           `json:"failed"`
	Workers         int           `json:"workers"`
	Duration        time.Duration `json:"duration"`
	ImagesPerSecond float64       `json:"images_per_second"`
	ErrorRate       float64       `json:"error_rate"`
	Memory          MemoryMetrics `json:"memory"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

func readMemory() MemoryMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryMetrics{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		HeapAllocBytes:  m.HeapAlloc,
	}
}

func computeStats(results *Collector, workers int, d time.Duration) RunStats {
	s := RunStats{
		Total:    results.Len(),
		Scored:   len(results.Scored()),
		Workers:  workers,
		Duration: d,
		Memory:   readMemory(),
	}
	s.Failed = s.Total - s.Scored
	if d > 0 {
		s.ImagesPerSecond = float64(s.Total) / d.Seconds()
	}
	if s.Total > 0 {
		s.ErrorRate = float64(s.Failed) / float64(s.Total)
	}
	return s
}
