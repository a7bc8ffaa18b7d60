package util

import (
	"runtime"
)

// RuntimeStats is a point-in-time view of the host process.
type RuntimeStats struct {
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
	Goroutines  int    `json:"goroutines"`
}

// GetHeapAllocMB returns the current heap allocation in MB.
func GetHeapAllocMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / 1024 / 1024
}

func ReadRuntimeStats() RuntimeStats {
	return RuntimeStats{
		HeapAllocMB: GetHeapAllocMB(),
		Goroutines:  runtime.NumGoroutine(),
	}
}
