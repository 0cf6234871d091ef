package memory

import (
	"runtime"
)

// Usage is a point in time memory usage snapshot
type Usage struct {
	HeapAllocatedBytes uint64 `json:"heapAllocatedBytes"`
	HeapTotalBytes     uint64 `json:"heapTotalBytes"`
	RAMAppBytes        uint64 `json:"ramAppBytes"`
	RAMSystemBytes     uint64 `json:"ramSystemBytes"`
}

// Snapshot returns the current memory Usage
func Snapshot() Usage {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return Usage{
		HeapAllocatedBytes: memStats.Alloc,
		HeapTotalBytes:     memStats.Sys,
		RAMAppBytes:        GetRAMAppBytes(),
		RAMSystemBytes:     GetRAMSystemBytes(),
	}
}

// BytesToMegaBytes converts Bytes to MegaBytes
func BytesToMegaBytes(in uint64) float64 {
	return float64(in) / 1000 / 1000
}

// BytesToGigaBytes converts Bytes to GigaBytes
func BytesToGigaBytes(in uint64) float64 {
	return float64(in) / 1000 / 1000 / 1000
}
