package tools

import "runtime"

const (
	minWorkers      = 2
	maxWorkers      = 16
	assumedCPUCount = 4
	cpuShare        = 0.75
)

// Workers resolves the orchestrator's concurrency limit. An explicit
// positive value wins. Otherwise take 75% of the detected cores, rounded
// down, clamped to [2, 16] — scanners tend to be internally parallel
// themselves, so saturating every core multiplies contention instead of
// throughput. A non-positive detected count falls back to assuming 4
// cores before clamping.
func Workers(explicit, detectedCores int) int {
	if explicit > 0 {
		return explicit
	}
	if detectedCores <= 0 {
		detectedCores = assumedCPUCount
	}
	n := int(cpuShare * float64(detectedCores))
	if n < minWorkers {
		return minWorkers
	}
	if n > maxWorkers {
		return maxWorkers
	}
	return n
}

// AutoWorkers sizes the pool from the host CPU count.
func AutoWorkers(explicit int) int {
	return Workers(explicit, runtime.NumCPU())
}
