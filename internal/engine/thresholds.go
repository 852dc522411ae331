package engine

import (
	"deployguard/internal/config"
	"deployguard/internal/model"
)

const (
	BreachCPU       = "cpu_high"
	BreachMemory    = "memory_high"
	BreachErrors    = "error_spike"
	BreachLatency   = "latency_high"
	BreachUnhealthy = "unhealthy_targets"
)

// EvaluateThresholds returns the deterministic breach signals for one
// snapshot. A series with no data contributes nothing: a gap is unknown
// health, never a breach.
func EvaluateThresholds(snap model.Snapshot, t config.ThresholdsConfig) []string {
	var breaches []string
	if st, ok := snap.Stats[model.SeriesCPU]; ok && st.Present && st.Latest > t.CPUPercent {
		breaches = append(breaches, BreachCPU)
	}
	if st, ok := snap.Stats[model.SeriesMemory]; ok && st.Present && st.Latest > t.MemoryPercent {
		breaches = append(breaches, BreachMemory)
	}
	if st, ok := snap.Stats[model.SeriesErrorCount]; ok && st.Present && st.Sum > t.ErrorCount {
		breaches = append(breaches, BreachErrors)
	}
	if st, ok := snap.Stats[model.SeriesLatencyP95]; ok && st.Present && st.Latest > t.LatencySeconds {
		breaches = append(breaches, BreachLatency)
	}
	if st, ok := snap.Stats[model.SeriesUnhealthyTargets]; ok && st.Present && st.Latest > t.UnhealthyTargets {
		breaches = append(breaches, BreachUnhealthy)
	}
	return breaches
}
