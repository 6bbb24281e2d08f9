package engine

import "runtime"

// PressureSample reports a used/max heap ratio, driving pool-size scaling in
// Manager.SamplePressure at the thresholds 0.7, 0.8 and 0.9. The reader and
// mmap caches do not consult it; their admission limits do not change with
// heap pressure.
type PressureSample struct {
	Used uint64
	Max  uint64
}

// Ratio returns Used/Max, or 0 if Max is unset.
func (p PressureSample) Ratio() float64 {
	if p.Max == 0 {
		return 0
	}
	return float64(p.Used) / float64(p.Max)
}

// PressureMonitor samples the Go runtime's heap usage against a configured
// ceiling. maxBytes of 0 disables pressure-based throttling entirely (Ratio
// always reports 0).
type PressureMonitor struct {
	maxBytes uint64
}

func NewPressureMonitor(maxBytes uint64) *PressureMonitor {
	return &PressureMonitor{maxBytes: maxBytes}
}

// Sample reads current heap usage via runtime.ReadMemStats. This is called
// on a coarse interval by the manager, never per-task, per the design note
// "recompute on sustained pressure changes, not per-task".
func (m *PressureMonitor) Sample() PressureSample {
	if m.maxBytes == 0 {
		return PressureSample{}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return PressureSample{Used: ms.HeapAlloc, Max: m.maxBytes}
}
