// Package stats aggregates the timing and wear figures reported during a run.
package stats

import "time"

// Run accumulates per-iteration counters.
type Run struct {
	Iterations   uint64
	TotalLatency time.Duration

	Deletes     uint64
	Mismatches  uint64
	Evictions   uint64
	WearSamples uint64
	WearDropped uint64
}

// Observe records one completed iteration whose create took latency.
func (r *Run) Observe(latency time.Duration) {
	r.Iterations++
	r.TotalLatency += latency
}

// AvgLatency returns the mean create latency, or zero before the first iteration.
func (r *Run) AvgLatency() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.TotalLatency / time.Duration(r.Iterations)
}

// Wear holds the most recent valid write-cycle sample.
type Wear struct {
	Cycles    uint64
	Iteration uint64
	Valid     bool
}

// Record stores a sample taken at iteration. regressed is true if the counter went
// down, which the device should never do.
func (w *Wear) Record(cycles uint64, iteration uint64) (regressed bool) {
	regressed = w.Valid && cycles < w.Cycles
	w.Cycles = cycles
	w.Iteration = iteration
	w.Valid = true
	return regressed
}
