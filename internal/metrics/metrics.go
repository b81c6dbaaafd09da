// Package metrics implements spec.md §6's metrics output contract exactly
// (completed_requests, swap_wait_times, swap_wait_times_by_req, and the
// four PSW counters, as exact slices/maps, not estimates), plus a
// Summary() convenience view backed by a P-square streaming quantile
// tracker (quantile.go). Delta compares two Collectors, one per PSW on/off
// arm of the same scenario, matching the original's
// research/exp/psw_onoff_compare_exp.py delta columns.
package metrics

// CompletedRequest is one row of spec.md §6's completed_requests output.
type CompletedRequest struct {
	Index          int
	Name           string
	FinishTimeSlot int64
	Fidelity       float64
}

// Collector accumulates one run's metrics.
type Collector struct {
	Completed          []CompletedRequest
	SwapWaitTimes      []int64
	SwapWaitTimesByReq map[string][]int64

	PSWPurifyScheduled int
	PSWPurifySuccess   int
	PSWPurifyFail      int
	PSWCancelled       int

	waitSummary *multiSampleSummary
}

// NewCollector returns an empty Collector tracking p50/p90 of swap wait
// times.
func NewCollector() *Collector {
	return &Collector{
		SwapWaitTimesByReq: make(map[string][]int64),
		waitSummary:        newMultiSampleSummary(0.50, 0.90),
	}
}

// RecordCompletion appends a finished request's outcome.
func (c *Collector) RecordCompletion(index int, name string, finishTick int64, fidelity float64) {
	c.Completed = append(c.Completed, CompletedRequest{
		Index: index, Name: name, FinishTimeSlot: finishTick, Fidelity: fidelity,
	})
}

// RecordSwapWait appends one swap's observed wait duration (ticks) to both
// the raw slice and the per-request map, and feeds the streaming summary.
func (c *Collector) RecordSwapWait(name string, waitTicks int64) {
	c.SwapWaitTimes = append(c.SwapWaitTimes, waitTicks)
	c.SwapWaitTimesByReq[name] = append(c.SwapWaitTimesByReq[name], waitTicks)
	c.waitSummary.Update(float64(waitTicks))
}

// RecordPSWScheduled increments psw_purify_scheduled.
func (c *Collector) RecordPSWScheduled() { c.PSWPurifyScheduled++ }

// RecordPSWSuccess increments psw_purify_success.
func (c *Collector) RecordPSWSuccess() { c.PSWPurifySuccess++ }

// RecordPSWFail increments psw_purify_fail.
func (c *Collector) RecordPSWFail() { c.PSWPurifyFail++ }

// RecordPSWCancelled increments psw_cancelled.
func (c *Collector) RecordPSWCancelled() { c.PSWCancelled++ }

// Summary is an O(1)-memory snapshot of the swap-wait-time distribution,
// suitable for long sweeps where retaining every raw sample is wasteful.
type Summary struct {
	Count int
	Mean  float64
	P50   float64
	P90   float64
	Max   float64
}

// Summary returns the current streaming summary of swap wait times.
func (c *Collector) Summary() Summary {
	return Summary{
		Count: c.waitSummary.Count(),
		Mean:  c.waitSummary.Mean(),
		P50:   c.waitSummary.Quantile(0),
		P90:   c.waitSummary.Quantile(1),
		Max:   c.waitSummary.Max(),
	}
}

// FinalFidelityMean returns the mean fidelity across all completed
// requests (including zero-fidelity BuildFailures), or 0 if none completed.
func (c *Collector) FinalFidelityMean() float64 {
	if len(c.Completed) == 0 {
		return 0
	}
	var sum float64
	for _, r := range c.Completed {
		sum += r.Fidelity
	}
	return sum / float64(len(c.Completed))
}

// Delta holds the PSW-on minus PSW-off comparison of two Collectors from
// otherwise identical scenario/seed runs, matching the delta columns the
// original's research/exp/psw_onoff_compare_exp.py computes.
type Delta struct {
	FinishedDelta          int
	AvgWaitDelta           float64
	FinalFidelityMeanDelta float64
	PSWPurifySuccessDelta  int
	PSWPurifyFailDelta     int
}

// ComputeDelta returns withPSW's metrics minus withoutPSW's.
func ComputeDelta(withPSW, withoutPSW *Collector) Delta {
	return Delta{
		FinishedDelta:          len(withPSW.Completed) - len(withoutPSW.Completed),
		AvgWaitDelta:           withPSW.Summary().Mean - withoutPSW.Summary().Mean,
		FinalFidelityMeanDelta: withPSW.FinalFidelityMean() - withoutPSW.FinalFidelityMean(),
		PSWPurifySuccessDelta:  withPSW.PSWPurifySuccess - withoutPSW.PSWPurifySuccess,
		PSWPurifyFailDelta:     withPSW.PSWPurifyFail - withoutPSW.PSWPurifyFail,
	}
}
