// Package fidelity implements the pure scalar models used throughout the
// simulator: entanglement swap/purify fidelity and success probability, the
// associated latency formulas, and memory decoherence. No quantum state is
// ever represented; every value here is a scalar in [0,1] or a duration.
package fidelity

import "math"

// epsilon guards against division by a purify success probability that has
// underflowed to (or below) zero.
const epsilon = 1e-9

// Swap returns the fidelity of the entangled pair produced by swapping two
// pairs of fidelity f1 and f2.
func Swap(f1, f2 float64) float64 {
	return 0.25 * (1 + (1.0/3.0)*(4*f1-1)*(4*f2-1))
}

// PurifySuccess returns the probability that purifying a target pair of
// fidelity ft against a sacrificial pair of fidelity fs succeeds.
func PurifySuccess(ft, fs float64) float64 {
	return ft*fs + ft*(1-fs)/3 + (1-ft)/3*fs + 5*((1-ft)/3)*((1-fs)/3)
}

// Purify returns the fidelity of the target pair after a successful
// purification against a sacrificial pair of fidelity fs.
func Purify(ft, fs float64) float64 {
	p := PurifySuccess(ft, fs)
	if p < epsilon {
		p = epsilon
	}
	return (ft*fs + ((1-ft)/3)*((1-fs)/3)) / p
}

// SwapLatency returns the expected latency of a swap whose two input links
// have latencies l1 and l2, given swap success probability pSwap and
// classical-signaling delays tauFail (on failure/resignal) and tauClassical
// (for the completion event), all in the same time unit (ticks or seconds).
func SwapLatency(l1, l2, pSwap, tauFail, tauClassical float64) float64 {
	if pSwap < epsilon {
		pSwap = epsilon
	}
	return (1.5*math.Max(l1, l2) + tauFail + tauClassical) / pSwap
}

// PurifyLatency returns the expected latency of a purify step operating on a
// link of latency l, given purify success probability pPurify and classical
// delays tauPurify and tauClassical.
func PurifyLatency(l, pPurify, tauPurify, tauClassical float64) float64 {
	if pPurify < epsilon {
		pPurify = epsilon
	}
	return (l + tauPurify + tauClassical) / pPurify
}

// Decohere applies the memory decoherence kernel: fidelity relaxes
// exponentially toward the maximally mixed value of 1/4 with memory time
// constant tMem, over an elapsed duration dt (same units as tMem).
func Decohere(f, dt, tMem float64) float64 {
	if tMem <= 0 {
		return 0.25
	}
	return 0.25 + math.Exp(-dt/tMem)*(f-0.25)
}

// Grid returns the fidelity grid F used by the EDP builder: lo to hi
// inclusive, in steps of step, e.g. Grid(0.70, 1.00, 0.01).
func Grid(lo, hi, step float64) []float64 {
	if step <= 0 {
		return nil
	}
	n := int(math.Round((hi-lo)/step)) + 1
	if n <= 0 {
		return nil
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := lo + float64(i)*step
		if v > hi+1e-9 {
			break
		}
		out = append(out, math.Round(v*1e9) / 1e9)
	}
	return out
}
