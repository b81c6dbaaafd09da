package metrics

import (
	"math"

	"golang.org/x/exp/constraints"
)

// maxOf returns the larger of a and b, used by the summary tracker's
// running maximum (generic over any floating-point type).
func maxOf[T constraints.Float](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// quantileMarker is one of the five positions the P² algorithm keeps around
// a target quantile: the current height estimate at this marker, its
// integer position in the conceptually-sorted stream, the ideal floating
// position it should drift toward, and the per-observation increment to
// that ideal position.
type quantileMarker struct {
	height float64
	pos    int
	ideal  float64
	step   float64
}

// quantileTracker estimates a single quantile of a stream in O(1) space
// and O(1) time per observation, via the P² algorithm: five markers
// bracket the target quantile and are nudged toward it as samples arrive,
// so the raw stream (here, per-request swap-wait ticks) never needs to be
// retained for a sweep spanning many ticks.
//
// Reference: Jain, R. and Chlamtac, I. (1985). "The P^2 Algorithm for
// Dynamic Calculation of Quantiles and Histograms Without Storing
// Observations". Communications of the ACM, 28(10), pp. 1076-1085.
//
// Not safe for concurrent use; the simulator's single-threaded cooperative
// tick loop means nothing else could be calling Update concurrently.
type quantileTracker struct {
	target  float64
	markers [5]quantileMarker
	seen    int
	seed    [5]float64 // buffers observations 1-5 before markers exist
}

func newQuantileTracker(target float64) *quantileTracker {
	switch {
	case target < 0:
		target = 0
	case target > 1:
		target = 1
	}
	qt := &quantileTracker{target: target}
	for i, step := range [5]float64{0, target / 2, target, (1 + target) / 2, 1} {
		qt.markers[i].step = step
	}
	return qt
}

func (qt *quantileTracker) Update(x float64) {
	qt.seen++
	if qt.seen <= 5 {
		qt.seed[qt.seen-1] = x
		if qt.seen == 5 {
			qt.seedMarkers()
		}
		return
	}

	cell := qt.locate(x)
	for i := cell + 1; i < 5; i++ {
		qt.markers[i].pos++
	}
	for i := range qt.markers {
		qt.markers[i].ideal += qt.markers[i].step
	}
	qt.rebalance()
}

// locate returns the cell k such that markers[k].height <= x <
// markers[k+1].height, widening the outer markers if x falls outside the
// current bracket entirely.
func (qt *quantileTracker) locate(x float64) int {
	switch {
	case x < qt.markers[0].height:
		qt.markers[0].height = x
		return 0
	case x >= qt.markers[4].height:
		qt.markers[4].height = x
		return 3
	default:
		for k := 0; k < 4; k++ {
			if qt.markers[k].height <= x && x < qt.markers[k+1].height {
				return k
			}
		}
		return 3
	}
}

// rebalance nudges each interior marker (1..3) at most one slot toward its
// ideal position, preferring a parabolic estimate and falling back to a
// linear one when the parabolic estimate would cross a neighboring marker.
func (qt *quantileTracker) rebalance() {
	for i := 1; i < 4; i++ {
		drift := qt.markers[i].ideal - float64(qt.markers[i].pos)
		aheadGap := qt.markers[i+1].pos - qt.markers[i].pos
		behindGap := qt.markers[i-1].pos - qt.markers[i].pos
		if !((drift >= 1 && aheadGap > 1) || (drift <= -1 && behindGap < -1)) {
			continue
		}

		step := 1
		if drift < 0 {
			step = -1
		}
		candidate := qt.parabolicEstimate(i, step)
		if qt.markers[i-1].height < candidate && candidate < qt.markers[i+1].height {
			qt.markers[i].height = candidate
		} else {
			qt.markers[i].height = qt.linearEstimate(i, step)
		}
		qt.markers[i].pos += step
	}
}

func (qt *quantileTracker) seedMarkers() {
	insertionSort(qt.seed[:])
	for i := range qt.markers {
		qt.markers[i].height = qt.seed[i]
		qt.markers[i].pos = i
	}
	ideal := [5]float64{0, 2 * qt.target, 4 * qt.target, 2 + 2*qt.target, 4}
	for i := range qt.markers {
		qt.markers[i].ideal = ideal[i]
	}
}

func (qt *quantileTracker) parabolicEstimate(i, step int) float64 {
	m, prev, next := &qt.markers[i], &qt.markers[i-1], &qt.markers[i+1]
	d := float64(step)
	outerSpan := d / float64(next.pos-prev.pos)
	aheadTerm := (float64(m.pos-prev.pos) + d) * (next.height - m.height) / float64(next.pos-m.pos)
	behindTerm := (float64(next.pos-m.pos) - d) * (m.height - prev.height) / float64(m.pos-prev.pos)
	return m.height + outerSpan*(aheadTerm+behindTerm)
}

func (qt *quantileTracker) linearEstimate(i, step int) float64 {
	m := &qt.markers[i]
	if step == 1 {
		next := &qt.markers[i+1]
		return m.height + (next.height-m.height)/float64(next.pos-m.pos)
	}
	prev := &qt.markers[i-1]
	return m.height - (m.height-prev.height)/float64(m.pos-prev.pos)
}

func (qt *quantileTracker) Quantile() float64 {
	if qt.seen == 0 {
		return 0
	}
	if qt.seen < 5 {
		sorted := append([]float64(nil), qt.seed[:qt.seen]...)
		insertionSort(sorted)
		idx := int(float64(qt.seen-1) * qt.target)
		if idx >= qt.seen {
			idx = qt.seen - 1
		}
		return sorted[idx]
	}
	return qt.markers[2].height
}

func (qt *quantileTracker) Count() int { return qt.seen }

// insertionSort sorts a small slice in place; cheaper than importing sort
// for the handful of elements seen before a quantileTracker's markers
// exist.
func insertionSort(xs []float64) {
	for i := 1; i < len(xs); i++ {
		key := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > key {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = key
	}
}

// multiSampleSummary tracks several quantiles of one stream alongside a
// running mean/max/count, by fanning each observation out to one
// quantileTracker per target percentile (spec.md §6's swap-wait summary
// view).
type multiSampleSummary struct {
	trackers []*quantileTracker
	total    float64
	n        int
	peak     float64
}

func newMultiSampleSummary(percentiles ...float64) *multiSampleSummary {
	s := &multiSampleSummary{
		trackers: make([]*quantileTracker, len(percentiles)),
		peak:     -math.MaxFloat64,
	}
	for i, p := range percentiles {
		s.trackers[i] = newQuantileTracker(p)
	}
	return s
}

func (s *multiSampleSummary) Update(x float64) {
	s.n++
	s.total += x
	s.peak = maxOf(s.peak, x)
	for _, t := range s.trackers {
		t.Update(x)
	}
}

func (s *multiSampleSummary) Quantile(i int) float64 {
	if i < 0 || i >= len(s.trackers) {
		return 0
	}
	return s.trackers[i].Quantile()
}

func (s *multiSampleSummary) Count() int { return s.n }

func (s *multiSampleSummary) Mean() float64 {
	if s.n == 0 {
		return 0
	}
	return s.total / float64(s.n)
}

func (s *multiSampleSummary) Max() float64 {
	if s.n == 0 {
		return 0
	}
	return s.peak
}
