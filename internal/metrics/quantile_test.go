package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantileTrackerConvergesOnUniformStream(t *testing.T) {
	q := newQuantileTracker(0.5)
	for i := 1; i <= 1000; i++ {
		q.Update(float64(i))
	}
	assert.InDelta(t, 500, q.Quantile(), 50)
}

func TestQuantileTrackerFewSamples(t *testing.T) {
	q := newQuantileTracker(0.5)
	q.Update(10)
	q.Update(20)
	assert.Equal(t, 2, q.Count())
	assert.Greater(t, q.Quantile(), 0.0)
}

func TestMultiSampleSummaryTracksMeanMaxCount(t *testing.T) {
	s := newMultiSampleSummary(0.5, 0.9)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Update(v)
	}
	assert.Equal(t, 5, s.Count())
	assert.Equal(t, 3.0, s.Mean())
	assert.Equal(t, 5.0, s.Max())
}

func TestMaxOfGeneric(t *testing.T) {
	assert.Equal(t, 3.0, maxOf(3.0, 2.0))
	assert.Equal(t, float32(5), maxOf(float32(1), float32(5)))
}
