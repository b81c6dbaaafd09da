package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCompletionAppendsRow(t *testing.T) {
	c := NewCollector()
	c.RecordCompletion(0, "r1", 42, 0.94)
	require.Len(t, c.Completed, 1)
	assert.Equal(t, "r1", c.Completed[0].Name)
	assert.Equal(t, int64(42), c.Completed[0].FinishTimeSlot)
}

func TestRecordSwapWaitFillsRawAndByReq(t *testing.T) {
	c := NewCollector()
	c.RecordSwapWait("r1", 3)
	c.RecordSwapWait("r1", 5)
	c.RecordSwapWait("r2", 1)

	assert.Equal(t, []int64{3, 5, 1}, c.SwapWaitTimes)
	assert.Equal(t, []int64{3, 5}, c.SwapWaitTimesByReq["r1"])
	assert.Equal(t, []int64{1}, c.SwapWaitTimesByReq["r2"])
}

func TestPSWCounters(t *testing.T) {
	c := NewCollector()
	c.RecordPSWScheduled()
	c.RecordPSWScheduled()
	c.RecordPSWSuccess()
	c.RecordPSWFail()
	c.RecordPSWCancelled()

	assert.Equal(t, 2, c.PSWPurifyScheduled)
	assert.Equal(t, 1, c.PSWPurifySuccess)
	assert.Equal(t, 1, c.PSWPurifyFail)
	assert.Equal(t, 1, c.PSWCancelled)
}

func TestSummaryTracksMeanAndMax(t *testing.T) {
	c := NewCollector()
	for _, v := range []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		c.RecordSwapWait("r1", v)
	}
	s := c.Summary()
	assert.Equal(t, 10, s.Count)
	assert.InDelta(t, 5.5, s.Mean, 1e-9)
	assert.Equal(t, 10.0, s.Max)
}

func TestFinalFidelityMeanEmpty(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 0.0, c.FinalFidelityMean())
}

func TestComputeDelta(t *testing.T) {
	with := NewCollector()
	with.RecordCompletion(0, "r1", 10, 0.9)
	with.RecordCompletion(1, "r2", 20, 0.8)
	with.RecordPSWSuccess()

	without := NewCollector()
	without.RecordCompletion(0, "r1", 10, 0.7)

	d := ComputeDelta(with, without)
	assert.Equal(t, 1, d.FinishedDelta)
	assert.Equal(t, 1, d.PSWPurifySuccessDelta)
	assert.Greater(t, d.FinalFidelityMeanDelta, 0.0)
}
