package psw

import (
	"testing"

	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/metrics"
	"github.com/qnetlab/edpsim/internal/ops"
	"github.com/qnetlab/edpsim/internal/qnet"
	"github.com/qnetlab/edpsim/internal/randsrc"
	"github.com/qnetlab/edpsim/internal/sched"
	"github.com/qnetlab/edpsim/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController() *sched.Controller {
	nodes := []qnet.QNode{{ID: 0, Name: "n1"}, {ID: 1, Name: "n2"}, {ID: 2, Name: "n3"}}
	channels := []qnet.QChannel{
		{ID: 0, Name: "c0", A: 0, B: 1, Length: 1, InitFid: 0.9, Capacity: 2, Rate: 1},
		{ID: 1, Name: "c1", A: 1, B: 2, Length: 1, InitFid: 0.9, Capacity: 2, Rate: 1},
	}
	net := qnet.NewNetwork(nodes, channels)
	cfg := sched.Config{Accuracy: 1, GenRate: 1, TMem: 1000, FCut: 0, PSwap: 1.0}
	return sched.NewController(net, cfg, metrics.NewCollector(), randsrc.New(1), telemetry.Nop())
}

// waitingSwapRequest installs a non-PSW request whose root Swap has its left
// child already Done (exposing a waiting EP at fidelityLeft) and its right
// child not yet Done (still Ready): the PSW candidate shape of spec.md §4.6.
func waitingSwapRequest(c *sched.Controller, fidelityLeft float64) (*sched.Request, ids.OpID) {
	tr := ops.NewTree(ids.None)
	left := tr.NewGenLink(0, 1, 0, 0.9, 1, 1)
	right := tr.NewGenLink(1, 2, 1, 0.9, 1, 1)
	swap := tr.NewSwap(0, 2, 1, left, right, 0.9, 2, 1)
	tr.Root = swap

	ep := c.Pool().GenProductEP(0, 1, fidelityLeft, 0, left)
	tr.Finish(c.Pool(), left, ep.ID)

	req := &sched.Request{Name: "r1", Src: 0, Dest: 2, FReq: 0.9, Tree: tr}
	id := c.AddRequest(req)
	tr.Request = id
	for i := range tr.Ops {
		tr.Ops[i].Request = id
	}
	return req, swap
}

func TestScanSchedulesSacrificialCloneForLowFidelityWaitingEP(t *testing.T) {
	c := newTestController()
	req, swap := waitingSwapRequest(c, 0.5)
	m := NewManager(0.9)

	m.Scan(c, 0)

	require.Len(t, c.Requests(), 2)
	synth := c.Requests()[1]
	assert.True(t, synth.IsPSW)
	assert.Equal(t, req.Src, synth.Src)
	assert.Equal(t, 1, c.Metrics().PSWPurifyScheduled)

	ref := opRef{Req: req.ID, Op: swap}
	gid, busy := m.byTarget[ref]
	require.True(t, busy)
	assert.Equal(t, synth.ID, m.groups[gid].synthReq)

	rootMeta, ok := m.meta[opRef{Req: synth.ID, Op: synth.Tree.Root}]
	require.True(t, ok)
	assert.Equal(t, roleSacrificial, rootMeta.Role)
}

func TestScanIgnoresCandidatesAboveThreshold(t *testing.T) {
	c := newTestController()
	waitingSwapRequest(c, 0.95)
	m := NewManager(0.9)

	m.Scan(c, 0)

	assert.Len(t, c.Requests(), 1, "fidelity above threshold should not trigger PSW")
	assert.Zero(t, c.Metrics().PSWPurifyScheduled)
}

func TestScanDisabledWhenThresholdNonPositive(t *testing.T) {
	c := newTestController()
	waitingSwapRequest(c, 0.1)
	m := NewManager(0)

	m.Scan(c, 0)

	assert.Len(t, c.Requests(), 1)
	assert.Zero(t, c.Metrics().PSWPurifyScheduled)
}

func TestScanDoesNotDoubleScheduleForSameTarget(t *testing.T) {
	c := newTestController()
	waitingSwapRequest(c, 0.2)
	m := NewManager(0.9)

	m.Scan(c, 0)
	m.Scan(c, 1)

	assert.Len(t, c.Requests(), 2, "a target already tracked by a PSW group must not be re-scheduled")
	assert.Equal(t, 1, c.Metrics().PSWPurifyScheduled)
}

func TestOnSacrificialDoneBuildsPurifyWhenTargetStillWaiting(t *testing.T) {
	c := newTestController()
	_, swap := waitingSwapRequest(c, 0.5)
	m := NewManager(0.9)
	m.Scan(c, 0)

	synth := c.Requests()[1]
	root := synth.Tree.Op(synth.Tree.Root)
	sacrificeEP := c.Pool().GenProductEP(0, 1, 0.99, 1, synth.Tree.Root)
	root.Status = ops.Done
	root.EP = sacrificeEP.ID

	m.OnOpDone(c, synth.ID, synth.Tree.Root)

	require.NotEqual(t, root.ID, synth.Tree.Root, "root should have been replaced by a fresh purify op")
	purifyOp := synth.Tree.Op(synth.Tree.Root)
	assert.Equal(t, ops.Purify, purifyOp.Kind)
	assert.Equal(t, ops.Ready, purifyOp.Status)
	require.Len(t, purifyOp.PurEPs, 2)
	assert.Equal(t, []ids.OpID{swap}, purifyOp.Children)

	ep, ok := c.Pool().Get(sacrificeEP.ID)
	require.True(t, ok)
	assert.Equal(t, synth.Tree.Root, ep.OwnerOp)

	meta, ok := m.meta[opRef{Req: synth.ID, Op: synth.Tree.Root}]
	require.True(t, ok)
	assert.Equal(t, rolePurify, meta.Role)
}

func TestOnSacrificialDoneCancelsWhenTargetAlreadyResolved(t *testing.T) {
	c := newTestController()
	targetReq, swap := waitingSwapRequest(c, 0.5)
	m := NewManager(0.9)
	m.Scan(c, 0)
	synth := c.Requests()[1]

	// the original swap's sibling resolves before the sacrifice is ready.
	rightEP := c.Pool().GenProductEP(1, 2, 0.9, 1, targetReq.Tree.Op(swap).Children[1])
	targetReq.Tree.Finish(c.Pool(), targetReq.Tree.Op(swap).Children[1], rightEP.ID)

	root := synth.Tree.Op(synth.Tree.Root)
	sacrificeEP := c.Pool().GenProductEP(0, 1, 0.99, 1, synth.Tree.Root)
	root.Status = ops.Done
	root.EP = sacrificeEP.ID

	m.OnOpDone(c, synth.ID, synth.Tree.Root)

	assert.True(t, synth.Done)
	assert.Equal(t, 1, c.Metrics().PSWCancelled)
	_, stillOwned := c.Pool().Get(sacrificeEP.ID)
	assert.False(t, stillOwned, "the wasted sacrifice must be consumed and deleted")

	_, tracked := m.byTarget[opRef{Req: targetReq.ID, Op: swap}]
	assert.False(t, tracked, "cleanup must remove the group")
}

func TestOnPurifyFailedRegensTargetAndLatchesThreshold(t *testing.T) {
	c := newTestController()
	targetReq, swap := waitingSwapRequest(c, 0.5)
	m := NewManager(0.9)
	m.Scan(c, 0)
	synth := c.Requests()[1]

	root := synth.Tree.Op(synth.Tree.Root)
	sacrificeEP := c.Pool().GenProductEP(0, 1, 0.99, 1, synth.Tree.Root)
	root.Status = ops.Done
	root.EP = sacrificeEP.ID
	m.OnOpDone(c, synth.ID, synth.Tree.Root)
	purifyOpID := synth.Tree.Root

	handled := m.OnPurifyFailed(c, synth.ID, purifyOpID)
	assert.True(t, handled)

	targetOp := targetReq.Tree.Op(swap)
	assert.Equal(t, ops.Retry, targetOp.Status)
	assert.True(t, targetOp.ThresholdPurified)
	assert.Equal(t, 1, c.Metrics().PSWPurifyFail)

	_, tracked := m.byTarget[opRef{Req: targetReq.ID, Op: swap}]
	assert.False(t, tracked)
	_, hasMeta := m.meta[opRef{Req: synth.ID, Op: purifyOpID}]
	assert.False(t, hasMeta)
}

func TestOnPurifyFailedReturnsFalseForNonPurifyRoleOp(t *testing.T) {
	c := newTestController()
	m := NewManager(0.9)
	assert.False(t, m.OnPurifyFailed(c, 0, 0))
}
