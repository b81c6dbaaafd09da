package ops

import (
	"testing"

	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/qnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapBecomesReadyWhenBothChildrenDone(t *testing.T) {
	pool := qnet.NewPool()
	tr := NewTree(0)
	left := tr.NewGenLink(0, 1, 0, 0.9, 1, 10)
	right := tr.NewGenLink(1, 2, 1, 0.9, 1, 10)
	swap := tr.NewSwap(0, 2, 1, left, right, 0.8, 2, 10)
	tr.Root = swap

	assert.Equal(t, Waiting, tr.Op(swap).Status)

	epL := pool.GenProductEP(0, 1, 0.9, 0, ids.None)
	tr.Finish(pool, left, epL.ID)
	assert.Equal(t, Waiting, tr.Op(swap).Status, "only one child done")

	epR := pool.GenProductEP(1, 2, 0.9, 0, ids.None)
	_, needsRegen := tr.Finish(pool, right, epR.ID)
	assert.False(t, needsRegen)
	assert.Equal(t, Ready, tr.Op(swap).Status)
}

func TestPurifyGathersTwoEPsBeforeReady(t *testing.T) {
	pool := qnet.NewPool()
	tr := NewTree(0)
	child := tr.NewGenLink(0, 1, 0, 0.8, 1, 10)
	pur := tr.NewPurify(0, 1, child, 0.95, 3, 10)
	tr.Root = pur

	ep1 := pool.GenProductEP(0, 1, 0.8, 0, ids.None)
	regenTarget, needsRegen := tr.Finish(pool, child, ep1.ID)
	require.True(t, needsRegen)
	assert.Equal(t, child, regenTarget)
	assert.Equal(t, Waiting, tr.Op(pur).Status)
	assert.Len(t, tr.Op(pur).PurEPs, 1)
	assert.Equal(t, ids.OpID(pur), ep1.OwnerOp)

	// caller re-requests regen on the child subtree
	tr.RequestRegen(child)
	assert.Equal(t, Ready, tr.Op(child).Status)

	ep2 := pool.GenProductEP(0, 1, 0.8, 1, ids.None)
	_, needsRegen2 := tr.Finish(pool, child, ep2.ID)
	assert.False(t, needsRegen2)
	assert.Equal(t, Ready, tr.Op(pur).Status)
	assert.Len(t, tr.Op(pur).PurEPs, 2)
}

func TestRequestRegenResetsDescendantsRecursively(t *testing.T) {
	pool := qnet.NewPool()
	tr := NewTree(0)
	left := tr.NewGenLink(0, 1, 0, 0.9, 1, 10)
	right := tr.NewGenLink(1, 2, 1, 0.9, 1, 10)
	swap := tr.NewSwap(0, 2, 1, left, right, 0.8, 2, 10)

	epL := pool.GenProductEP(0, 1, 0.9, 0, ids.None)
	epR := pool.GenProductEP(1, 2, 0.9, 0, ids.None)
	tr.Finish(pool, left, epL.ID)
	tr.Finish(pool, right, epR.ID)
	require.Equal(t, Ready, tr.Op(swap).Status)

	tr.Op(swap).Status = Running
	tr.RequestRegen(swap)

	assert.Equal(t, Retry, tr.Op(swap).Status)
	assert.Equal(t, ids.None, int(tr.Op(swap).EP))
	assert.Equal(t, Ready, tr.Op(left).Status)
	assert.Equal(t, Ready, tr.Op(right).Status)
}

func TestWaitingCandidatesDetectsExposedEP(t *testing.T) {
	pool := qnet.NewPool()
	tr := NewTree(0)
	left := tr.NewGenLink(0, 1, 0, 0.9, 1, 10)
	right := tr.NewGenLink(1, 2, 1, 0.9, 1, 10)
	swap := tr.NewSwap(0, 2, 1, left, right, 0.8, 2, 10)
	tr.Root = swap

	epL := pool.GenProductEP(0, 1, 0.9, 0, ids.None)
	tr.Finish(pool, left, epL.ID)

	cands := tr.WaitingCandidates()
	require.Len(t, cands, 1)
	assert.Equal(t, swap, cands[0].Op)
	assert.Equal(t, epL.ID, cands[0].EP)
}

func TestWaitingCandidatesEmptyWhenNothingExposed(t *testing.T) {
	tr := NewTree(0)
	tr.NewGenLink(0, 1, 0, 0.9, 1, 10)
	assert.Empty(t, tr.WaitingCandidates(), "a freshly built leaf is Ready, not Done, so nothing is exposed yet")
}

func TestCloneSubtreeResetsToFreshInitialState(t *testing.T) {
	tr := NewTree(0)
	left := tr.NewGenLink(0, 1, 0, 0.9, 1, 10)
	right := tr.NewGenLink(1, 2, 1, 0.9, 1, 10)
	swap := tr.NewSwap(0, 2, 1, left, right, 0.8, 2, 10)
	tr.Root = swap

	pool := qnet.NewPool()
	epL := pool.GenProductEP(0, 1, 0.9, 0, ids.None)
	tr.Finish(pool, left, epL.ID)
	require.Equal(t, Done, tr.Op(left).Status)
	require.Equal(t, Waiting, tr.Op(swap).Status)

	clone, cloneRoot := tr.CloneSubtree(swap, 7)
	assert.Equal(t, ids.RequestID(7), clone.Request)
	assert.Equal(t, cloneRoot, clone.Root)

	root := clone.Op(cloneRoot)
	assert.Equal(t, Swap, root.Kind)
	assert.Equal(t, Waiting, root.Status, "internal nodes reset to Waiting regardless of the source's current state")
	require.Len(t, root.Children, 2)
	for _, c := range root.Children {
		child := clone.Op(c)
		assert.Equal(t, GenLink, child.Kind)
		assert.Equal(t, Ready, child.Status, "leaves reset to Ready")
		assert.Equal(t, ids.EPID(ids.None), child.EP)
	}
	assert.Equal(t, ids.OpID(2), cloneRoot, "clone ids index its own arena from 0, root last in post-order")
}

func TestReadyOpsOrder(t *testing.T) {
	tr := NewTree(0)
	left := tr.NewGenLink(0, 1, 0, 0.9, 1, 10)
	right := tr.NewGenLink(1, 2, 1, 0.9, 1, 10)
	tr.NewSwap(0, 2, 1, left, right, 0.8, 2, 10)

	ready := tr.ReadyOps()
	assert.Equal(t, []ids.OpID{left, right}, ready)
}
