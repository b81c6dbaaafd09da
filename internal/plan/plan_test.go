package plan

import (
	"testing"

	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/ops"
	"github.com/qnetlab/edpsim/internal/qnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// line builds a uniform n-node line network: n-1 channels, each with the
// given rate/fidelity, plus the ordered path through every node.
func line(n int, rate, fid float64) (*qnet.Network, []ids.NodeID) {
	nodes := make([]qnet.QNode, n)
	path := make([]ids.NodeID, n)
	for i := 0; i < n; i++ {
		nodes[i] = qnet.QNode{ID: ids.NodeID(i), Name: "n"}
		path[i] = ids.NodeID(i)
	}
	channels := make([]qnet.QChannel, n-1)
	for i := 0; i < n-1; i++ {
		channels[i] = qnet.QChannel{
			ID: ids.ChannelID(i), A: ids.NodeID(i), B: ids.NodeID(i + 1),
			Length: 1, InitFid: fid, Capacity: 1, Rate: rate,
		}
	}
	return qnet.NewNetwork(nodes, channels), path
}

func baseConfig(grid []float64) Config {
	return Config{
		FGrid:        grid,
		DMax:         8,
		PSwap:        1.0,
		TauFail:      0,
		TauClassical: 0,
		TauPurify:    0,
	}
}

func TestDirectLinkChosenWhenFidelityMeetsRequirement(t *testing.T) {
	net, path := line(2, 2.0, 0.95)
	b := NewBuilder(net, path, baseConfig([]float64{0.95}))

	tr, latency, ok := b.Build(0, path[0], path[1], 0.9)
	require.True(t, ok)
	require.Len(t, tr.Ops, 1)
	assert.Equal(t, ops.GenLink, tr.Op(tr.Root).Kind)
	assert.InDelta(t, 0.5, latency, 1e-9) // 1/rate
}

func TestSwapChainBuildsBalancedTreeOverFourEdges(t *testing.T) {
	net, path := line(5, 1.0, 0.99)
	grid := []float64{0.70, 0.80, 0.90, 0.99}
	b := NewBuilder(net, path, baseConfig(grid))

	tr, latency, ok := b.Build(0, path[0], path[4], 0.7)
	require.True(t, ok)
	assert.Equal(t, ops.Swap, tr.Op(tr.Root).Kind)
	assert.Greater(t, latency, 0.0)

	leaves, swaps := 0, 0
	for i := range tr.Ops {
		switch tr.Ops[i].Kind {
		case ops.GenLink:
			leaves++
		case ops.Swap:
			swaps++
		}
	}
	assert.Equal(t, 4, leaves)
	assert.Equal(t, 3, swaps)
}

func TestDepthCapCausesBuildFailure(t *testing.T) {
	net, path := line(3, 1.0, 0.99)
	cfg := baseConfig([]float64{0.99})
	cfg.DMax = 0
	b := NewBuilder(net, path, cfg)

	_, _, ok := b.Build(0, path[0], path[2], 0.9)
	assert.False(t, ok, "a 2-edge span needs one swap, which exceeds a zero depth budget")
}

func TestUnreachableFidelityIsBuildFailure(t *testing.T) {
	net, path := line(2, 1.0, 0.5)
	b := NewBuilder(net, path, baseConfig([]float64{0.5}))

	_, _, ok := b.Build(0, path[0], path[1], 0.99)
	assert.False(t, ok)
}

func TestPurifyChosenWhenDirectFidelityBelowRequirement(t *testing.T) {
	net, path := line(2, 1.0, 0.70)
	b := NewBuilder(net, path, baseConfig([]float64{0.70}))

	tr, _, ok := b.Build(0, path[0], path[1], 0.73)
	require.True(t, ok)
	assert.Equal(t, ops.Purify, tr.Op(tr.Root).Kind)
	assert.Equal(t, 1, len(tr.Op(tr.Root).Children))
}

func TestTieBreakPrefersLowerIntermediateIndex(t *testing.T) {
	net, path := line(4, 1.0, 0.99)
	b := NewBuilder(net, path, baseConfig([]float64{0.95, 0.99}))

	tr, latency, ok := b.Build(0, path[0], path[3], 0.90)
	require.True(t, ok)
	root := tr.Op(tr.Root)
	require.Equal(t, ops.Swap, root.Kind)
	assert.Equal(t, path[1], root.Via, "z=1 and z=2 tie on latency; the lower index must win")
	assert.InDelta(t, 2.25, latency, 1e-9)
}

// TestSolveRecomputesPerDepthBudgetAfterShallowerCacheMiss guards against the
// memo reusing a result computed under a smaller depth budget for a larger
// one. A 3-hop span needs at least two swap levels to decompose at all (any
// split leaves one side with 2 hops, which itself needs one swap level), so
// remaining=1 must fail, but remaining=3 is ample. If the memo key didn't
// include the depth budget, the remaining=1 cache miss would be wrongly
// replayed for the remaining=3 query instead of recomputing.
func TestSolveRecomputesPerDepthBudgetAfterShallowerCacheMiss(t *testing.T) {
	net, path := line(5, 1.0, 0.95)
	b := NewBuilder(net, path, baseConfig([]float64{0.8, 0.95}))

	_, ok := b.solve(1, 4, 0.5, 1)
	require.False(t, ok, "a 3-hop span cannot be decomposed within a depth-1 budget")

	entry, ok := b.solve(1, 4, 0.5, 3)
	require.True(t, ok, "depth-3 budget is ample for a 3-hop span and must not reuse the depth-1 miss")
	assert.Greater(t, entry.latency, 0.0)
}

func TestClearMemoResetsCache(t *testing.T) {
	net, path := line(2, 1.0, 0.9)
	b := NewBuilder(net, path, baseConfig([]float64{0.9}))
	_, _, ok := b.Build(0, path[0], path[1], 0.9)
	require.True(t, ok)
	assert.NotEmpty(t, b.memo)

	b.ClearMemo()
	assert.Empty(t, b.memo)
}
