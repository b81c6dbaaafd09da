package route

import (
	"testing"

	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/qnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(n int) *qnet.Network {
	nodes := make([]qnet.QNode, n)
	for i := 0; i < n; i++ {
		nodes[i] = qnet.QNode{ID: ids.NodeID(i), Name: "n"}
	}
	channels := make([]qnet.QChannel, n-1)
	for i := 0; i < n-1; i++ {
		channels[i] = qnet.QChannel{ID: ids.ChannelID(i), A: ids.NodeID(i), B: ids.NodeID(i + 1), Length: 1, InitFid: 0.9, Capacity: 1, Rate: 1}
	}
	return qnet.NewNetwork(nodes, channels)
}

func TestStraightFindsShortestPathOverLine(t *testing.T) {
	net := line(5)
	r := NewStraight(net)

	routes, ok := r.Query(0, 4)
	require.True(t, ok)
	require.Len(t, routes, 1)
	assert.Equal(t, []ids.NodeID{0, 1, 2, 3, 4}, routes[0].Path)
	assert.InDelta(t, 4.0, routes[0].Cost, 1e-9)
	assert.Equal(t, ids.NodeID(1), routes[0].NextHop)
}

func TestStraightReportsUnreachable(t *testing.T) {
	nodes := []qnet.QNode{{ID: 0, Name: "a"}, {ID: 1, Name: "b"}}
	net := qnet.NewNetwork(nodes, nil)
	r := NewStraight(net)

	_, ok := r.Query(0, 1)
	assert.False(t, ok)
}

func TestStraightCachesPerSource(t *testing.T) {
	net := line(3)
	r := NewStraight(net)

	_, ok := r.Query(0, 2)
	require.True(t, ok)
	assert.Contains(t, r.cache, ids.NodeID(0))

	routes, ok := r.Query(0, 1)
	require.True(t, ok)
	assert.Equal(t, []ids.NodeID{0, 1}, routes[0].Path)
}
