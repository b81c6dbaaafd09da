// Package qnet implements spec.md §3's data model for the physical layer:
// QNode, QChannel, the EP (Bell pair) pool, and channel memory accounting
// (§4.3). Nodes and channels are immutable values in slice-backed arenas
// indexed by stable ids (spec.md §9 DESIGN NOTE #1), mirroring the
// arena-of-values style the teacher repo uses for its registry of pending
// promises (eventloop/registry.go) adapted to this domain's entities.
package qnet

import "github.com/qnetlab/edpsim/internal/ids"

// QNode is identity only: a stable handle used as a graph vertex and
// dictionary key everywhere else in the simulator.
type QNode struct {
	ID   ids.NodeID
	Name string
}

// QChannel is an undirected edge between exactly two QNodes.
type QChannel struct {
	ID       ids.ChannelID
	Name     string
	A, B     ids.NodeID
	Length   float64 // physical length, arbitrary distance unit
	InitFid  float64 // fidelity of a freshly generated link-level EP
	Capacity int     // max concurrent link-level EPs on this channel
	Rate     float64 // direct-link EP generation rate (pairs/sec), for the EDP builder's Q[(u,v)] = {rate, fid}

	usage int // current memory usage; mutated only via Reserve/Release
}

// Other returns the endpoint of the channel that isn't n, and false if n is
// not one of the channel's two endpoints.
func (c *QChannel) Other(n ids.NodeID) (ids.NodeID, bool) {
	switch n {
	case c.A:
		return c.B, true
	case c.B:
		return c.A, true
	default:
		return 0, false
	}
}

// Usage returns the current memory usage, for invariant checks and tests.
func (c *QChannel) Usage() int { return c.usage }

// HasFreeMemory reports whether the channel has capacity for one more
// link-level EP.
func (c *QChannel) HasFreeMemory() bool { return c.usage < c.Capacity }

// Reserve increments memory usage, enforcing the invariant
// 0 <= usage <= capacity from spec.md §3. Returns false (CapacityExhausted,
// §7) without mutating state if the channel is full.
func (c *QChannel) Reserve() bool {
	if c.usage >= c.Capacity {
		return false
	}
	c.usage++
	return true
}

// Release decrements memory usage. It is a no-op (never goes negative) if
// called on an already-empty channel, which should not happen under correct
// bookkeeping but is defensive against double-release bugs surfacing as an
// InvariantViolation elsewhere rather than corrupting the counter.
func (c *QChannel) Release() {
	if c.usage > 0 {
		c.usage--
	}
}

// Network is the topology the controller is installed on: node and channel
// arenas plus an adjacency index from node to incident channel ids. Network
// construction (from Waxman/Grid/Line generators) is explicitly out of
// scope per spec.md §1/§6; this type is the narrow surface the controller
// consumes (`network.qchannels` and `network.nodes`).
type Network struct {
	Nodes    []QNode
	Channels []QChannel

	adjacency map[ids.NodeID][]ids.ChannelID
}

// NewNetwork builds a Network from a pre-built node and channel list,
// indexing adjacency for ChannelBetween lookups.
func NewNetwork(nodes []QNode, channels []QChannel) *Network {
	n := &Network{
		Nodes:     nodes,
		Channels:  channels,
		adjacency: make(map[ids.NodeID][]ids.ChannelID, len(nodes)),
	}
	for i := range n.Channels {
		c := &n.Channels[i]
		n.adjacency[c.A] = append(n.adjacency[c.A], c.ID)
		n.adjacency[c.B] = append(n.adjacency[c.B], c.ID)
	}
	return n
}

// Channel returns a pointer into the arena for in-place mutation of memory
// counters.
func (n *Network) Channel(id ids.ChannelID) *QChannel {
	if int(id) < 0 || int(id) >= len(n.Channels) {
		return nil
	}
	return &n.Channels[id]
}

// Node returns the QNode for id.
func (n *Network) Node(id ids.NodeID) *QNode {
	if int(id) < 0 || int(id) >= len(n.Nodes) {
		return nil
	}
	return &n.Nodes[id]
}

// ChannelBetween returns the direct channel connecting u and v, if any.
func (n *Network) ChannelBetween(u, v ids.NodeID) (*QChannel, bool) {
	for _, cid := range n.adjacency[u] {
		c := &n.Channels[cid]
		if (c.A == u && c.B == v) || (c.A == v && c.B == u) {
			return c, true
		}
	}
	return nil, false
}
