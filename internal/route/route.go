// Package route defines the narrow routing interface spec.md §6 calls
// for ("network.route.query(src, dest) -> [(cost, next_hop, path)]; the
// builder uses path from the first entry") without implementing a real
// router: Waxman/Grid/Line topology generation and Dijkstra shortest-path
// routing are explicitly out of scope (spec.md §1) and remain external
// collaborators. Straight is a minimal adapter good enough to exercise
// the plan builder and scheduler against an explicit topology, by BFS over
// unweighted hop count rather than any cost-weighted shortest-path search.
package route

import (
	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/qnet"
)

// Route is one candidate path spec.md §6 describes as a (cost, next_hop,
// path) tuple.
type Route struct {
	Cost    float64
	NextHop ids.NodeID
	Path    []ids.NodeID
}

// Query is the interface cmd/edpsim uses to pick each request's path (the
// plan builder is then handed that path directly): Query(src, dest)
// returns every candidate route, ordered so the first entry is the one the
// builder should use, and false if src and dest are not connected.
type Query interface {
	Query(src, dest ids.NodeID) ([]Route, bool)
}

// Straight is the minimal Query implementation named in SPEC_FULL.md: a
// single unweighted-BFS shortest path per (src, dest) pair, memoized per
// source node. It is not a replacement for real routing (no edge weights,
// no k-shortest-paths, no link-state updates) — just enough connectivity
// to drive a single EDP plan per request in tests and the example CLI.
type Straight struct {
	net   *qnet.Network
	cache map[ids.NodeID]map[ids.NodeID][]ids.NodeID
}

// NewStraight returns a Straight router over net.
func NewStraight(net *qnet.Network) *Straight {
	return &Straight{net: net, cache: make(map[ids.NodeID]map[ids.NodeID][]ids.NodeID)}
}

// Query implements Query via breadth-first search from src, caching the
// resulting shortest-path tree so repeated queries from the same src are
// O(1) after the first.
func (s *Straight) Query(src, dest ids.NodeID) ([]Route, bool) {
	paths, ok := s.cache[src]
	if !ok {
		paths = s.bfs(src)
		s.cache[src] = paths
	}
	path, ok := paths[dest]
	if !ok {
		return nil, false
	}
	next := dest
	if len(path) > 1 {
		next = path[1]
	}
	return []Route{{Cost: float64(len(path) - 1), NextHop: next, Path: path}}, true
}

// bfs computes the shortest (fewest-hop) path from src to every reachable
// node.
func (s *Straight) bfs(src ids.NodeID) map[ids.NodeID][]ids.NodeID {
	paths := map[ids.NodeID][]ids.NodeID{src: {src}}
	queue := []ids.NodeID{src}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, n := range s.net.Nodes {
			if _, visited := paths[n.ID]; visited {
				continue
			}
			if _, adjacent := s.net.ChannelBetween(u, n.ID); !adjacent {
				continue
			}
			paths[n.ID] = append(append([]ids.NodeID{}, paths[u]...), n.ID)
			queue = append(queue, n.ID)
		}
	}
	return paths
}
