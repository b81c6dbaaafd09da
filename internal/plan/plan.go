// Package plan implements spec.md §4.2's EDP plan builder: a memoized
// recursion over a fixed path that picks, for each sub-span and required
// fidelity, the cheapest-latency way to realize it as a direct link, a
// swap of two cheaper sub-spans, or a purify of one cheaper sub-span
// against itself. The winning recursion is then flattened into an
// ops.Tree, exploiting the fact that ops.Tree.New{Swap,Purify} already
// build their Ops slice in post-order (spec.md §9 DESIGN NOTE #1).
package plan

import (
	"hash/fnv"
	"math"

	"github.com/qnetlab/edpsim/internal/fidelity"
	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/ops"
	"github.com/qnetlab/edpsim/internal/qnet"
)

// Config carries the controller-wide constants the fidelity/latency models
// need (spec.md §4.1), plus the search parameters of §4.2.
type Config struct {
	FGrid        []float64 // candidate fidelity grid F, e.g. fidelity.Grid(0.70, 1.00, 0.01)
	DMax         int       // recursion-depth cap
	PSwap        float64
	TauFail      float64
	TauClassical float64
	TauPurify    float64
}

type decisionKind int

const (
	dDirect decisionKind = iota
	dSwap
	dPurify
)

// decision records how a memo entry's latency was achieved, so Flatten can
// rebuild the corresponding ops.Operation without re-running the search.
type decision struct {
	kind decisionKind

	// dDirect
	channel ids.ChannelID

	// dSwap
	zi     int // path index of the swap's intermediate node
	f1, f2 float64

	// dPurify
	f0 float64
}

type memoKey struct {
	I, J      int // path indices, I < J
	FReq      float64
	Remaining int    // depth budget this subproblem was solved under
	PathHash  uint64 // spec.md §9 DESIGN NOTE: mix the path into the memo key
}

// pathHash derives a stable hash of the node identities in a path, so the
// memo key never collides across two Builders whose paths differ but whose
// (src, dest) endpoints happen to coincide (spec.md §9 DESIGN NOTE).
func pathHash(path []ids.NodeID) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, n := range path {
		v := uint64(n)
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

type memoEntry struct {
	ok       bool
	latency  float64
	decision decision
}

// Builder runs the EDP search over a single fixed path. One Builder should
// be constructed per distinct path (its memo is scoped to that path's node
// identities), matching the safe option spec.md §9's DESIGN NOTE recommends
// over a memo shared across requests with different endpoints.
type Builder struct {
	net   *qnet.Network
	path  []ids.NodeID
	idx   map[ids.NodeID]int
	cfg   Config
	phash uint64

	memo map[memoKey]*memoEntry
}

// NewBuilder returns a Builder scoped to path, ordered src to dest.
func NewBuilder(net *qnet.Network, path []ids.NodeID, cfg Config) *Builder {
	idx := make(map[ids.NodeID]int, len(path))
	for i, n := range path {
		idx[n] = i
	}
	return &Builder{
		net:   net,
		path:  path,
		idx:   idx,
		cfg:   cfg,
		phash: pathHash(path),
		memo:  make(map[memoKey]*memoEntry),
	}
}

// ClearMemo discards cached sub-results, e.g. before reusing a Builder for
// a request batch over a path whose node identities have changed.
func (b *Builder) ClearMemo() {
	b.memo = make(map[memoKey]*memoEntry)
}

// Build runs the EDP search for (src, dest, fReq) over the Builder's path
// and flattens the winning tree into a fresh ops.Tree owned by request. It
// returns (nil, 0, false) on BuildFailure (spec.md §7): unreachable under
// fReq within the depth cap.
func (b *Builder) Build(request ids.RequestID, src, dest ids.NodeID, fReq float64) (*ops.Tree, float64, bool) {
	i, ok := b.idx[src]
	if !ok {
		return nil, 0, false
	}
	j, ok := b.idx[dest]
	if !ok {
		return nil, 0, false
	}
	if i > j {
		i, j = j, i
	}
	if i == j {
		return nil, 0, false
	}

	entry, ok := b.solve(i, j, fReq, b.cfg.DMax)
	if !ok {
		return nil, 0, false
	}

	tr := ops.NewTree(request)
	root := b.flatten(tr, i, j, fReq, b.cfg.DMax)
	tr.Root = root
	return tr, entry.latency, true
}

// solve is the memoized recursion of spec.md §4.2, keyed on
// (i, j, fReq, remaining) with i < j path indices. remaining is folded into
// the key rather than used as a reuse guard: the same (i, j, fReq) span can
// recur at different depths within one Build() call (e.g. a span reached
// directly from the root and again nested under a wider swap), and each
// depth budget can admit a different, non-interchangeable set of
// candidates. Reusing a shallower-budget answer for a deeper-budget query
// would silently return a higher-latency tree even though a strictly
// better decomposition was enumerable within the requested cap.
func (b *Builder) solve(i, j int, fReq float64, remaining int) (*memoEntry, bool) {
	key := memoKey{I: i, J: j, FReq: fReq, Remaining: remaining, PathHash: b.phash}
	if e, found := b.memo[key]; found {
		return e, e.ok
	}
	if remaining < 0 {
		e := &memoEntry{ok: false}
		b.memo[key] = e
		return e, false
	}

	u, v := b.path[i], b.path[j]
	best := &memoEntry{ok: false, latency: math.Inf(1)}

	// 1. Direct link.
	if ch, found := b.net.ChannelBetween(u, v); found && ch.InitFid >= fReq && ch.Rate > 0 {
		lat := 1.0 / ch.Rate
		if lat < best.latency {
			best.ok = true
			best.latency = lat
			best.decision = decision{kind: dDirect, channel: ch.ID}
		}
	}

	// 2. Swap: every intermediate path position strictly between i and j,
	// every (f1, f2) combination from the grid, lowest intermediate index
	// first so ties are resolved in its favor automatically (we only ever
	// replace best on a STRICTLY smaller latency).
	if remaining > 0 {
		for z := i + 1; z < j; z++ {
			for _, f1 := range b.cfg.FGrid {
				for _, f2 := range b.cfg.FGrid {
					if fidelity.Swap(f1, f2) < fReq {
						continue
					}
					left, okL := b.solve(i, z, f1, remaining-1)
					if !okL {
						continue
					}
					right, okR := b.solve(z, j, f2, remaining-1)
					if !okR {
						continue
					}
					lat := fidelity.SwapLatency(left.latency, right.latency, b.cfg.PSwap, b.cfg.TauFail, b.cfg.TauClassical)
					if lat < best.latency {
						best.ok = true
						best.latency = lat
						best.decision = decision{kind: dSwap, zi: z, f1: f1, f2: f2}
					}
				}
			}
		}

		// 3. Purify: recurse at a lower fidelity f0 that purifies up to fReq.
		for _, f0 := range b.cfg.FGrid {
			if f0 >= fReq {
				continue
			}
			if fidelity.Purify(f0, f0) < fReq {
				continue
			}
			child, okC := b.solve(i, j, f0, remaining-1)
			if !okC {
				continue
			}
			pPur := fidelity.PurifySuccess(f0, f0)
			lat := fidelity.PurifyLatency(child.latency, pPur, b.cfg.TauPurify, b.cfg.TauClassical)
			if lat < best.latency {
				best.ok = true
				best.latency = lat
				best.decision = decision{kind: dPurify, f0: f0}
			}
		}
	}

	b.memo[key] = best
	return best, best.ok
}

// flatten rebuilds the ops.Tree nodes for the decision memoized at
// (i, j, fReq, remaining), recursing into children. It re-derives the
// decision from the memo (already populated by solve), so it never repeats
// the O(|path|*|F|^2) search.
func (b *Builder) flatten(tr *ops.Tree, i, j int, fReq float64, remaining int) ids.OpID {
	key := memoKey{I: i, J: j, FReq: fReq, Remaining: remaining, PathHash: b.phash}
	e := b.memo[key]
	u, v := b.path[i], b.path[j]

	switch e.decision.kind {
	case dDirect:
		ch := b.net.Channel(e.decision.channel)
		return tr.NewGenLink(u, v, e.decision.channel, fReq, e.latency, ch.Length)
	case dSwap:
		z := e.decision.zi
		left := b.flatten(tr, i, z, e.decision.f1, remaining-1)
		right := b.flatten(tr, z, j, e.decision.f2, remaining-1)
		length := math.Max(tr.Op(left).Length, tr.Op(right).Length)
		return tr.NewSwap(u, v, b.path[z], left, right, fReq, e.latency, length)
	default: // dPurify
		child := b.flatten(tr, i, j, e.decision.f0, remaining-1)
		return tr.NewPurify(u, v, child, fReq, e.latency, tr.Op(child).Length)
	}
}
