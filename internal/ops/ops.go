// Package ops implements spec.md §3/§4.4's operation tree: the tagged
// variant {GenLink, Swap, Purify} with explicit status transitions, and the
// request-scoped arena ("Tree") that holds it. Each Request owns one Tree;
// op ids are indices into that Tree's Ops slice, matching the
// arena-of-values style from spec.md §9 DESIGN NOTE #1.
package ops

import (
	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/qnet"
)

// Kind is the operation's tagged variant.
type Kind int

const (
	GenLink Kind = iota
	Swap
	Purify
)

func (k Kind) String() string {
	switch k {
	case GenLink:
		return "GenLink"
	case Swap:
		return "Swap"
	case Purify:
		return "Purify"
	default:
		return "Unknown"
	}
}

// Status is the operation's lifecycle state.
type Status int

const (
	Waiting Status = iota
	Ready
	Running
	Done
	Retry
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Done:
		return "Done"
	case Retry:
		return "Retry"
	default:
		return "Unknown"
	}
}

// Operation is one node of a swap plan: a GenLink leaf, or an internal Swap
// (exactly two children) or Purify (one child, plus an optional
// PSW-spliced sacrificial pair) node.
type Operation struct {
	ID      ids.OpID
	Kind    Kind
	N1, N2  ids.NodeID
	Via     ids.NodeID    // Swap only; ids.None otherwise
	Channel ids.ChannelID // GenLink only; ids.None otherwise

	Status   Status
	Parent   ids.OpID // ids.None if root
	Children []ids.OpID
	Request  ids.RequestID

	EP     ids.EPID   // produced EP once Done; ids.None otherwise
	PurEPs []ids.EPID // 0, 1 (gathering) or 2 (ready to purify) entries

	// ThresholdPurified latches once a PSW purify targeting this op has
	// resolved (success or failure), so PSW never re-schedules against the
	// same waiting EP twice (spec.md §4.6).
	ThresholdPurified bool
	// DemandRegistered gates idempotent GenLink demand registration
	// (spec.md §4.5's "idempotent via demand_registered").
	DemandRegistered bool

	// ReqFidelity is the fidelity this op's subtree was built to satisfy;
	// carried for PSW threshold comparisons and logging.
	ReqFidelity float64
	// Latency is the plan builder's estimated latency for this subtree.
	Latency float64
	// Length is the physical length the scheduler's classical_delay_slots
	// formula uses for this op's completion event: a channel's length for
	// GenLink, and the longest/child length for Swap/Purify (spec.md §9
	// DESIGN NOTE (c) flags this as an approximation for multi-hop purify
	// targets; carrying it per-op avoids re-deriving it from a possibly
	// channel-less composite EP at runtime).
	Length float64
}

// IsLeaf reports whether op is a GenLink leaf.
func (o *Operation) IsLeaf() bool { return o.Kind == GenLink }

// Tree is a single request's operation arena: Root indexes the op whose
// completion satisfies the request, Ops holds every node in the tree in
// post-order (children always appear before their parent, because the
// plan builder constructs leaves first and passes already-built child ids
// into NewSwap/NewPurify).
type Tree struct {
	Ops     []Operation
	Root    ids.OpID
	Request ids.RequestID
}

// NewTree returns an empty tree scoped to the given request.
func NewTree(request ids.RequestID) *Tree {
	return &Tree{Request: request, Root: ids.None}
}

// Op returns a mutable pointer to the operation with the given id.
func (t *Tree) Op(id ids.OpID) *Operation {
	return &t.Ops[id]
}

func (t *Tree) addOp(op Operation) ids.OpID {
	op.ID = ids.OpID(len(t.Ops))
	op.Request = t.Request
	op.Parent = ids.None
	op.Via = ids.None
	op.Channel = ids.None
	op.EP = ids.None
	t.Ops = append(t.Ops, op)
	return op.ID
}

// NewGenLink appends a leaf op, starting Ready (leaves are always ready,
// spec.md §4.4). length is the owning channel's physical length.
func (t *Tree) NewGenLink(n1, n2 ids.NodeID, channel ids.ChannelID, reqFidelity, latency, length float64) ids.OpID {
	id := t.addOp(Operation{
		Kind:        GenLink,
		N1:          n1,
		N2:          n2,
		Status:      Ready,
		ReqFidelity: reqFidelity,
		Latency:     latency,
		Length:      length,
	})
	t.Ops[id].Channel = channel
	return id
}

// NewSwap appends a Swap op over two already-built children, starting
// Waiting, and wires the children's Parent back-pointer. length is the
// longer of the two children's lengths (spec.md §9 DESIGN NOTE (c)).
func (t *Tree) NewSwap(n1, n2, via ids.NodeID, left, right ids.OpID, reqFidelity, latency, length float64) ids.OpID {
	id := t.addOp(Operation{
		Kind:        Swap,
		N1:          n1,
		N2:          n2,
		Status:      Waiting,
		Children:    []ids.OpID{left, right},
		ReqFidelity: reqFidelity,
		Latency:     latency,
		Length:      length,
	})
	t.Ops[id].Via = via
	t.Ops[left].Parent = id
	t.Ops[right].Parent = id
	return id
}

// NewPurify appends a Purify op over one already-built child, starting
// Waiting. length carries the child's physical length forward, per spec.md
// §9 DESIGN NOTE (c)'s approximation.
func (t *Tree) NewPurify(n1, n2 ids.NodeID, child ids.OpID, reqFidelity, latency, length float64) ids.OpID {
	id := t.addOp(Operation{
		Kind:        Purify,
		N1:          n1,
		N2:          n2,
		Status:      Waiting,
		Children:    []ids.OpID{child},
		ReqFidelity: reqFidelity,
		Latency:     latency,
		Length:      length,
	})
	t.Ops[child].Parent = id
	return id
}

// NewPSWPurify appends a synthetic Purify op wired per spec.md §4.6's
// sacrificial-ready hook: children = [targetOp], pur_eps pre-populated,
// starting Ready (the gathering phase is skipped entirely).
func (t *Tree) NewPSWPurify(n1, n2 ids.NodeID, targetOp ids.OpID, sacrificeEP, targetEP ids.EPID) ids.OpID {
	id := t.addOp(Operation{
		Kind:     Purify,
		N1:       n1,
		N2:       n2,
		Status:   Ready,
		Children: []ids.OpID{targetOp},
		PurEPs:   []ids.EPID{sacrificeEP, targetEP},
	})
	return id
}

// Start transitions a Ready op to Running, returning false if it wasn't
// Ready.
func (t *Tree) Start(id ids.OpID) bool {
	op := t.Op(id)
	if op.Status != Ready {
		return false
	}
	op.Status = Running
	return true
}

// Finish transitions a Running op to Done with the produced EP, and
// notifies the parent via JudgeReady. Returns the same regen signal
// JudgeReady returns (see below) for the Purify one-EP-gathered case.
func (t *Tree) Finish(pool *qnet.Pool, id ids.OpID, ep ids.EPID) (regenTarget ids.OpID, needsRegen bool) {
	op := t.Op(id)
	op.Status = Done
	op.EP = ep
	if op.Parent == ids.None {
		return ids.None, false
	}
	return t.JudgeReady(pool, id)
}

// JudgeReady implements the Waiting -> Ready transition policy of
// spec.md §4.4 for the parent of childID, which must have just reached
// Done. For Purify parents, it returns (childID, true) when the parent has
// gathered its first EP and must re-request a regen of the SAME child
// subtree to manufacture the second (sacrificial) copy.
func (t *Tree) JudgeReady(pool *qnet.Pool, childID ids.OpID) (regenTarget ids.OpID, needsRegen bool) {
	child := t.Op(childID)
	parentID := child.Parent
	if parentID == ids.None {
		return ids.None, false
	}
	parent := t.Op(parentID)

	switch parent.Kind {
	case Swap:
		allDone := true
		for _, c := range parent.Children {
			if t.Op(c).Status != Done {
				allDone = false
				break
			}
		}
		if allDone {
			parent.Status = Ready
		}
	case Purify:
		ep := child.EP
		pool.SetOwner(ep, parentID)
		parent.PurEPs = append(parent.PurEPs, ep)
		switch len(parent.PurEPs) {
		case 1:
			parent.Status = Waiting
			return childID, true
		default:
			parent.Status = Ready
		}
	case GenLink:
		// leaves have no children; unreachable.
	}
	return ids.None, false
}

// RequestRegen implements the request_regen transition of spec.md §4.4:
// the op clears its produced EP and pur_eps, becomes Ready (if a leaf) or
// Retry (if internal), and recursively resets every descendant the same
// way.
func (t *Tree) RequestRegen(id ids.OpID) {
	op := t.Op(id)
	op.EP = ids.None
	op.PurEPs = nil
	op.DemandRegistered = false

	if len(op.Children) == 0 {
		op.Status = Ready
		return
	}
	op.Status = Retry
	for _, c := range op.Children {
		t.RequestRegen(c)
	}
}

// WaitingCandidate is an op exposing an idle EP: the PSW-detectable state
// described in spec.md §4.6.
type WaitingCandidate struct {
	Op ids.OpID
	EP ids.EPID
}

// ExposedEP returns the EP currently exposed by op id, and whether it is in
// one of the three PSW-detectable waiting shapes: a Done root GenLink still
// holding its produced EP, a Swap with exactly one child Done, or a Purify
// with exactly one gathered pur_ep.
func (t *Tree) ExposedEP(id ids.OpID) (ids.EPID, bool) {
	op := t.Op(id)
	switch op.Kind {
	case GenLink:
		// Only a ROOT GenLink (a trivial one-hop plan with no parent to
		// notify) counts here: a GenLink with a parent already reports
		// through that parent's Swap/Purify case below, so counting it
		// again here would let the same physical EP spawn two competing
		// PSW groups for one waiting target.
		if op.Parent == ids.None && op.Status == Done && op.EP != ids.None {
			return op.EP, true
		}
	case Swap:
		if op.Status != Waiting && op.Status != Retry {
			return ids.None, false
		}
		doneCount := 0
		exposed := ids.EPID(ids.None)
		for _, c := range op.Children {
			if ch := t.Op(c); ch.Status == Done {
				doneCount++
				exposed = ch.EP
			}
		}
		if doneCount == 1 {
			return exposed, true
		}
	case Purify:
		if op.Status == Waiting && len(op.PurEPs) == 1 {
			return op.PurEPs[0], true
		}
	}
	return ids.None, false
}

// WaitingCandidates scans the tree for every op ExposedEP reports as
// waiting.
func (t *Tree) WaitingCandidates() []WaitingCandidate {
	var out []WaitingCandidate
	for i := range t.Ops {
		if ep, ok := t.ExposedEP(t.Ops[i].ID); ok {
			out = append(out, WaitingCandidate{Op: t.Ops[i].ID, EP: ep})
		}
	}
	return out
}

// CloneSubtree copies the subtree rooted at rootOp into a fresh Tree scoped
// to targetReq: fresh op ids, parent/children re-linked within the new
// tree, every leaf reset to Ready and every internal node reset to Waiting
// (spec.md §4.6: "clone the target op's entire subtree verbatim — same
// types/endpoints, fresh ids, all leaves Ready, internals Waiting,
// parent/children re-linked"). Returns the new tree and the id of the
// cloned root within it.
func (t *Tree) CloneSubtree(rootOp ids.OpID, targetReq ids.RequestID) (*Tree, ids.OpID) {
	clone := NewTree(targetReq)
	var walk func(id ids.OpID) ids.OpID
	walk = func(id ids.OpID) ids.OpID {
		src := t.Op(id)
		switch src.Kind {
		case GenLink:
			return clone.NewGenLink(src.N1, src.N2, src.Channel, src.ReqFidelity, src.Latency, src.Length)
		case Swap:
			left := walk(src.Children[0])
			right := walk(src.Children[1])
			return clone.NewSwap(src.N1, src.N2, src.Via, left, right, src.ReqFidelity, src.Latency, src.Length)
		default: // Purify
			child := walk(src.Children[0])
			return clone.NewPurify(src.N1, src.N2, child, src.ReqFidelity, src.Latency, src.Length)
		}
	}
	root := walk(rootOp)
	clone.Root = root
	return clone, root
}

// ReadyOps returns the ids of every op currently in status Ready, in tree
// (post-)order, matching request_handler_routine's "walk its ops in tree
// order; for each with status Ready, invoke the handler" (spec.md §4.5).
func (t *Tree) ReadyOps() []ids.OpID {
	var out []ids.OpID
	for i := range t.Ops {
		if t.Ops[i].Status == Ready {
			out = append(out, t.Ops[i].ID)
		}
	}
	return out
}
