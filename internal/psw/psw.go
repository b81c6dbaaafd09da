// Package psw implements spec.md §4.6's speculative-purification subsystem
// (Purify-while-Swap-Waiting): scanning for ops exposing an idle,
// below-threshold EP, cloning a sacrificial subtree for them, and racing
// that clone against whatever the original request is still waiting on.
//
// internal/sched never imports this package: Manager satisfies
// sched.PSWEngine structurally, calling back into the controller through
// sched.Host — an interface defined in sched, not here, so sched never
// needs to name this package's types. This package imports sched anyway,
// for the Host and Request types its methods operate on; the dependency
// only runs one way.
package psw

import (
	"fmt"

	"github.com/qnetlab/edpsim/internal/eventqueue"
	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/ops"
	"github.com/qnetlab/edpsim/internal/sched"
)

// role is a PSW op's part in its group: the sacrificial clone root, or the
// purify op built once that root is Done.
type role int

const (
	roleSacrificial role = iota
	rolePurify
)

// opRef identifies an op uniquely across the whole run: ids.OpID alone is
// only unique within a single request's Tree.
type opRef struct {
	Req ids.RequestID
	Op  ids.OpID
}

// PSWMeta is the single bookkeeping entry SPEC_FULL.md's simplification
// calls for (spec.md §9 DESIGN NOTE), replacing the source's two
// independently-mutated maps: target names the original (non-PSW) op this
// entry concerns, role distinguishes the sacrificial clone root from the
// purify op built once it's ready, and groupID ties both roles of one PSW
// attempt together. Keyed by the op's OWN opRef (a synthetic-tree op), not
// by its target.
type PSWMeta struct {
	Target  opRef
	Role    role
	GroupID int
}

type groupEntry struct {
	target   opRef
	synthReq ids.RequestID
}

// Manager owns every PSW group active in a run.
type Manager struct {
	threshold float64

	meta      map[opRef]*PSWMeta
	groups    map[int]*groupEntry
	byTarget  map[opRef]int
	nextGroup int
}

// NewManager returns a Manager that schedules speculative purifies for any
// waiting EP whose fidelity falls below threshold. A non-positive threshold
// makes Scan a no-op (spec.md §8 boundary: "psw_threshold unset disables
// PSW entirely; counters remain zero").
func NewManager(threshold float64) *Manager {
	return &Manager{
		threshold: threshold,
		meta:      make(map[opRef]*PSWMeta),
		groups:    make(map[int]*groupEntry),
		byTarget:  make(map[opRef]int),
	}
}

// Scan implements spec.md §4.6's candidate detection + scheduling step,
// invoked once per tick from links_manager_routine.
func (m *Manager) Scan(host sched.Host, tick eventqueue.Tick) {
	if m.threshold <= 0 {
		return
	}
	for _, req := range host.Requests() {
		if req.IsPSW || req.Done {
			continue
		}
		for _, cand := range req.Tree.WaitingCandidates() {
			target := opRef{Req: req.ID, Op: cand.Op}
			op := req.Tree.Op(cand.Op)
			if op.ThresholdPurified {
				continue
			}
			if _, busy := m.byTarget[target]; busy {
				continue
			}
			ep, ok := host.Pool().Get(cand.EP)
			if !ok || ep.Fidelity >= m.threshold {
				continue
			}
			m.schedule(host, req, target)
		}
	}
}

// schedule clones the target op's entire subtree into a fresh synthetic
// request and registers the sacrificial-role bookkeeping (spec.md §4.6).
func (m *Manager) schedule(host sched.Host, targetReq *sched.Request, target opRef) {
	targetOp := targetReq.Tree.Op(target.Op)

	cloneTree, cloneRoot := targetReq.Tree.CloneSubtree(target.Op, ids.None)
	synth := &sched.Request{
		Name:  fmt.Sprintf("psw[%s:op%d]", targetReq.Name, target.Op),
		Src:   targetOp.N1,
		Dest:  targetOp.N2,
		FReq:  targetOp.ReqFidelity,
		Tree:  cloneTree,
		IsPSW: true,
	}
	reqID := host.AddRequest(synth)
	cloneTree.Request = reqID
	for i := range cloneTree.Ops {
		cloneTree.Ops[i].Request = reqID
	}

	gid := m.nextGroup
	m.nextGroup++
	m.groups[gid] = &groupEntry{target: target, synthReq: reqID}
	m.byTarget[target] = gid
	m.meta[opRef{Req: reqID, Op: cloneRoot}] = &PSWMeta{Target: target, Role: roleSacrificial, GroupID: gid}

	host.Metrics().RecordPSWScheduled()
	host.Log().Debug("psw", "scheduled speculative purify", map[string]any{
		"target_request": int(target.Req), "target_op": int(target.Op), "group": gid, "synth_request": int(reqID),
	})
}

// OnOpDone implements the two hooks the generic op-completion path needs:
// the sacrificial-ready hook (spec.md §4.6) when a clone root finishes, and
// the bookkeeping update when the resulting purify op itself finishes.
func (m *Manager) OnOpDone(host sched.Host, reqID ids.RequestID, opID ids.OpID) {
	ref := opRef{Req: reqID, Op: opID}
	meta, ok := m.meta[ref]
	if !ok {
		return
	}
	switch meta.Role {
	case roleSacrificial:
		m.onSacrificialDone(host, meta, ref)
	case rolePurify:
		m.onPurifySuccess(host, meta, ref)
	}
}

// onSacrificialDone fires once the cloned sacrificial subtree reaches Done.
// If the original target has already resolved in the meantime (no longer a
// waiting candidate), the sacrifice is wasted: cancel and count it. Otherwise
// build the synthetic purify op per spec.md §4.6's sacrificial-ready hook.
func (m *Manager) onSacrificialDone(host sched.Host, meta *PSWMeta, rootRef opRef) {
	synthReq := host.RequestByID(rootRef.Req)
	targetReq := host.RequestByID(meta.Target.Req)
	root := synthReq.Tree.Op(rootRef.Op)
	tOp := targetReq.Tree.Op(meta.Target.Op)

	targetEP, stillWaiting := targetReq.Tree.ExposedEP(meta.Target.Op)
	if !stillWaiting {
		host.Pool().ConsumeEP(host.Net(), root.EP)
		m.cleanup(meta.GroupID)
		host.Metrics().RecordPSWCancelled()
		synthReq.Done = true
		synthReq.FinishTick = int64(host.Tick())
		return
	}

	sacrificeEP := root.EP
	purifyID := synthReq.Tree.NewPSWPurify(tOp.N1, tOp.N2, meta.Target.Op, sacrificeEP, targetEP)
	synthReq.Tree.Op(purifyID).Length = tOp.Length
	host.Pool().SetOwner(sacrificeEP, purifyID)
	synthReq.Tree.Root = purifyID

	delete(m.meta, rootRef)
	m.meta[opRef{Req: rootRef.Req, Op: purifyID}] = &PSWMeta{Target: meta.Target, Role: rolePurify, GroupID: meta.GroupID}

	host.Log().Debug("psw", "sacrificial EP ready, scheduling speculative purify", map[string]any{
		"target_request": int(meta.Target.Req), "target_op": int(meta.Target.Op), "group": meta.GroupID,
	})
}

// onPurifySuccess fires once the speculative purify op itself reaches Done:
// the target EP's fidelity was already improved in place by the generic
// Purify completion handler (shared qnet.EP pointer, no ownership transfer
// needed unless the target is a GenLink leaf whose own EP field must keep
// pointing at it). Latches threshold_purified and cleans up the group.
func (m *Manager) onPurifySuccess(host sched.Host, meta *PSWMeta, ref opRef) {
	synthReq := host.RequestByID(ref.Req)
	targetReq := host.RequestByID(meta.Target.Req)
	purifyOp := synthReq.Tree.Op(ref.Op)
	tOp := targetReq.Tree.Op(meta.Target.Op)

	if tOp.Kind == ops.GenLink {
		tOp.EP = purifyOp.EP
	}
	tOp.ThresholdPurified = true

	host.Metrics().RecordPSWSuccess()
	m.cleanup(meta.GroupID)

	host.Log().Debug("psw", "speculative purify succeeded", map[string]any{
		"target_request": int(meta.Target.Req), "target_op": int(meta.Target.Op), "group": meta.GroupID,
	})
}

// OnPurifyFailed implements the failure path of a speculative purify op
// (spec.md §4.6): its "child" is target_op living in a different request's
// tree, so it cannot use the generic same-tree RequestRegen fallback.
// Returns true to tell the caller it handled the regen.
func (m *Manager) OnPurifyFailed(host sched.Host, reqID ids.RequestID, opID ids.OpID) bool {
	ref := opRef{Req: reqID, Op: opID}
	meta, ok := m.meta[ref]
	if !ok || meta.Role != rolePurify {
		return false
	}
	targetReq := host.RequestByID(meta.Target.Req)
	targetReq.Tree.RequestRegen(meta.Target.Op)
	targetReq.Tree.Op(meta.Target.Op).ThresholdPurified = true

	host.Metrics().RecordPSWFail()
	m.cleanup(meta.GroupID)

	host.Log().Debug("psw", "speculative purify failed", map[string]any{
		"target_request": int(meta.Target.Req), "target_op": int(meta.Target.Op), "group": meta.GroupID,
	})
	return true
}

// cleanup removes every meta entry belonging to gid and the group itself,
// satisfying spec.md §8 invariant 4: an op is referenced by at most one
// PSW group, and cleanup removes it from both registries.
func (m *Manager) cleanup(gid int) {
	g, ok := m.groups[gid]
	if !ok {
		return
	}
	delete(m.byTarget, g.target)
	delete(m.groups, gid)
	for k, v := range m.meta {
		if v.GroupID == gid {
			delete(m.meta, k)
		}
	}
}
