package qnet

import (
	"github.com/qnetlab/edpsim/internal/fidelity"
	"github.com/qnetlab/edpsim/internal/ids"
)

// EP is a Bell pair: two endpoints, a scalar fidelity, provenance (a
// channel for link-level pairs, ids.None for swap/purify products), a
// creation tick, and at most one owning operation (spec.md §3).
type EP struct {
	ID       ids.EPID
	A, B     ids.NodeID
	Fidelity float64
	Channel  ids.ChannelID // ids.None if produced by Swap/Purify
	Created  int64         // creation tick
	IsFree   bool
	OwnerOp  ids.OpID // ids.None if free
}

// Nodes returns the EP's two endpoints.
func (e *EP) Nodes() (ids.NodeID, ids.NodeID) { return e.A, e.B }

// HasEndpoint reports whether n is one of the EP's two endpoints.
func (e *EP) HasEndpoint(n ids.NodeID) bool { return e.A == n || e.B == n }

// Decohered pairs an EP id that was just retired by decoherence with the
// operation (if any) that owned it, so the caller can issue a regen.
type Decohered struct {
	EPID    ids.EPID
	OwnerOp ids.OpID // ids.None if the EP was free
}

// Pool holds the two EP sets from spec.md §4.3: `links` (active, generation
// participating in the current tick's scheduling) and `links_next`
// (staged, not yet promoted).
type Pool struct {
	links     map[ids.EPID]*EP
	linksNext map[ids.EPID]*EP
	nextID    ids.EPID
}

// NewPool returns an empty EP pool.
func NewPool() *Pool {
	return &Pool{
		links:     make(map[ids.EPID]*EP),
		linksNext: make(map[ids.EPID]*EP),
	}
}

// GenSingleEP implements gen_single_EP (spec.md §4.3): if channel is not
// ids.None, it must have free memory or generation fails (CapacityExhausted,
// §7); on success channel memory usage is incremented and a new EP is
// staged into links_next with IsFree=true.
func (p *Pool) GenSingleEP(net *Network, a, b ids.NodeID, fidelity float64, tick int64, channel ids.ChannelID) (*EP, bool) {
	if channel != ids.None {
		ch := net.Channel(channel)
		if ch == nil || !ch.HasFreeMemory() {
			return nil, false
		}
		ch.Reserve()
	}

	ep := &EP{
		ID:       p.nextID,
		A:        a,
		B:        b,
		Fidelity: fidelity,
		Channel:  channel,
		Created:  tick,
		IsFree:   true,
		OwnerOp:  ids.None,
	}
	p.nextID++
	p.linksNext[ep.ID] = ep
	return ep, true
}

// GenProductEP inserts a swap/purify-produced EP directly into the active
// links set, pre-owned by ownerOp (no channel, no memory accounting: "only
// channel-level EPs consume a channel memory slot", spec.md §3).
func (p *Pool) GenProductEP(a, b ids.NodeID, fidelity float64, tick int64, ownerOp ids.OpID) *EP {
	ep := &EP{
		ID:       p.nextID,
		A:        a,
		B:        b,
		Fidelity: fidelity,
		Channel:  ids.None,
		Created:  tick,
		IsFree:   false,
		OwnerOp:  ownerOp,
	}
	p.nextID++
	p.links[ep.ID] = ep
	return ep
}

// PromoteNext moves every EP staged in links_next into the active links
// set, per links_manager_routine (spec.md §4.5 step 3).
func (p *Pool) PromoteNext() {
	for id, ep := range p.linksNext {
		p.links[id] = ep
		delete(p.linksNext, id)
	}
}

// Get returns the EP for id, searching the active set first, then the
// staging set.
func (p *Pool) Get(id ids.EPID) (*EP, bool) {
	if ep, ok := p.links[id]; ok {
		return ep, true
	}
	if ep, ok := p.linksNext[id]; ok {
		return ep, true
	}
	return nil, false
}

// InLinks reports whether id is present in the active links set
// specifically (spec.md §8 invariant 3: "o.ep in links").
func (p *Pool) InLinks(id ids.EPID) bool {
	_, ok := p.links[id]
	return ok
}

// SetOwner marks ep as owned by op (is_free = false).
func (p *Pool) SetOwner(epID ids.EPID, op ids.OpID) {
	if ep, ok := p.Get(epID); ok {
		ep.OwnerOp = op
		ep.IsFree = false
	}
}

// ClearOwner marks ep as free (owner_op = None, is_free = true), without
// deleting it.
func (p *Pool) ClearOwner(epID ids.EPID) {
	if ep, ok := p.Get(epID); ok {
		ep.OwnerOp = ids.None
		ep.IsFree = true
	}
}

// ConsumeEP implements consume_EP (spec.md §4.3): the EP must be owned;
// ownership is cleared and the EP is deleted (its channel memory, if any,
// released).
func (p *Pool) ConsumeEP(net *Network, epID ids.EPID) bool {
	ep, ok := p.Get(epID)
	if !ok || ep.OwnerOp == ids.None {
		return false
	}
	p.DeleteEP(net, epID)
	return true
}

// DeleteEP implements delete_EP (spec.md §4.3): releases channel memory (if
// the EP was channel-backed) and removes it from whichever set holds it.
func (p *Pool) DeleteEP(net *Network, epID ids.EPID) {
	ep, ok := p.Get(epID)
	if !ok {
		return
	}
	if ep.Channel != ids.None {
		if ch := net.Channel(ep.Channel); ch != nil {
			ch.Release()
		}
	}
	delete(p.links, epID)
	delete(p.linksNext, epID)
}

// FidelityUpdateAndDecohere applies the decoherence kernel to every EP in
// the active links set (links_manager_routine, spec.md §4.5 step 3) and
// retires (decohere_EP) any EP whose fidelity falls below fCut. It returns
// the list of retired EPs paired with their owning operation (ids.None if
// the EP was free), so the caller can issue request_regen notifications —
// qnet intentionally has no notion of Operation, to avoid an import cycle
// with the ops/sched packages that model request_regen.
func (p *Pool) FidelityUpdateAndDecohere(net *Network, dt, tMem, fCut float64) []Decohered {
	var retired []Decohered
	for id, ep := range p.links {
		ep.Fidelity = fidelity.Decohere(ep.Fidelity, dt, tMem)
		if ep.Fidelity < fCut {
			retired = append(retired, Decohered{EPID: id, OwnerOp: ep.OwnerOp})
			if ep.Channel != ids.None {
				if ch := net.Channel(ep.Channel); ch != nil {
					ch.Release()
				}
			}
			delete(p.links, id)
		}
	}
	return retired
}
