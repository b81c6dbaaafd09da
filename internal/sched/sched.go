// Package sched implements the controller scheduler of spec.md §4.5: the
// three chained per-tick routines (gen_EP_routine, request_handler_routine,
// links_manager_routine), the per-operation handlers for GenLink/Swap/
// Purify, and the classical-signaling delay formula. Routines are plain
// eventqueue.Func callbacks that each reschedule the next routine one tick
// out, matching §5's single-threaded cooperative ordering guarantee
// (gen_EP always precedes request_handler, which always precedes
// links_manager) without any real concurrency primitive — adapted from the
// teacher's callback-closed-over-loop-state dispatch style
// (eventloop/loop.go) stripped of goroutines and I/O polling.
package sched

import (
	"fmt"
	"math"

	"github.com/qnetlab/edpsim/internal/eventqueue"
	"github.com/qnetlab/edpsim/internal/fidelity"
	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/metrics"
	"github.com/qnetlab/edpsim/internal/ops"
	"github.com/qnetlab/edpsim/internal/qnet"
	"github.com/qnetlab/edpsim/internal/randsrc"
	"github.com/qnetlab/edpsim/internal/simerr"
	"github.com/qnetlab/edpsim/internal/telemetry"
)

// speedOfLight is c in spec.md §4.5's classical_delay_slots formula.
const speedOfLight = 2e8 // m/s

// classicalDelaySlots implements classical_delay_slots(length) = max(1,
// ceil(2*length/c * accuracy)), the tick delay a swap/purify completion
// waits for classical signaling to confirm the operation.
func classicalDelaySlots(length, accuracy float64) int64 {
	if length <= 0 {
		return 1
	}
	slots := math.Ceil(2 * length / speedOfLight * accuracy)
	if slots < 1 {
		slots = 1
	}
	return int64(slots)
}

// genInterval returns the tick interval between generation-cadence sweeps:
// ceil(accuracy/gen_rate), falling back to 1 tick when gen_rate is
// non-positive (spec.md §8: "Zero gen_rate falls back to a 1-tick
// interval").
func genInterval(accuracy, genRate float64) int64 {
	if genRate <= 0 {
		return 1
	}
	n := int64(math.Ceil(accuracy / genRate))
	if n < 1 {
		return 1
	}
	return n
}

// Config carries the controller-wide constants spec.md §4.1/§4.5 need at
// run time (as opposed to plan.Config's build-time search parameters).
type Config struct {
	Accuracy float64 // ticks per second
	GenRate  float64 // EP generations per second (demand-scan cadence)
	TMem     float64
	FCut     float64
	PSwap    float64
	// PPurOverride, if > 0, replaces the fidelity.PurifySuccess model with a
	// fixed probability (SPEC_FULL.md's config-driven override of §4.1's
	// p_pur model; 0 means "use the model", the spec.md default).
	PPurOverride float64
	TauFail      float64
	TauClassical float64
	TauPurify    float64
}

// Request is one installed entanglement-distribution request: either a
// user-facing request with a built EDP plan, or a PSW synthetic request
// wrapping a cloned subtree (spec.md §4.6). Requests live in a single
// ordered slice on the Controller so request_handler_routine can walk them
// in insertion order (spec.md §5).
type Request struct {
	ID    ids.RequestID
	Name  string
	Src   ids.NodeID
	Dest  ids.NodeID
	FReq  float64
	Tree  *ops.Tree
	IsPSW bool

	Done       bool
	FinishTick int64
	Fidelity   float64
}

type demand struct {
	request ids.RequestID
	op      ids.OpID
}

// demandQueue is a per-channel FIFO of pending GenLink demands, a plain
// slice-backed queue keyed by channel with no wall-clock or atomics
// machinery. Demands leave only when gen_EP_routine pops them; nothing is
// evicted by age and no remaining wait is computed.
type demandQueue struct {
	byChannel map[ids.ChannelID][]demand
	order     []ids.ChannelID
	seen      map[ids.ChannelID]bool
}

func newDemandQueue() *demandQueue {
	return &demandQueue{
		byChannel: make(map[ids.ChannelID][]demand),
		seen:      make(map[ids.ChannelID]bool),
	}
}

func (q *demandQueue) push(ch ids.ChannelID, d demand) {
	if !q.seen[ch] {
		q.seen[ch] = true
		q.order = append(q.order, ch)
	}
	q.byChannel[ch] = append(q.byChannel[ch], d)
}

// pushFront re-queues a demand at the head of its channel's FIFO, used for
// CapacityExhausted retries (spec.md §7: "push the demand back to the head
// of the queue and retry next tick").
func (q *demandQueue) pushFront(ch ids.ChannelID, d demand) {
	if !q.seen[ch] {
		q.seen[ch] = true
		q.order = append(q.order, ch)
	}
	q.byChannel[ch] = append([]demand{d}, q.byChannel[ch]...)
}

func (q *demandQueue) pop(ch ids.ChannelID) (demand, bool) {
	list := q.byChannel[ch]
	if len(list) == 0 {
		return demand{}, false
	}
	d := list[0]
	q.byChannel[ch] = list[1:]
	return d, true
}

// channels returns every channel that has ever carried a demand, in
// first-registered order, so gen_EP_routine's per-tick scan is deterministic
// (spec.md §5) rather than ranging over a Go map.
func (q *demandQueue) channels() []ids.ChannelID {
	return q.order
}

// PSWEngine is the narrow interface links_manager_routine and the op
// completion handlers drive for the PSW subsystem (spec.md §4.6),
// implemented by internal/psw.Manager. Defined here, at the point of use,
// so this package never imports psw: psw imports sched for the Host
// interface instead, breaking what would otherwise be a cycle (psw's
// sacrificial-ready hook needs to reuse this package's op completion
// machinery).
type PSWEngine interface {
	// Scan detects new PSW candidates during links_manager_routine.
	Scan(host Host, tick eventqueue.Tick)
	// OnOpDone is called right after any op in any request's tree reaches
	// Done, so PSW can notice a sacrificial root or purify-role op
	// finishing without sched needing to know PSW's internal bookkeeping.
	OnOpDone(host Host, reqID ids.RequestID, opID ids.OpID)
	// OnPurifyFailed is called when a Purify op's completion draws failure
	// (or finds its target EP gone). It returns true if it handled the
	// regen itself (a PSW purify-role op, whose child reference crosses
	// into a different request's tree and so cannot use the generic
	// same-tree RequestRegen fallback), false if the caller should fall
	// back to the generic non-PSW handling.
	OnPurifyFailed(host Host, reqID ids.RequestID, opID ids.OpID) bool
}

// Host is everything PSWEngine needs from the Controller. Kept narrow and
// defined in sched (rather than psw) so Controller satisfies it structurally
// without sched importing psw.
type Host interface {
	Net() *qnet.Network
	Pool() *qnet.Pool
	Metrics() *metrics.Collector
	Log() telemetry.Logger
	Tick() eventqueue.Tick
	Requests() []*Request
	RequestByID(id ids.RequestID) *Request
	AddRequest(r *Request) ids.RequestID
}

// Controller drives the three chained per-tick routines of spec.md §4.5
// over a Network/Pool pair and a list of installed Requests.
type Controller struct {
	net     *qnet.Network
	pool    *qnet.Pool
	queue   *eventqueue.Queue
	metrics *metrics.Collector
	rnd     *randsrc.Streams
	log     telemetry.Logger
	cfg     Config

	psw PSWEngine

	requests []*Request
	demandQ  *demandQueue

	// epRequest maps an EP to the request whose tree currently owns it.
	// Needed because qnet.Decohered.OwnerOp is an ids.OpID, which is only
	// unique within a single request's tree, not globally — the
	// decoherence sweep needs to know WHICH tree to call RequestRegen on.
	// An EP's owning request never changes without the EP being consumed
	// and recreated, so this only needs to be set once, at EP creation.
	epRequest map[ids.EPID]ids.RequestID

	nextGenTick eventqueue.Tick
	tick        eventqueue.Tick
	endTick     eventqueue.Tick
	aborted     error
}

// NewController returns a Controller ready to have requests installed and
// then Run.
func NewController(net *qnet.Network, cfg Config, m *metrics.Collector, r *randsrc.Streams, log telemetry.Logger) *Controller {
	return &Controller{
		net:       net,
		pool:      qnet.NewPool(),
		queue:     eventqueue.New(),
		metrics:   m,
		rnd:       r,
		log:       log,
		cfg:       cfg,
		demandQ:   newDemandQueue(),
		epRequest: make(map[ids.EPID]ids.RequestID),
	}
}

// SetPSW enables the PSW subsystem for this run (spec.md §4.6). Leaving it
// unset disables PSW scanning entirely (spec.md §8 boundary: counters stay
// zero).
func (c *Controller) SetPSW(p PSWEngine) { c.psw = p }

// Aborted returns the InvariantViolation that stopped the run early, if any
// (spec.md §7).
func (c *Controller) Aborted() error { return c.aborted }

// Host interface.
func (c *Controller) Net() *qnet.Network           { return c.net }
func (c *Controller) Pool() *qnet.Pool             { return c.pool }
func (c *Controller) Metrics() *metrics.Collector  { return c.metrics }
func (c *Controller) Log() telemetry.Logger        { return c.log }
func (c *Controller) Tick() eventqueue.Tick        { return c.tick }
func (c *Controller) Requests() []*Request         { return c.requests }

func (c *Controller) RequestByID(id ids.RequestID) *Request {
	if int(id) < 0 || int(id) >= len(c.requests) {
		return nil
	}
	return c.requests[id]
}

func (c *Controller) AddRequest(r *Request) ids.RequestID {
	id := ids.RequestID(len(c.requests))
	r.ID = id
	c.requests = append(c.requests, r)
	return id
}

// Install registers a user-facing request. If built is false (EDP
// BuildFailure, spec.md §7), the request is marked done immediately with
// zero fidelity and never scheduled.
func (c *Controller) Install(name string, src, dest ids.NodeID, fReq float64, tree *ops.Tree, built bool) *Request {
	req := &Request{Name: name, Src: src, Dest: dest, FReq: fReq, Tree: tree}
	c.AddRequest(req)
	if !built {
		req.Done = true
		req.FinishTick = int64(c.tick)
		c.log.Warn("scheduler", "EDP build failure, request marked done with zero fidelity", map[string]any{"name": name})
		c.metrics.RecordCompletion(int(req.ID), req.Name, req.FinishTick, 0)
	}
	return req
}

// Run seeds gen_EP_routine at tick 0 and drives the event queue through
// endTick (spec.md §4.5/§6).
func (c *Controller) Run(endTick int64) {
	c.endTick = eventqueue.Tick(endTick)
	c.nextGenTick = 0
	c.queue.At(0, c.genEPRoutine)
	eventqueue.Run(c.queue, c.endTick)
}

func (c *Controller) abort(err error) {
	c.log.Error("scheduler", "invariant violation, aborting run", err, nil)
	c.aborted = err
	c.queue.Clear()
}

// consumeEP releases an EP's channel memory (if any) and deletes it,
// clearing the epRequest tracking entry along with it.
func (c *Controller) consumeEP(id ids.EPID) {
	c.pool.ConsumeEP(c.net, id)
	delete(c.epRequest, id)
}

// requestRegen logs the regen reason (enrichment beyond spec.md's literal
// text, in the ambient logging style) and delegates to the tree.
func (c *Controller) requestRegen(req *Request, opID ids.OpID, reason string) {
	c.log.Debug("scheduler", "request_regen", map[string]any{"request": req.Name, "op": int(opID), "reason": reason})
	req.Tree.RequestRegen(opID)
}

func epFidelity(pool *qnet.Pool, id ids.EPID) float64 {
	if id == ids.None {
		return 0
	}
	if ep, ok := pool.Get(id); ok {
		return ep.Fidelity
	}
	return 0
}

func otherEndpoint(ep *qnet.EP, via ids.NodeID) ids.NodeID {
	if ep.A == via {
		return ep.B
	}
	return ep.A
}

// genEPRoutine is step 1 of spec.md §4.5: schedule request_handler_routine
// for next tick, then — if the generation cadence is due — pop one demand
// per non-empty channel queue and bind a freshly generated EP to it.
func (c *Controller) genEPRoutine(tick eventqueue.Tick) {
	if c.aborted != nil {
		return
	}
	c.tick = tick
	c.queue.After(tick, 1, c.requestHandlerRoutine)

	if tick < c.nextGenTick {
		return
	}

	for _, ch := range c.demandQ.channels() {
		d, ok := c.demandQ.pop(ch)
		if !ok {
			continue
		}
		channel := c.net.Channel(ch)
		if channel == nil {
			continue
		}
		req := c.requests[d.request]
		if req.Done {
			continue
		}
		op := req.Tree.Op(d.op)

		ep, genOK := c.pool.GenSingleEP(c.net, op.N1, op.N2, channel.InitFid, int64(tick), ch)
		if !genOK {
			// CapacityExhausted (spec.md §7): retry next cycle.
			c.demandQ.pushFront(ch, d)
			continue
		}

		c.pool.SetOwner(ep.ID, d.op)
		c.epRequest[ep.ID] = req.ID
		op.DemandRegistered = false
		regenTarget, needsRegen := req.Tree.Finish(c.pool, d.op, ep.ID)
		if c.psw != nil {
			c.psw.OnOpDone(c, req.ID, d.op)
		}
		if needsRegen {
			req.Tree.RequestRegen(regenTarget)
		}
	}

	c.nextGenTick += eventqueue.Tick(genInterval(c.cfg.Accuracy, c.cfg.GenRate))
}

// requestHandlerRoutine is step 2 of spec.md §4.5: schedule
// links_manager_routine for next tick, walk every pending request's Ready
// ops one cycle each, and finalize any request whose root just reached
// Done.
func (c *Controller) requestHandlerRoutine(tick eventqueue.Tick) {
	if c.aborted != nil {
		return
	}
	c.tick = tick
	c.queue.After(tick, 1, c.linksManagerRoutine)

	allDone := true
	for _, req := range c.requests {
		if req.Done {
			continue
		}
		for _, opID := range req.Tree.ReadyOps() {
			c.runOp(req, opID)
		}

		root := req.Tree.Op(req.Tree.Root)
		if root.Status == ops.Done && (req.IsPSW || epFidelity(c.pool, root.EP) >= req.FReq) {
			req.Done = true
			req.FinishTick = int64(tick)
			req.Fidelity = epFidelity(c.pool, root.EP)
			c.metrics.RecordCompletion(int(req.ID), req.Name, req.FinishTick, req.Fidelity)
		}
		if !req.Done {
			allDone = false
		}
	}
	if allDone {
		c.queue.Clear()
	}
}

// linksManagerRoutine is step 3 of spec.md §4.5: schedule gen_EP_routine
// for next tick, promote staged EPs, apply decoherence, and run the PSW
// scan.
func (c *Controller) linksManagerRoutine(tick eventqueue.Tick) {
	if c.aborted != nil {
		return
	}
	c.tick = tick
	c.queue.After(tick, 1, c.genEPRoutine)

	c.pool.PromoteNext()

	retired := c.pool.FidelityUpdateAndDecohere(c.net, 1.0, c.cfg.TMem, c.cfg.FCut)
	for _, d := range retired {
		reqID, tracked := c.epRequest[d.EPID]
		delete(c.epRequest, d.EPID)
		if d.OwnerOp == ids.None || !tracked {
			continue
		}
		req := c.RequestByID(reqID)
		if req == nil || req.Done {
			continue
		}
		c.requestRegen(req, d.OwnerOp, "decoherence")
	}

	if c.psw != nil {
		c.psw.Scan(c, tick)
	}
}

// runOp invokes the type-specific handler for one Ready op. GenLink never
// transitions through Running (spec.md §4.5: it goes straight to Waiting
// while its demand sits in the channel queue), so only Swap/Purify go
// through tree.Start.
func (c *Controller) runOp(req *Request, opID ids.OpID) {
	op := req.Tree.Op(opID)
	switch op.Kind {
	case ops.GenLink:
		c.handleGenLink(req, opID)
	case ops.Swap:
		if req.Tree.Start(opID) {
			c.handleSwap(req, opID)
		}
	case ops.Purify:
		if req.Tree.Start(opID) {
			c.handlePurify(req, opID)
		}
	}
}

// handleGenLink registers channel demand, idempotently, and parks the op
// in Waiting until gen_EP_routine flips it Done.
func (c *Controller) handleGenLink(req *Request, opID ids.OpID) {
	op := req.Tree.Op(opID)
	if op.DemandRegistered {
		return
	}
	op.DemandRegistered = true
	op.Status = ops.Waiting
	c.demandQ.push(op.Channel, demand{request: req.ID, op: opID})
}

// handleSwap implements spec.md §4.5's Swap handler: validate both
// children's EPs and the via node, record swap-wait samples, consume both
// EPs, and either schedule a completion (probability p_swap) or regen.
func (c *Controller) handleSwap(req *Request, opID ids.OpID) {
	op := req.Tree.Op(opID)
	leftOp, rightOp := req.Tree.Op(op.Children[0]), req.Tree.Op(op.Children[1])

	leftEP, leftOK := c.pool.Get(leftOp.EP)
	rightEP, rightOK := c.pool.Get(rightOp.EP)
	if leftOp.EP == ids.None || rightOp.EP == ids.None || !leftOK || !rightOK {
		c.requestRegen(req, opID, "missing input EP")
		return
	}
	if !leftEP.HasEndpoint(op.Via) || !rightEP.HasEndpoint(op.Via) {
		c.requestRegen(req, opID, "via node not shared by both EPs")
		return
	}

	c.metrics.RecordSwapWait(req.Name, int64(c.tick)-leftEP.Created)
	c.metrics.RecordSwapWait(req.Name, int64(c.tick)-rightEP.Created)

	n1, n2 := otherEndpoint(leftEP, op.Via), otherEndpoint(rightEP, op.Via)
	newFid := fidelity.Swap(leftEP.Fidelity, rightEP.Fidelity)
	length := op.Length

	c.consumeEP(leftOp.EP)
	c.consumeEP(rightOp.EP)

	if !randsrc.Bernoulli(c.rnd.Outcome, c.cfg.PSwap) {
		c.requestRegen(req, opID, "swap failed")
		return
	}

	delay := classicalDelaySlots(length, c.cfg.Accuracy)
	c.queue.After(c.tick, delay, func(t eventqueue.Tick) {
		c.tick = t
		if req.Tree.Op(opID).Status != ops.Running {
			return // StaleCompletion (spec.md §7)
		}
		ep := c.pool.GenProductEP(n1, n2, newFid, int64(t), opID)
		c.epRequest[ep.ID] = req.ID
		regenTarget, needsRegen := req.Tree.Finish(c.pool, opID, ep.ID)
		if c.psw != nil {
			c.psw.OnOpDone(c, req.ID, opID)
		}
		if needsRegen {
			req.Tree.RequestRegen(regenTarget)
		}
	})
}

// purifyRegenFallback handles the "target EP gone" and "purify failed"
// cases of spec.md §4.5's Purify handler. A PSW purify-role op's single
// child is a cross-tree reference into the original request, so it cannot
// use the generic same-tree RequestRegen fallback; OnPurifyFailed handles
// that case and reports back whether it did.
func (c *Controller) purifyRegenFallback(req *Request, opID ids.OpID, reason string) {
	if c.psw != nil && c.psw.OnPurifyFailed(c, req.ID, opID) {
		return
	}
	op := req.Tree.Op(opID)
	c.requestRegen(req, op.Children[0], reason)
}

// handlePurify implements spec.md §4.5's Purify handler: compute the new
// fidelity and success probability from the two gathered EPs, consume the
// sacrifice immediately, and schedule a completion that resolves success
// or failure.
func (c *Controller) handlePurify(req *Request, opID ids.OpID) {
	op := req.Tree.Op(opID)
	if len(op.PurEPs) != 2 {
		c.abort(&simerr.InvariantViolation{Cause: fmt.Sprintf("purify op %d ready with %d pur_eps, want 2", opID, len(op.PurEPs))})
		return
	}
	sacrificeID, targetID := op.PurEPs[0], op.PurEPs[1]
	sacrifice, sOK := c.pool.Get(sacrificeID)
	target, tOK := c.pool.Get(targetID)
	if !sOK || !tOK {
		c.requestRegen(req, opID, "missing pur_ep input")
		return
	}

	newFid := fidelity.Purify(target.Fidelity, sacrifice.Fidelity)
	successProb := fidelity.PurifySuccess(target.Fidelity, sacrifice.Fidelity)
	if c.cfg.PPurOverride > 0 {
		successProb = c.cfg.PPurOverride
	}
	succeeds := randsrc.Bernoulli(c.rnd.Outcome, successProb)

	c.consumeEP(sacrificeID)
	op.PurEPs = nil

	delay := classicalDelaySlots(op.Length, c.cfg.Accuracy)
	c.queue.After(c.tick, delay, func(t eventqueue.Tick) {
		c.tick = t
		if req.Tree.Op(opID).Status != ops.Running {
			return // StaleCompletion (spec.md §7)
		}
		tgt, ok := c.pool.Get(targetID)
		if !ok {
			c.purifyRegenFallback(req, opID, "purify target EP gone")
			return
		}
		if !succeeds {
			c.consumeEP(targetID)
			c.purifyRegenFallback(req, opID, "purify failed")
			return
		}
		tgt.Fidelity = newFid
		regenTarget, needsRegen := req.Tree.Finish(c.pool, opID, targetID)
		if c.psw != nil {
			c.psw.OnOpDone(c, req.ID, opID)
		}
		if needsRegen {
			req.Tree.RequestRegen(regenTarget)
		}
	})
}
