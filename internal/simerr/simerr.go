// Package simerr implements spec.md §7's error taxonomy as small typed
// errors, in the style of the teacher's eventloop/errors.go: sentinel
// errors for matching with errors.Is, plus parameterized wrapper types that
// carry the context (op/request ids) a caller needs to react correctly.
package simerr

import "fmt"

// ErrBuildFailure is the sentinel errors.Is target for BuildFailure: the
// EDP builder found no tree under the requested fidelity within D_max.
// Local handling: mark the request done with zero fidelity, skip
// scheduling.
var ErrBuildFailure = fmt.Errorf("edpsim: no tree satisfies f_req within depth cap")

// ErrMissingInput is the sentinel errors.Is target for MissingInput: a
// swap/purify handler found a required EP absent from both EP sets. Local
// handling: request a regen.
var ErrMissingInput = fmt.Errorf("edpsim: required EP not found in links or links_next")

// ErrStaleCompletion is the sentinel errors.Is target for StaleCompletion:
// a delayed completion callback arrived for an op no longer Running. Local
// handling: silently drop.
var ErrStaleCompletion = fmt.Errorf("edpsim: completion callback for op not in Running")

// ErrCapacityExhausted is the sentinel errors.Is target for
// CapacityExhausted: gen_single_EP found its channel full. Local handling:
// push the demand back to the head of the queue, retry next tick.
var ErrCapacityExhausted = fmt.Errorf("edpsim: channel memory capacity exhausted")

// BuildFailure reports which (src, dest, fReq) the builder could not
// satisfy.
type BuildFailure struct {
	Src, Dest int
	FReq      float64
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build failure: no tree for %d -> %d at f_req=%.4f", e.Src, e.Dest, e.FReq)
}

func (e *BuildFailure) Unwrap() error { return ErrBuildFailure }

// MissingInput names the operation and EP a handler expected to find.
type MissingInput struct {
	Op int
	EP int
}

func (e *MissingInput) Error() string {
	return fmt.Sprintf("missing input: op %d expected EP %d", e.Op, e.EP)
}

func (e *MissingInput) Unwrap() error { return ErrMissingInput }

// StaleCompletion names the operation a late callback targeted.
type StaleCompletion struct {
	Op int
}

func (e *StaleCompletion) Error() string {
	return fmt.Sprintf("stale completion: op %d is not Running", e.Op)
}

func (e *StaleCompletion) Unwrap() error { return ErrStaleCompletion }

// CapacityExhausted names the channel that was full.
type CapacityExhausted struct {
	Channel int
}

func (e *CapacityExhausted) Error() string {
	return fmt.Sprintf("capacity exhausted: channel %d", e.Channel)
}

func (e *CapacityExhausted) Unwrap() error { return ErrCapacityExhausted }

// InvariantViolation is fatal: it aborts the run. Cause carries the
// specific invariant that broke (spec.md §8's numbered invariants).
type InvariantViolation struct {
	Cause string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Cause)
}
