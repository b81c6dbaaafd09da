// Package ids defines the stable identifier types shared across the
// simulator's arenas (spec.md §9 DESIGN NOTE: "represent nodes, channels,
// EPs, ops, and requests as values in arenas indexed by stable ids;
// ownership is 'the arena'; relations are ids"). Keeping these types in
// one leaf package lets qnet, ops, plan, sched and psw all refer to each
// other's entities by id without import cycles.
package ids

// NodeID indexes a QNode in a Network's node arena.
type NodeID int

// ChannelID indexes a QChannel in a Network's channel arena.
type ChannelID int

// EPID indexes an EP (Bell pair) in a Pool.
type EPID int

// OpID indexes an Operation in a Request's op arena.
type OpID int

// RequestID indexes a Request in the controller's request list.
type RequestID int

// None is the sentinel "no id" value for every id type in this package
// (all ids are non-negative when valid).
const None = -1
