// Package treeid implements the hierarchical ID factory used to hand out
// disjoint integer ranges to nodes joining the tree-based overlay network.
//
// Each factory owns an integer range; inheriting from a factory carves off
// one child sub-range and leaves the parent with one fewer slot. The
// arithmetic guarantees that any two distinct inheritance chains produce
// disjoint ranges, so IDs never collide regardless of where in the tree a
// node attaches.
package treeid

import "go.skia.org/infra/go/skerr"

// Arity is the maximum number of direct children a tree node may seat.
const Arity = 24

// Factory is an allocatable integer range. The zero value is not valid; use
// Root to construct the top-level factory.
type Factory struct {
	rootID  uint64
	dynamic uint64
	stride  uint64
	offset  uint64
	depth   uint32
}

// Root returns the factory seeded at the top of the tree, spanning the
// entire uint64 ID space.
func Root() Factory {
	return Factory{
		rootID:  0,
		dynamic: ^uint64(0),
		stride:  (^uint64(0) - 1) / Arity,
		offset:  0,
		depth:   0,
	}
}

// FromAssignment reconstructs the factory a node was allocated once it's
// told its assigned ID and tree depth. dynamic/stride at a given depth
// depend only on that depth, not on which branch of the tree was taken to
// reach it, so a remote node can recompute its own allocatable range from
// just these two numbers without the parent having to ship the whole
// Factory across the wire.
func FromAssignment(id uint64, depth uint32) Factory {
	f := Root()
	for i := uint32(0); i < depth; i++ {
		f.dynamic = (f.dynamic - 1) / Arity
		f.stride = f.dynamic / Arity
	}
	f.rootID = id
	f.offset = 0
	f.depth = depth
	return f
}

// ID returns the integer ID this factory was allocated.
func (f Factory) ID() uint64 {
	return f.rootID
}

// Depth returns how many Inherit hops separate this factory from the root.
func (f Factory) Depth() uint32 {
	return f.depth
}

// Full reports whether this factory has handed out all Arity children.
func (f Factory) Full() bool {
	return f.offset == Arity
}

// Inherit carves a new child factory off of f, advancing f's offset. It
// fails if f is already Full, or if f's own stride has collapsed to zero —
// at that depth the range can no longer guarantee disjoint IDs for
// children and their descendants, so we fail loudly rather than risk a
// silent collision (see design note on ID-factory overflow).
func (f *Factory) Inherit() (Factory, error) {
	if f.Full() {
		return Factory{}, skerr.Fmt("id factory is full: offset %d has reached arity %d", f.offset, Arity)
	}

	if f.stride == 0 {
		// A zero stride means every child at this level would be handed the
		// same root ID (rootID+1+0*offset), and a child's own dynamic range
		// can underflow once it reaches zero, so no child is carved off.
		return Factory{}, skerr.Fmt("id factory at root id %d exceeded representable tree depth (zero stride, would collide ids)", f.rootID)
	}

	child := Factory{
		rootID: f.rootID + 1 + f.stride*f.offset,
		depth:  f.depth + 1,
	}
	f.offset++

	child.dynamic = (f.dynamic - 1) / Arity
	child.stride = child.dynamic / Arity

	return child, nil
}
