// Package debugger defines the uniform surface every tier of the tree
// debugs through: a leaf node backed directly by a gdb subprocess, and an
// interior node backed by its children's aggregate. The original
// distinguished these with runtime downcasting (as_any_mut/as_treestate);
// here they're just two implementations of one interface, selected by the
// caller rather than discovered by type assertion.
package debugger

import (
	"context"

	"go.skia.org/snapped/internal/snapshot"
)

// Debugger is the operation set every node in the tree answers, whether it
// forwards to a local gdb process or fans out to children and merges.
type Debugger interface {
	// SetID assigns the tree ID this debugger was allocated.
	SetID(id uint64)
	// ID returns the previously assigned tree ID.
	ID() uint64

	// Start launches the debuggee (or, for an interior node, every
	// debuggee in its subtree).
	Start(ctx context.Context) error
	// Stop interrupts a running debuggee.
	Stop(ctx context.Context) error
	// Continue resumes a stopped debuggee.
	Continue(ctx context.Context) error
	// Count reports how many processes this debugger (sub)tree manages.
	Count(ctx context.Context) (int, error)
	// State reports the run state of every thread this debugger
	// (sub)tree manages, keyed by thread ID.
	State(ctx context.Context) (map[uint32]snapshot.RunState, error)
	// Snapshot reports the deduplicated aggregate snapshot of every
	// process this debugger (sub)tree manages.
	Snapshot(ctx context.Context) (snapshot.ProgramSnapshot, error)
	// Symbols reports the merged symbol table of every process this
	// debugger (sub)tree manages.
	Symbols(ctx context.Context) (snapshot.SymbolTable, error)
}

// idHolder is embedded by both implementations to satisfy SetID/ID.
type idHolder struct {
	id uint64
}

// SetID implements Debugger.
func (h *idHolder) SetID(id uint64) { h.id = id }

// ID implements Debugger.
func (h *idHolder) ID() uint64 { return h.id }

// IsRunning reports whether every entry in a state map is Running.
func IsRunning(state map[uint32]snapshot.RunState) bool {
	for _, s := range state {
		if !s.IsRunning() {
			return false
		}
	}
	return true
}

// IsStopped reports whether every entry in a state map is Stopped.
func IsStopped(state map[uint32]snapshot.RunState) bool {
	for _, s := range state {
		if !s.IsStopped() {
			return false
		}
	}
	return true
}

// AnyExited reports whether any Stopped entry in a state map represents an
// exited process.
func AnyExited(state map[uint32]snapshot.RunState) bool {
	for _, s := range state {
		if s.IsStopped() && s.Stop != nil && s.Stop.Exited() {
			return true
		}
	}
	return false
}
