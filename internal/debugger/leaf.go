package debugger

import (
	"context"

	"go.skia.org/snapped/internal/snapshot"
)

// MIDriver is the subset of *mi.Driver the Leaf debugger needs. Declared
// here, rather than importing internal/mi directly, so tests can supply a
// fake without driving a real gdb subprocess.
type MIDriver interface {
	Run(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Continue(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	State(ctx context.Context) (map[uint32]snapshot.RunState, error)
	Snapshot(ctx context.Context) (snapshot.ProgramSnapshot, error)
	Symbols(ctx context.Context) (snapshot.SymbolTable, error)
}

// Leaf is a Debugger backed directly by a local gdb subprocess.
type Leaf struct {
	idHolder
	driver MIDriver
}

var _ Debugger = (*Leaf)(nil)

// NewLeaf wraps an MI driver as a Debugger.
func NewLeaf(driver MIDriver) *Leaf {
	return &Leaf{driver: driver}
}

// Start implements Debugger.
func (l *Leaf) Start(ctx context.Context) error { return l.driver.Run(ctx) }

// Stop implements Debugger. Idempotent: a target already stopped is left
// alone, matching the original's GdbMi::stop, which checks state before
// ever emitting -exec-interrupt.
func (l *Leaf) Stop(ctx context.Context) error {
	state, err := l.State(ctx)
	if err != nil {
		return err
	}
	if IsStopped(state) {
		return nil
	}
	return l.driver.Interrupt(ctx)
}

// Continue implements Debugger. Idempotent: a target already running, or
// one that has already exited, is left alone rather than re-issuing
// -exec-continue against it.
func (l *Leaf) Continue(ctx context.Context) error {
	state, err := l.State(ctx)
	if err != nil {
		return err
	}
	if IsRunning(state) || AnyExited(state) {
		return nil
	}
	return l.driver.Continue(ctx)
}

// Count implements Debugger. A leaf always manages exactly one process;
// Count at this layer reports process count, not thread count, so it
// composes with an interior node's Count, which sums leaf counts across
// the subtree (spec: count = 1 for a leaf).
func (l *Leaf) Count(ctx context.Context) (int, error) { return 1, nil }

// State implements Debugger by reading per-thread run state directly,
// without paying for a full backtrace — the cheap query Stop/Continue use
// to decide whether a command needs to be emitted at all.
func (l *Leaf) State(ctx context.Context) (map[uint32]snapshot.RunState, error) {
	return l.driver.State(ctx)
}

// Snapshot implements Debugger.
func (l *Leaf) Snapshot(ctx context.Context) (snapshot.ProgramSnapshot, error) {
	return l.driver.Snapshot(ctx)
}

// Symbols implements Debugger.
func (l *Leaf) Symbols(ctx context.Context) (snapshot.SymbolTable, error) {
	return l.driver.Symbols(ctx)
}
