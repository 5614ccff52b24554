package debugger

import (
	"context"

	"go.skia.org/snapped/internal/snapshot"
)

// Dummy is a no-op Debugger used to exercise tree wiring and tests without
// a real gdb subprocess, mirroring the original's DummyDebugger.
type Dummy struct {
	idHolder
	StateValue    map[uint32]snapshot.RunState
	SnapshotValue snapshot.ProgramSnapshot
	SymbolsValue  snapshot.SymbolTable
	CountValue    int
	StartCalls    int
	StopCalls     int
	ContinueCalls int
}

var _ Debugger = (*Dummy)(nil)

// NewDummy returns a Dummy with a single running thread and no stack.
func NewDummy() *Dummy {
	return &Dummy{
		StateValue: map[uint32]snapshot.RunState{0: snapshot.Running("running")},
		CountValue: 1,
	}
}

// Start implements Debugger.
func (d *Dummy) Start(ctx context.Context) error { d.StartCalls++; return nil }

// Stop implements Debugger, flipping every known thread to Stopped so
// idempotency checks built on State (see debugger.IsStopped) see a
// realistic transition.
func (d *Dummy) Stop(ctx context.Context) error {
	d.StopCalls++
	for id := range d.StateValue {
		d.StateValue[id] = snapshot.Stopped(snapshot.StopReason{Reason: "stopped"})
	}
	return nil
}

// Continue implements Debugger, flipping every known thread back to
// Running.
func (d *Dummy) Continue(ctx context.Context) error {
	d.ContinueCalls++
	for id := range d.StateValue {
		d.StateValue[id] = snapshot.Running("running")
	}
	return nil
}

// Count implements Debugger.
func (d *Dummy) Count(ctx context.Context) (int, error) { return d.CountValue, nil }

// State implements Debugger.
func (d *Dummy) State(ctx context.Context) (map[uint32]snapshot.RunState, error) {
	return d.StateValue, nil
}

// Snapshot implements Debugger.
func (d *Dummy) Snapshot(ctx context.Context) (snapshot.ProgramSnapshot, error) {
	return d.SnapshotValue, nil
}

// Symbols implements Debugger.
func (d *Dummy) Symbols(ctx context.Context) (snapshot.SymbolTable, error) {
	return d.SymbolsValue, nil
}
