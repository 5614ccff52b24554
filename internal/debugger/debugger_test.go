package debugger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/snapped/internal/snapshot"
)

// fakeDriver mimics the one-thread state transitions a real MI driver
// reports, so Leaf's idempotency checks (which read state before deciding
// whether to emit a command) have something realistic to react to.
type fakeDriver struct {
	snap      snapshot.ProgramSnapshot
	symbols   snapshot.SymbolTable
	count     int
	running   bool
	runCalls  int
	stopCalls int
	contCalls int
}

func (f *fakeDriver) Run(ctx context.Context) error { f.runCalls++; f.running = true; return nil }
func (f *fakeDriver) Interrupt(ctx context.Context) error {
	f.stopCalls++
	f.running = false
	return nil
}
func (f *fakeDriver) Continue(ctx context.Context) error {
	f.contCalls++
	f.running = true
	return nil
}
func (f *fakeDriver) Count(ctx context.Context) (int, error) { return f.count, nil }
func (f *fakeDriver) State(ctx context.Context) (map[uint32]snapshot.RunState, error) {
	if f.running {
		return map[uint32]snapshot.RunState{1: snapshot.Running("running")}, nil
	}
	return map[uint32]snapshot.RunState{1: snapshot.Stopped(snapshot.StopReason{Reason: "stopped"})}, nil
}
func (f *fakeDriver) Snapshot(ctx context.Context) (snapshot.ProgramSnapshot, error) {
	return f.snap, nil
}
func (f *fakeDriver) Symbols(ctx context.Context) (snapshot.SymbolTable, error) {
	return f.symbols, nil
}

func TestLeaf_DelegatesToDriver(t *testing.T) {
	driver := &fakeDriver{count: 4, running: true}
	leaf := NewLeaf(driver)
	leaf.SetID(7)

	ctx := context.Background()
	require.NoError(t, leaf.Start(ctx))
	require.NoError(t, leaf.Stop(ctx))
	require.NoError(t, leaf.Continue(ctx))

	n, err := leaf.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a leaf always reports a count of 1, regardless of driver thread count")

	state, err := leaf.State(ctx)
	require.NoError(t, err)
	assert.Len(t, state, 1)

	assert.Equal(t, uint64(7), leaf.ID())
	assert.Equal(t, 1, driver.runCalls)
	assert.Equal(t, 1, driver.stopCalls)
	assert.Equal(t, 1, driver.contCalls)
}

func TestLeaf_Stop_IsIdempotentWhenAlreadyStopped(t *testing.T) {
	driver := &fakeDriver{running: false}
	leaf := NewLeaf(driver)

	require.NoError(t, leaf.Stop(context.Background()))
	assert.Equal(t, 0, driver.stopCalls, "stop on an already-stopped target must not emit a command")
}

func TestLeaf_Continue_IsIdempotentWhenAlreadyRunning(t *testing.T) {
	driver := &fakeDriver{running: true}
	leaf := NewLeaf(driver)

	require.NoError(t, leaf.Continue(context.Background()))
	assert.Equal(t, 0, driver.contCalls, "continue on an already-running target must not emit a command")
}

func TestDummy_TracksCallCounts(t *testing.T) {
	d := NewDummy()
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Stop(ctx))
	require.NoError(t, d.Continue(ctx))
	assert.Equal(t, 1, d.StartCalls)
	assert.Equal(t, 1, d.StopCalls)
	assert.Equal(t, 1, d.ContinueCalls)

	n, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIsRunning_IsStopped_AnyExited(t *testing.T) {
	running := map[uint32]snapshot.RunState{1: snapshot.Running("r")}
	assert.True(t, IsRunning(running))
	assert.False(t, IsStopped(running))
	assert.False(t, AnyExited(running))

	exitCode := int32(0)
	stopped := map[uint32]snapshot.RunState{
		1: snapshot.Stopped(snapshot.StopReason{Reason: "exited-normally", ExitCode: &exitCode}),
	}
	assert.False(t, IsRunning(stopped))
	assert.True(t, IsStopped(stopped))
	assert.True(t, AnyExited(stopped))
}
