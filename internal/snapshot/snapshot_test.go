package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExited_SingleSyntheticComponent(t *testing.T) {
	s := Exited(StopReason{Reason: "exited-normally"})
	assert.Empty(t, s.States)
	assert.Len(t, s.Components, 1)
}

func TestGenerate_StoppedThreadWithFrames_IncludesFramesAndState(t *testing.T) {
	line := uint32(42)
	threads := []ThreadBacktrace{
		{
			ThreadID: 1,
			State:    Stopped(StopReason{Reason: "breakpoint-hit"}),
			Frames:   []DebugFrame{{Func: "main", Fullname: "main.c", Line: &line}},
		},
	}
	snap := Generate(threads)
	require.Len(t, snap.States, 1)
	require.Len(t, snap.Components, 1)
	for _, comp := range snap.Components {
		require.Len(t, comp.Elements, 2)
		assert.Equal(t, BacktraceKindFrame, comp.Elements[0].Kind)
		assert.Equal(t, BacktraceKindState, comp.Elements[1].Kind)
	}
}

func TestGenerate_RunningThread_OnlyStateElement(t *testing.T) {
	threads := []ThreadBacktrace{
		{ThreadID: 1, State: Running("running")},
	}
	snap := Generate(threads)
	assert.True(t, snap.AllRunning())
	for _, comp := range snap.Components {
		assert.Len(t, comp.Elements, 1)
	}
}

func TestGenerate_SIGINTStop_OmitsState(t *testing.T) {
	threads := []ThreadBacktrace{
		{
			ThreadID: 1,
			State:    Stopped(StopReason{Reason: "signal-received", SignalName: "SIGINT"}),
			Frames:   []DebugFrame{{Func: "main"}},
		},
	}
	snap := Generate(threads)
	for _, comp := range snap.Components {
		assert.Len(t, comp.Elements, 1)
		assert.Equal(t, BacktraceKindFrame, comp.Elements[0].Kind)
	}
}

func TestGenerate_TwoThreadsSameStack_OneComponentCountTwo(t *testing.T) {
	line := uint32(1)
	reason := StopReason{Reason: "breakpoint-hit"}
	mkFrame := func() DebugFrame { return DebugFrame{Func: "main", Fullname: "main.c", Line: &line} }
	threads := []ThreadBacktrace{
		{ThreadID: 1, State: Stopped(reason), Frames: []DebugFrame{mkFrame()}},
		{ThreadID: 2, State: Stopped(reason), Frames: []DebugFrame{mkFrame()}},
	}
	snap := Generate(threads)
	require.Len(t, snap.Components, 1)
	for _, comp := range snap.Components {
		assert.Equal(t, uint32(2), comp.Count)
	}
}

func TestProgramSnapshot_Merge_UnionsStatesAndFoldsComponents(t *testing.T) {
	local := Generate([]ThreadBacktrace{{ThreadID: 1, State: Running("running")}})
	remote := Generate([]ThreadBacktrace{{ThreadID: 2, State: Running("running")}})

	local.Merge(remote)
	assert.Len(t, local.States, 2)
	assert.Len(t, local.Components, 1)
	for _, comp := range local.Components {
		assert.Equal(t, uint32(2), comp.Count)
	}
}

func TestMergeSnapshots_EmptyInput_EmptyResult(t *testing.T) {
	merged := MergeSnapshots()
	assert.Empty(t, merged.States)
	assert.Empty(t, merged.Components)
}

func TestAllStopped_MixedStates_False(t *testing.T) {
	snap := Generate([]ThreadBacktrace{
		{ThreadID: 1, State: Running("running")},
		{ThreadID: 2, State: Stopped(StopReason{Reason: "breakpoint-hit"})},
	})
	assert.False(t, snap.AllRunning())
	assert.False(t, snap.AllStopped())
}
