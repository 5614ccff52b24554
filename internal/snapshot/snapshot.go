package snapshot

// ThreadBacktrace is one thread's stop state and stack, as read back from
// the MI driver for a single local process.
type ThreadBacktrace struct {
	ThreadID uint32
	State    RunState
	Frames   []DebugFrame
}

// ProgramSnapshot is a single process's point-in-time debug state: the run
// state of every thread the driver could see, plus the deduplicated
// component map derived from their backtraces.
type ProgramSnapshot struct {
	States     map[uint32]RunState `json:"states"`
	Components Components          `json:"components"`
}

// Exited returns the canonical snapshot used once a process has terminated:
// no threads, one synthetic component recording the exit.
func Exited(reason StopReason) ProgramSnapshot {
	comps := NewComponents()
	comps.AddLocal([]BacktraceElement{StateElement(reason)})
	return ProgramSnapshot{
		States:     map[uint32]RunState{},
		Components: comps,
	}
}

// Generate builds a ProgramSnapshot from the raw per-thread backtraces a
// local MI driver just read back. A running thread contributes only a
// State element (its stack isn't sampled while it's moving); a stopped
// thread contributes its reduced frames followed by a State element. When
// the stop was a manual SIGINT the State element is left out and only the
// frames remain, since every thread shares that stop reason and it would
// otherwise add the same element to every backtrace.
func Generate(threads []ThreadBacktrace) ProgramSnapshot {
	states := make(map[uint32]RunState, len(threads))
	comps := NewComponents()

	for _, t := range threads {
		states[t.ThreadID] = t.State

		var elements []BacktraceElement
		if t.State.IsStopped() && t.State.Stop != nil {
			for _, f := range t.Frames {
				elements = append(elements, FrameElement(f))
			}
			if !t.State.Stop.IsSIGINT() {
				elements = append(elements, StateElement(*t.State.Stop))
			}
		} else {
			elements = append(elements, BacktraceElement{
				Kind:  BacktraceKindState,
				State: &DisplayState{Reason: "running"},
			})
		}
		comps.AddLocal(elements)
	}

	return ProgramSnapshot{States: states, Components: comps}
}

// Merge combines a remote snapshot into s: states are unioned (a remote
// thread ID is assumed not to collide with a local one, since thread IDs
// are only unique per-process) and components are folded via
// Components.Merge.
func (s *ProgramSnapshot) Merge(other ProgramSnapshot) {
	if s.States == nil {
		s.States = map[uint32]RunState{}
	}
	for id, st := range other.States {
		s.States[id] = st
	}
	if s.Components == nil {
		s.Components = NewComponents()
	}
	s.Components.Merge(other.Components)
}

// MergeSnapshots folds a list of child snapshots into one aggregate,
// leaving each input untouched.
func MergeSnapshots(snapshots ...ProgramSnapshot) ProgramSnapshot {
	out := ProgramSnapshot{States: map[uint32]RunState{}, Components: NewComponents()}
	for _, s := range snapshots {
		out.Merge(s)
	}
	return out
}

// AllRunning reports whether every known thread is in the Running state.
func (s ProgramSnapshot) AllRunning() bool {
	for _, st := range s.States {
		if !st.IsRunning() {
			return false
		}
	}
	return true
}

// AllStopped reports whether every known thread is in the Stopped state.
func (s ProgramSnapshot) AllStopped() bool {
	for _, st := range s.States {
		if !st.IsStopped() {
			return false
		}
	}
	return true
}
