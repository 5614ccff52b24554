// Package snapshot holds the data model shared by every tier of the tree:
// process identity, run state, stack frames, and the deduplicated component
// map that flows up from leaves to the root.
package snapshot

// ProcessInfo describes the process that is pivoting into the tree: where
// it runs, and the locality descriptor used to pick an attachment point.
type ProcessInfo struct {
	Hostname           string `json:"hostname"`
	PID                uint64 `json:"pid"`
	Rank               *int   `json:"rank,omitempty"`
	LocalityDescriptor string `json:"localityDescriptor"`
}

// RunKind tags which arm of RunState is populated.
type RunKind string

const (
	// RunKindRunning means the debuggee is executing.
	RunKindRunning RunKind = "running"
	// RunKindStopped means the debuggee is halted at a StopReason.
	RunKindStopped RunKind = "stopped"
)

// RunState is a tagged variant: either Running(context) or Stopped(reason).
type RunState struct {
	Kind    RunKind    `json:"kind"`
	Context string     `json:"context,omitempty"`
	Stop    *StopReason `json:"stop,omitempty"`
}

// Running constructs a RunState in the Running arm.
func Running(context string) RunState {
	return RunState{Kind: RunKindRunning, Context: context}
}

// Stopped constructs a RunState in the Stopped arm.
func Stopped(reason StopReason) RunState {
	return RunState{Kind: RunKindStopped, Stop: &reason}
}

// IsRunning reports whether this state is the Running arm.
func (r RunState) IsRunning() bool { return r.Kind == RunKindRunning }

// IsStopped reports whether this state is the Stopped arm.
func (r RunState) IsStopped() bool { return r.Kind == RunKindStopped }

// StopReason carries the full detail GDB-MI reports about why a target
// stopped: exit, signal, or breakpoint hit, plus an optional source
// location.
type StopReason struct {
	Reason          string  `json:"reason"`
	Disposition     string  `json:"disp,omitempty"`
	BreakpointNum   *uint32 `json:"breakpointNum,omitempty"`
	Addr            string  `json:"addr,omitempty"`
	Function        string  `json:"function,omitempty"`
	Meaning         string  `json:"meaning,omitempty"`
	SignalName      string  `json:"signalName,omitempty"`
	File            string  `json:"file,omitempty"`
	Fullname        string  `json:"fullname,omitempty"`
	Line            *uint32 `json:"line,omitempty"`
	Arch            string  `json:"arch,omitempty"`
	ThreadID        *uint32 `json:"threadId,omitempty"`
	StoppedThreads  string  `json:"stoppedThreads,omitempty"`
	Core            *uint32 `json:"core,omitempty"`
	ExitCode        *int32  `json:"exitCode,omitempty"`
}

// Exited reports whether this stop reason represents process termination.
func (s StopReason) Exited() bool {
	return s.Reason == "exited" || s.Reason == "exited-normally"
}

// IsSIGINT reports whether this stop was caused by a manual interrupt. Such
// stops are filtered out of backtrace components so a user-triggered
// interrupt doesn't pollute every thread's stack with an identical "stopped
// by SIGINT" element (see Generate).
func (s StopReason) IsSIGINT() bool {
	return s.SignalName == "SIGINT"
}

// DebugFrame is one raw stack frame as reported by the MI driver, including
// fields (args, locals) not carried into the reduced BacktraceElement form.
type DebugFrame struct {
	Level    uint32            `json:"level"`
	Addr     string            `json:"addr"`
	Func     string            `json:"func"`
	File     string            `json:"file,omitempty"`
	Fullname string            `json:"fullname,omitempty"`
	Line     *uint32           `json:"line,omitempty"`
	From     string            `json:"from,omitempty"`
	Arch     string            `json:"arch,omitempty"`
	Args     []NamedValue      `json:"args,omitempty"`
	Locals   []NamedValue      `json:"locals,omitempty"`
}

// NamedValue is a (name, value) pair used for frame arguments and locals.
type NamedValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ExitedFrame is the synthetic single frame used in place of a stack when
// the target has already exited.
func ExitedFrame() DebugFrame {
	return DebugFrame{Func: "Process has exited (no stack)"}
}

// Variable is one raw (name, value) pair read back from GDB's frame
// variable listing, tagged with whether it's an argument or a local.
type Variable struct {
	Name  string
	IsArg bool
	Value string
}

// AttachLocals splits a flat variable list into Args and Locals, mirroring
// the original's attach_locals.
func (f *DebugFrame) AttachLocals(vars []Variable) {
	for _, v := range vars {
		nv := NamedValue{Name: v.Name, Value: v.Value}
		if v.IsArg {
			f.Args = append(f.Args, nv)
		} else {
			f.Locals = append(f.Locals, nv)
		}
	}
}

// BacktraceKind tags which arm of BacktraceElement is populated.
type BacktraceKind string

const (
	// BacktraceKindFrame is a reduced stack frame.
	BacktraceKindFrame BacktraceKind = "frame"
	// BacktraceKindState is a stop-state prefix element.
	BacktraceKindState BacktraceKind = "state"
)

// BacktraceElement is the reduced, hashable unit that backtrace
// deduplication operates on: either a display frame or a display state.
type BacktraceElement struct {
	Kind  BacktraceKind `json:"kind"`
	Frame *DisplayFrame `json:"frame,omitempty"`
	State *DisplayState `json:"state,omitempty"`
}

// DisplayFrame is the reduced form of a DebugFrame kept for hashing and
// rendering: function, file, line — deliberately dropping address, args and
// locals, which would defeat deduplication across otherwise-identical
// stacks.
type DisplayFrame struct {
	Func string  `json:"func"`
	File string  `json:"file,omitempty"`
	Line *uint32 `json:"line,omitempty"`
}

// DisplayState is the reduced form of a StopReason kept for hashing and
// rendering.
type DisplayState struct {
	Reason     string `json:"reason"`
	SignalName string `json:"signalName,omitempty"`
	ExitCode   *int32 `json:"exitCode,omitempty"`
}

// FrameElement wraps a DebugFrame as a BacktraceElement.
func FrameElement(f DebugFrame) BacktraceElement {
	return BacktraceElement{
		Kind: BacktraceKindFrame,
		Frame: &DisplayFrame{
			Func: f.Func,
			File: f.Fullname,
			Line: f.Line,
		},
	}
}

// StateElement wraps a StopReason as a BacktraceElement.
func StateElement(s StopReason) BacktraceElement {
	return BacktraceElement{
		Kind: BacktraceKindState,
		State: &DisplayState{
			Reason:     s.Reason,
			SignalName: s.SignalName,
			ExitCode:   s.ExitCode,
		},
	}
}

// RootElement is the synthetic placeholder element the renderer uses as the
// tree root when walking backtraces outermost-first.
func RootElement() BacktraceElement {
	return BacktraceElement{Kind: BacktraceKindFrame, Frame: &DisplayFrame{Func: "."}}
}

// Symbol is one entry from the target's symbol table.
type Symbol struct {
	Name        string  `json:"name"`
	Address     string  `json:"address,omitempty"`
	Line        *int32  `json:"line,omitempty"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
}

// SymbolTable maps file path (or "Unknown" for non-debug symbols) to the
// symbols defined there.
type SymbolTable struct {
	SymbolsPerFile map[string][]Symbol `json:"symbolsPerFile"`
}

// NewSymbolTable returns an empty SymbolTable.
func NewSymbolTable() SymbolTable {
	return SymbolTable{SymbolsPerFile: map[string][]Symbol{}}
}

// MergeSymbolTables unions per-file symbol lists. On a duplicate path the
// last table wins, per the DESIGN.md decision for GetSymbols aggregation.
func MergeSymbolTables(tables ...SymbolTable) SymbolTable {
	out := NewSymbolTable()
	for _, t := range tables {
		for path, syms := range t.SymbolsPerFile {
			out.SymbolsPerFile[path] = syms
		}
	}
	return out
}
