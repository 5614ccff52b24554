// Package mi drives a GDB subprocess over its machine interface (MI3):
// issuing token-correlated commands on its stdin and classifying its
// stdout line by line to correlate responses and observe run-state
// transitions.
package mi

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.skia.org/infra/go/executil"
	"go.skia.org/infra/go/skerr"
	"go.skia.org/infra/go/sklog"

	"go.skia.org/snapped/internal/snapshot"
)

// pendingCommand is one in-flight request awaiting its token-correlated
// response.
type pendingCommand struct {
	done   bool
	record Record
	err    error
}

// Driver pilots a single `gdb --interpreter=mi3` subprocess. Each
// SendCommand call writes its command under its own token and waits for
// that token's response; the mutex guards only the pending-response map
// and is released while waiting. SendCommand does not serialize callers:
// concurrent callers each have a command in flight, and a multi-command
// sequence (such as SelectThread followed by Backtrace) is not protected
// from another caller's commands in between.
type Driver struct {
	stdin     io.WriteCloser
	closeProc func() error

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[uint64]*pendingCommand
	nextTok uint64

	readErr atomic.Value // error
}

// Start spawns gdb (found on PATH) against the given target binary and
// arguments and begins reading its MI output in the background. The
// returned Driver must be closed with Close once the caller is done with
// it.
func Start(ctx context.Context, target string, args []string) (*Driver, error) {
	return StartWithPath(ctx, "gdb", target, args)
}

// StartWithPath is Start, but invoking gdbPath instead of assuming "gdb" is
// on PATH — for deployments that pin a specific gdb build.
func StartWithPath(ctx context.Context, gdbPath, target string, args []string) (*Driver, error) {
	gdbArgs := append([]string{"--interpreter=mi3", "--args", target}, args...)
	cmd := executil.CommandContext(ctx, gdbPath, gdbArgs...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, skerr.Wrapf(err, "starting gdb for target %q", target)
	}

	d := &Driver{
		stdin:   stdin,
		pending: map[uint64]*pendingCommand{},
		closeProc: func() error {
			_ = stdin.Close()
			return cmd.Wait()
		},
	}
	d.cond = sync.NewCond(&d.mu)

	go d.readLoop(bufio.NewScanner(stdout))

	return d, nil
}

// Close terminates the reader loop and waits for the gdb process to exit.
func (d *Driver) Close() error {
	return d.closeProc()
}

// readLoop classifies every line of MI output until stdout closes,
// delivering result records to their waiting caller, logging stream
// records, and ignoring async notifications. This runs on its own goroutine for
// the lifetime of the process; SendCommand callers never poll, they block
// on the condition variable until this loop broadcasts.
func (d *Driver) readLoop(scanner *bufio.Scanner) {
	for scanner.Scan() {
		line := scanner.Text()
		record, err := ParseLine(line)
		if err != nil {
			sklog.Warningf("mi: %s", err)
			continue
		}
		switch record.Kind {
		case KindResult:
			d.deliver(record, nil)
		case KindConsoleStream, KindTargetStream:
			sklog.Infof("gdb: %s", record.Stream)
		case KindLogStream:
			sklog.Debugf("gdb: %s", record.Stream)
		case KindExecAsync, KindNotifyAsync, KindStatusAsync, KindPrompt:
			// Run-state transitions are re-derived by explicit polling
			// commands (State/Snapshot); async notifications carry nothing
			// this driver acts on directly.
		}
	}
	if err := scanner.Err(); err != nil {
		d.readErr.Store(err)
	}
	d.mu.Lock()
	for tok, p := range d.pending {
		p.done = true
		p.err = skerr.Fmt("mi: gdb output closed before token %d received a response", tok)
	}
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *Driver) deliver(record Record, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[record.Token]
	if !ok {
		return
	}
	p.record = record
	p.err = err
	p.done = true
	d.cond.Broadcast()
}

// SendCommand writes a single MI command and blocks until its token's
// response arrives, the context is cancelled, or the reader loop exits.
// Waiting is done via sync.Cond rather than a poll loop: the caller sleeps
// until readLoop explicitly wakes it, so an idle driver burns no CPU.
func (d *Driver) SendCommand(ctx context.Context, command string) (Record, error) {
	tok := atomic.AddUint64(&d.nextTok, 1)

	d.mu.Lock()
	p := &pendingCommand{}
	d.pending[tok] = p
	d.mu.Unlock()

	line := fmt.Sprintf("%d%s\n", tok, command)
	if _, err := io.WriteString(d.stdin, line); err != nil {
		d.mu.Lock()
		delete(d.pending, tok)
		d.mu.Unlock()
		return Record{}, skerr.Wrapf(err, "writing mi command %q", command)
	}

	cancelled := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.cond.Broadcast()
			d.mu.Unlock()
		case <-cancelled:
		}
	}()
	defer close(cancelled)

	d.mu.Lock()
	defer d.mu.Unlock()
	for !p.done {
		if ctx.Err() != nil {
			delete(d.pending, tok)
			return Record{}, skerr.Wrap(ctx.Err())
		}
		d.cond.Wait()
	}
	delete(d.pending, tok)

	if p.err != nil {
		return Record{}, p.err
	}
	if p.record.Class == "error" {
		return p.record, skerr.Fmt("mi: command %q failed: %s", command, FieldString(p.record.Fields, "msg"))
	}
	return p.record, nil
}

// Run issues the GDB run command, launching the inferior.
func (d *Driver) Run(ctx context.Context) error {
	_, err := d.SendCommand(ctx, "-exec-run")
	return err
}

// Interrupt stops a running inferior.
func (d *Driver) Interrupt(ctx context.Context) error {
	_, err := d.SendCommand(ctx, "-exec-interrupt --all")
	return err
}

// Continue resumes a stopped inferior.
func (d *Driver) Continue(ctx context.Context) error {
	_, err := d.SendCommand(ctx, "-exec-continue --all")
	return err
}

// ListThreadIDs returns every thread ID GDB currently knows about.
func (d *Driver) ListThreadIDs(ctx context.Context) ([]uint32, error) {
	record, err := d.SendCommand(ctx, "-thread-info")
	if err != nil {
		return nil, err
	}
	threads := FieldList(record.Fields, "threads")
	ids := make([]uint32, 0, len(threads))
	for _, raw := range threads {
		t, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(FieldString(t, "id"), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

// SelectThread switches GDB's focus thread, required before a
// thread-specific backtrace.
func (d *Driver) SelectThread(ctx context.Context, threadID uint32) error {
	_, err := d.SendCommand(ctx, fmt.Sprintf("-thread-select %d", threadID))
	return err
}

// Backtrace returns the stack of the currently selected thread.
func (d *Driver) Backtrace(ctx context.Context) ([]snapshot.DebugFrame, error) {
	record, err := d.SendCommand(ctx, "-stack-list-frames")
	if err != nil {
		return nil, err
	}
	raw := FieldList(record.Fields, "stack")
	frames := make([]snapshot.DebugFrame, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		frames = append(frames, frameFromFields(m))
	}
	return frames, nil
}

func frameFromFields(m map[string]interface{}) snapshot.DebugFrame {
	f := snapshot.DebugFrame{
		Addr:     FieldString(m, "addr"),
		Func:     FieldString(m, "func"),
		File:     FieldString(m, "file"),
		Fullname: FieldString(m, "fullname"),
		From:     FieldString(m, "from"),
		Arch:     FieldString(m, "arch"),
	}
	if lvl, err := strconv.ParseUint(FieldString(m, "level"), 10, 32); err == nil {
		f.Level = uint32(lvl)
	}
	if line, err := strconv.ParseUint(FieldString(m, "line"), 10, 32); err == nil {
		l := uint32(line)
		f.Line = &l
	}
	return f
}

// ThreadState reports whether a specific thread is running or stopped, and
// why, by inspecting -thread-info's per-thread "state" field.
func (d *Driver) ThreadState(ctx context.Context, threadID uint32) (snapshot.RunState, error) {
	record, err := d.SendCommand(ctx, fmt.Sprintf("-thread-info %d", threadID))
	if err != nil {
		return snapshot.RunState{}, err
	}
	threads := FieldList(record.Fields, "threads")
	if len(threads) == 0 {
		return snapshot.RunState{}, skerr.Fmt("mi: no thread-info entry for thread %d", threadID)
	}
	t, ok := threads[0].(map[string]interface{})
	if !ok {
		return snapshot.RunState{}, skerr.Fmt("mi: malformed thread-info entry for thread %d", threadID)
	}
	if FieldString(t, "state") == "running" {
		return snapshot.Running("running"), nil
	}
	return snapshot.Stopped(stopReasonFromFields(FieldMap(t, "frame"))), nil
}

func stopReasonFromFields(frame map[string]interface{}) snapshot.StopReason {
	reason := snapshot.StopReason{Reason: "stopped"}
	if frame == nil {
		return reason
	}
	reason.Function = FieldString(frame, "func")
	reason.Addr = FieldString(frame, "addr")
	reason.File = FieldString(frame, "file")
	reason.Fullname = FieldString(frame, "fullname")
	if line, err := strconv.ParseUint(FieldString(frame, "line"), 10, 32); err == nil {
		l := uint32(line)
		reason.Line = &l
	}
	return reason
}

// State reports every known thread's run state, without fetching
// backtraces — the cheap query callers use to decide whether Stop/Continue
// need to emit a command at all, and the fast path for a plain GetState
// request that doesn't need a full snapshot.
func (d *Driver) State(ctx context.Context) (map[uint32]snapshot.RunState, error) {
	ids, err := d.ListThreadIDs(ctx)
	if err != nil {
		return nil, err
	}
	state := make(map[uint32]snapshot.RunState, len(ids))
	for _, id := range ids {
		s, err := d.ThreadState(ctx, id)
		if err != nil {
			return nil, err
		}
		state[id] = s
	}
	return state, nil
}

// anyRunning reports whether any thread in state is in the Running arm.
func anyRunning(state map[uint32]snapshot.RunState) bool {
	for _, s := range state {
		if s.IsRunning() {
			return true
		}
	}
	return false
}

// Snapshot builds a full ProgramSnapshot for every thread currently known
// to gdb. A snapshot requires a stopped target: if any thread is still
// running, the driver interrupts it first, then re-reads state, before
// selecting threads and collecting backtraces.
func (d *Driver) Snapshot(ctx context.Context) (snapshot.ProgramSnapshot, error) {
	state, err := d.State(ctx)
	if err != nil {
		return snapshot.ProgramSnapshot{}, err
	}
	if anyRunning(state) {
		if err := d.Interrupt(ctx); err != nil {
			return snapshot.ProgramSnapshot{}, err
		}
		state, err = d.State(ctx)
		if err != nil {
			return snapshot.ProgramSnapshot{}, err
		}
	}

	ids := make([]uint32, 0, len(state))
	for id := range state {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	threads := make([]snapshot.ThreadBacktrace, 0, len(ids))
	for _, id := range ids {
		s := state[id]
		tb := snapshot.ThreadBacktrace{ThreadID: id, State: s}
		if s.IsStopped() {
			if err := d.SelectThread(ctx, id); err != nil {
				return snapshot.ProgramSnapshot{}, err
			}
			frames, err := d.Backtrace(ctx)
			if err != nil {
				return snapshot.ProgramSnapshot{}, err
			}
			tb.Frames = frames
		}
		threads = append(threads, tb)
	}

	return snapshot.Generate(threads), nil
}

// symbolsUnknownBucket is the file key non-debugging symbols are grouped
// under, matching the original's treatment of -symbol-info-functions'
// "nondebug" array, which carries no source file at all.
const symbolsUnknownBucket = "Unknown"

// Symbols reads the target's full symbol table with a single
// -symbol-info-functions call: debugging symbols keyed by the file that
// defines them, non-debugging symbols bucketed under "Unknown". Requires a
// stopped target, matching the MI command's own precondition.
func (d *Driver) Symbols(ctx context.Context) (snapshot.SymbolTable, error) {
	state, err := d.State(ctx)
	if err != nil {
		return snapshot.SymbolTable{}, err
	}
	if anyRunning(state) {
		return snapshot.SymbolTable{}, skerr.Fmt("mi: symbols requested while target is running")
	}

	record, err := d.SendCommand(ctx, "-symbol-info-functions --include-nondebug")
	if err != nil {
		return snapshot.SymbolTable{}, err
	}

	table := snapshot.NewSymbolTable()
	symbols := FieldMap(record.Fields, "symbols")

	for _, raw := range FieldList(symbols, "debug") {
		file, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fullname := FieldString(file, "fullname")
		for _, s := range FieldList(file, "symbols") {
			entry, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			table.SymbolsPerFile[fullname] = append(table.SymbolsPerFile[fullname], symbolFromFields(entry))
		}
	}

	for _, raw := range FieldList(symbols, "nondebug") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		table.SymbolsPerFile[symbolsUnknownBucket] = append(table.SymbolsPerFile[symbolsUnknownBucket], symbolFromFields(entry))
	}

	return table, nil
}

func symbolFromFields(m map[string]interface{}) snapshot.Symbol {
	sym := snapshot.Symbol{
		Name:        FieldString(m, "name"),
		Address:     FieldString(m, "address"),
		Type:        FieldString(m, "type"),
		Description: FieldString(m, "description"),
	}
	if line, err := strconv.ParseInt(FieldString(m, "line"), 10, 32); err == nil {
		l := int32(line)
		sym.Line = &l
	}
	return sym
}

// Count returns the number of threads currently known to gdb.
func (d *Driver) Count(ctx context.Context) (int, error) {
	ids, err := d.ListThreadIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
