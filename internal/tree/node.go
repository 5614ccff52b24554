// Package tree implements the tree-based overlay network: a Node owns one
// local debuggee (or a dummy placeholder) plus a registry of children
// attached by pivot/join, answers broadcast commands from its parent by
// fanning them out to its own subtree in parallel, and merges the results
// on the way back up.
package tree

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.skia.org/infra/go/skerr"
	"go.skia.org/infra/go/sklog"

	"go.skia.org/snapped/internal/debugger"
	"go.skia.org/snapped/internal/locality"
	"go.skia.org/snapped/internal/overlay"
	"go.skia.org/snapped/internal/snapshot"
	"go.skia.org/snapped/internal/treeid"
)

// childEntry is one attached child: its allocated tree ID, the locality
// descriptor it advertised when pivoting, and the client connection used
// to forward commands to it.
type childEntry struct {
	id         uint64
	descriptor string
	client     childClient
}

// childClient is the subset of *overlay.Client a Node needs, so tests can
// substitute an in-process fake instead of dialing real sockets.
type childClient interface {
	Do(ctx context.Context, cmd overlay.Command) (overlay.Response, error)
}

// Node is one vertex of the tree-based overlay network.
type Node struct {
	mu         sync.RWMutex
	id         uint64
	descriptor string
	idFactory  treeid.Factory
	local      debugger.Debugger
	children   []*childEntry // insertion order, mirrors the original's seen_children
	dial       func(ctx context.Context, addr string) (childClient, error)
}

var _ debugger.Debugger = (*Node)(nil)
var _ overlay.Handler = (*Node)(nil)

// NewRoot constructs the tree's root node: it owns the full ID space and
// the given local debugger (possibly a debugger.Dummy if this node has no
// local debuggee, only children).
func NewRoot(local debugger.Debugger, descriptor string) *Node {
	n := &Node{
		idFactory:  treeid.Root(),
		local:      local,
		descriptor: descriptor,
		dial:       dialOverlay,
	}
	local.SetID(0)
	return n
}

// NewChild constructs a node that has just been pivoted into the tree at
// the given (already-assigned) factory, the counterpart to NewRoot used by
// every non-root process after its parent's Pivot response tells it which
// ID and depth it was allocated.
func NewChild(local debugger.Debugger, descriptor string, factory treeid.Factory) *Node {
	n := &Node{
		idFactory:  factory,
		local:      local,
		descriptor: descriptor,
		dial:       dialOverlay,
	}
	local.SetID(factory.ID())
	n.id = factory.ID()
	return n
}

func dialOverlay(ctx context.Context, addr string) (childClient, error) {
	return overlay.Dial(ctx, addr)
}

// SetID implements debugger.Debugger.
func (n *Node) SetID(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.id = id
}

// ID implements debugger.Debugger.
func (n *Node) ID() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

// ChildCount returns how many children are currently attached, for tests
// and diagnostics.
func (n *Node) ChildCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

// Pivot attaches a new process to this node's subtree: either directly, if
// this node has capacity and is the best locality match, or by forwarding
// to whichever existing child's subtree descriptor is closest.
//
// This is an explicit simplification of the original's two-phase
// pivot-then-join handshake: here Pivot both allocates the ID and dials the
// child's advertised address in one step, since nothing in this rewrite
// needs the original's window between "ID reserved" and "connection live."
// Join is kept as a lightweight idempotent confirmation for a child
// reconnecting under an ID it already holds.
func (n *Node) Pivot(ctx context.Context, info snapshot.ProcessInfo, addr string) (uint64, uint32, error) {
	n.mu.Lock()

	attachHere := !n.idFactory.Full() && n.shouldAttachHereLocked(info.LocalityDescriptor)

	if !attachHere {
		if len(n.children) == 0 {
			n.mu.Unlock()
			return 0, 0, skerr.Fmt("tree: node %d is full and has no children to forward a pivot to", n.id)
		}
		target := n.closestChildLocked(info.LocalityDescriptor)
		n.mu.Unlock()
		resp, err := target.client.Do(ctx, overlay.Command{
			Kind:  overlay.CmdPivot,
			Pivot: &overlay.PivotRequest{Process: info, Address: addr},
		})
		if err != nil {
			return 0, 0, skerr.Wrapf(err, "forwarding pivot to child %d", target.id)
		}
		if resp.IsError() {
			return 0, 0, skerr.Fmt("tree: child %d refused pivot: %s", target.id, resp.Error)
		}
		return resp.TreeID, resp.Depth, nil
	}

	child, err := n.idFactory.Inherit()
	if err != nil {
		n.mu.Unlock()
		return 0, 0, skerr.Wrap(err)
	}
	n.mu.Unlock()

	client, err := n.dial(ctx, addr)
	if err != nil {
		return 0, 0, skerr.Wrapf(err, "dialing pivoting process at %q", addr)
	}

	n.mu.Lock()
	n.children = append(n.children, &childEntry{
		id:         child.ID(),
		descriptor: info.LocalityDescriptor,
		client:     client,
	})
	n.mu.Unlock()

	sklog.Infof("tree: attached child %d (%s) at %s under node %d", child.ID(), info.LocalityDescriptor, addr, n.id)
	return child.ID(), child.Depth(), nil
}

// shouldAttachHereLocked decides whether a joining process belongs directly
// under this node rather than under one of its existing children: true
// when this node has no children yet, or when its own descriptor is at
// least as close a locality match as any existing child's.
func (n *Node) shouldAttachHereLocked(candidateDescriptor string) bool {
	if len(n.children) == 0 {
		return true
	}
	ownDistance := locality.Distance(n.descriptor, candidateDescriptor)
	_, closestChildDistance := n.closestChildDistanceLocked(candidateDescriptor)
	return ownDistance <= closestChildDistance
}

func (n *Node) closestChildLocked(candidateDescriptor string) *childEntry {
	idx, _ := n.closestChildDistanceLocked(candidateDescriptor)
	return n.children[idx]
}

func (n *Node) closestChildDistanceLocked(candidateDescriptor string) (int, int) {
	descriptors := make([]string, len(n.children))
	for i, c := range n.children {
		descriptors[i] = c.descriptor
	}
	idx, dist := locality.Closest(candidateDescriptor, descriptors)
	return idx, dist
}

// Join confirms a previously pivoted child is ready to accept commands,
// idempotently. A join for a descriptor not already known is an error: it
// implies a Pivot was never acknowledged, or targeted a different node.
func (n *Node) Join(ctx context.Context, descriptor string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.children {
		if c.descriptor == descriptor {
			return nil
		}
	}
	return skerr.Fmt("tree: join from unknown descriptor %q (no matching pivot)", descriptor)
}

// snapshotChildren returns a stable-ordered copy of the child list for use
// outside the lock, e.g. during a fan-out.
func (n *Node) snapshotChildren() []*childEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*childEntry, len(n.children))
	copy(out, n.children)
	return out
}

// fanOut runs localFn against the local debugger and childFn against every
// child concurrently, on the caller's own ctx rather than a derived
// cancel-on-first-error context: one child failing must not cut off its
// siblings' work (failure isolation), so every goroutine is allowed to run
// to completion and every error it returns is collected, not just the
// first. The combined error, if any, joins every individual failure's
// message.
func (n *Node) fanOut(ctx context.Context, localFn func(context.Context) error, childFn func(context.Context, *childEntry) error) error {
	children := n.snapshotChildren()
	errs := make([]error, 1+len(children))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = localFn(ctx)
	}()
	for i, c := range children {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i+1] = childFn(ctx, c)
		}()
	}
	wg.Wait()

	return joinErrors(errs)
}

// joinErrors concatenates every non-nil error's message into one combined
// error, or returns nil if none failed.
func joinErrors(errs []error) error {
	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		return skerr.Fmt("%s", msgs[0])
	default:
		return skerr.Fmt("%d errors: %s", len(msgs), strings.Join(msgs, "; "))
	}
}

// Start implements debugger.Debugger by launching the local debuggee and
// every descendant's, in parallel.
func (n *Node) Start(ctx context.Context) error {
	return n.fanOut(ctx,
		n.local.Start,
		func(ctx context.Context, c *childEntry) error {
			resp, err := c.client.Do(ctx, overlay.Command{Kind: overlay.CmdStart})
			return responseErr(resp, err)
		})
}

// Stop implements debugger.Debugger. Idempotent at the subtree level, not
// just the leaf level: if every thread this node knows about (local and
// descendant) is already stopped, the broadcast is skipped entirely rather
// than fanning a no-op out across the whole subtree.
func (n *Node) Stop(ctx context.Context) error {
	state, err := n.State(ctx)
	if err != nil {
		return err
	}
	if debugger.IsStopped(state) {
		return nil
	}
	return n.fanOut(ctx,
		n.local.Stop,
		func(ctx context.Context, c *childEntry) error {
			resp, err := c.client.Do(ctx, overlay.Command{Kind: overlay.CmdStop})
			return responseErr(resp, err)
		})
}

// Continue implements debugger.Debugger. Idempotent: skips the broadcast
// if the subtree is already running, or has already exited and so can't be
// continued.
func (n *Node) Continue(ctx context.Context) error {
	state, err := n.State(ctx)
	if err != nil {
		return err
	}
	if debugger.IsRunning(state) || debugger.AnyExited(state) {
		return nil
	}
	return n.fanOut(ctx,
		n.local.Continue,
		func(ctx context.Context, c *childEntry) error {
			resp, err := c.client.Do(ctx, overlay.Command{Kind: overlay.CmdContinue})
			return responseErr(resp, err)
		})
}

func responseErr(resp overlay.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return skerr.Fmt("%s", resp.Error)
	}
	return nil
}

// Count implements debugger.Debugger, summing the local process count with
// every child subtree's count.
func (n *Node) Count(ctx context.Context) (int, error) {
	var mu sync.Mutex
	total := 0

	err := n.fanOut(ctx,
		func(ctx context.Context) error {
			c, err := n.local.Count(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			total += c
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, c *childEntry) error {
			resp, err := c.client.Do(ctx, overlay.Command{Kind: overlay.CmdCount})
			if err := responseErr(resp, err); err != nil {
				return err
			}
			mu.Lock()
			total += resp.Count
			mu.Unlock()
			return nil
		})
	return total, err
}

// State implements debugger.Debugger by unioning every subtree's state map.
func (n *Node) State(ctx context.Context) (map[uint32]snapshot.RunState, error) {
	var mu sync.Mutex
	state := map[uint32]snapshot.RunState{}

	err := n.fanOut(ctx,
		func(ctx context.Context) error {
			s, err := n.local.State(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			for k, v := range s {
				state[k] = v
			}
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, c *childEntry) error {
			resp, err := c.client.Do(ctx, overlay.Command{Kind: overlay.CmdGetState})
			if err := responseErr(resp, err); err != nil {
				return err
			}
			mu.Lock()
			for k, v := range resp.State {
				state[k] = v
			}
			mu.Unlock()
			return nil
		})
	return state, err
}

// Snapshot implements debugger.Debugger by merging every subtree's
// deduplicated component map — the aggregation engine's core reducer.
func (n *Node) Snapshot(ctx context.Context) (snapshot.ProgramSnapshot, error) {
	var mu sync.Mutex
	agg := snapshot.ProgramSnapshot{States: map[uint32]snapshot.RunState{}, Components: snapshot.NewComponents()}

	err := n.fanOut(ctx,
		func(ctx context.Context) error {
			s, err := n.local.Snapshot(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			agg.Merge(s)
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, c *childEntry) error {
			resp, err := c.client.Do(ctx, overlay.Command{Kind: overlay.CmdGetSnapshot})
			if err := responseErr(resp, err); err != nil {
				return err
			}
			if resp.Snapshot != nil {
				mu.Lock()
				agg.Merge(*resp.Snapshot)
				mu.Unlock()
			}
			return nil
		})
	return agg, err
}

// Symbols implements debugger.Debugger by merging every subtree's symbol
// table.
func (n *Node) Symbols(ctx context.Context) (snapshot.SymbolTable, error) {
	var mu sync.Mutex
	tables := []snapshot.SymbolTable{}

	err := n.fanOut(ctx,
		func(ctx context.Context) error {
			s, err := n.local.Symbols(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			tables = append(tables, s)
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, c *childEntry) error {
			resp, err := c.client.Do(ctx, overlay.Command{Kind: overlay.CmdGetSymbols})
			if err := responseErr(resp, err); err != nil {
				return err
			}
			if resp.Symbols != nil {
				mu.Lock()
				tables = append(tables, *resp.Symbols)
				mu.Unlock()
			}
			return nil
		})
	return snapshot.MergeSymbolTables(tables...), err
}

// Handle implements overlay.Handler, answering one command received from
// this node's parent (or, at the root, from the CLI driver).
func (n *Node) Handle(ctx context.Context, cmd overlay.Command) overlay.Response {
	switch cmd.Kind {
	case overlay.CmdStart:
		if err := n.Start(ctx); err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.Ok()
	case overlay.CmdStop:
		if err := n.Stop(ctx); err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.Ok()
	case overlay.CmdContinue:
		if err := n.Continue(ctx); err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.Ok()
	case overlay.CmdCount:
		count, err := n.Count(ctx)
		if err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.CountResponse(count)
	case overlay.CmdGetState:
		state, err := n.State(ctx)
		if err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.StateResponse(state)
	case overlay.CmdGetSnapshot:
		snap, err := n.Snapshot(ctx)
		if err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.SnapshotResponse(snap)
	case overlay.CmdGetSymbols:
		table, err := n.Symbols(ctx)
		if err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.SymbolsResponse(table)
	case overlay.CmdPivot:
		if cmd.Pivot == nil {
			return overlay.Err("pivot command missing payload")
		}
		id, depth, err := n.Pivot(ctx, cmd.Pivot.Process, cmd.Pivot.Address)
		if err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.PivotResponse(id, depth)
	case overlay.CmdJoin:
		if cmd.Join == nil {
			return overlay.Err("join command missing payload")
		}
		if err := n.Join(ctx, cmd.Join.Descriptor); err != nil {
			return overlay.Err(err.Error())
		}
		return overlay.Ok()
	default:
		return overlay.Err(fmt.Sprintf("tree: unknown command kind %q", cmd.Kind))
	}
}
