// Command snapped pilots a debuggee through gdb's machine interface and
// joins it to a tree-based overlay network of other snapped instances,
// aggregating their run state, deduplicated backtraces, and symbol tables
// up to whichever node a caller queries.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"go.skia.org/infra/go/common"
	"go.skia.org/infra/go/skerr"
	"go.skia.org/infra/go/sklog"

	"go.skia.org/snapped/internal/config"
	"go.skia.org/snapped/internal/config/configs"
	"go.skia.org/snapped/internal/debugger"
	"go.skia.org/snapped/internal/debugsrv"
	"go.skia.org/snapped/internal/locality"
	"go.skia.org/snapped/internal/mi"
	"go.skia.org/snapped/internal/overlay"
	"go.skia.org/snapped/internal/snapshot"
	"go.skia.org/snapped/internal/tree"
	"go.skia.org/snapped/internal/treeid"
)

// maxManualInterrupts is how many times a user can Ctrl-C this process
// before it gives up forwarding the interrupt to the debuggee and just
// exits. Mirrors the original's WAS_INTERRUPTED counter, which treats
// repeated manual interrupts as "the user wants out," not "interrupt the
// inferior again."
const maxManualInterrupts = 4

// rootServerEnvVar is the environment variable a leaf falls back to for its
// root/parent address when neither -parent nor the config file's
// tree.parentAddr is set, matching the original's reliance on an env var
// for the analogous setting in deployments that can't pass per-process
// flags.
const rootServerEnvVar = "SNAPPED_ROOT_SERVER"

var (
	configFlag             = flag.String("config", "prod.json", "Named configuration profile, as found in internal/config/configs.")
	local                  = flag.Bool("local", false, "Running locally if true, as opposed to in production.")
	promPort               = flag.String("prom_port", ":20000", "Metrics service address (e.g. ':20000').")
	parentAddr             = flag.String("parent", "", "Address of the tree node to pivot into, overriding the config file's tree.parentAddr and the SNAPPED_ROOT_SERVER environment variable. Empty means this process is the tree root.")
	listenAddr             = flag.String("listen", "", "Overlay listen address, overriding the config file's tree.listenAddr.")
	command                = flag.String("command", "", "One-shot command to run against this node once it's up: start, stop, continue, count, state, snapshot, symbols. Empty means serve indefinitely.")
	interruptAfter         = flag.Duration("interrupt_after", 0, "If non-zero, automatically interrupt the debuggee on this interval, alongside serving commands.")
	pivotProcesses         = flag.Int("pivot-processes", 0, "When this process is the tree root, wait for this many children to join via pivot before serving commands. 0 means don't wait.")
	waitForChildrenTimeout = flag.Duration("pivot-timeout", 5*time.Minute, "How long to wait for -pivot-processes children to join before giving up.")
)

// Version can be overridden via -ldflags.
var Version = "development"

func main() {
	common.InitWithMust(
		"snapped",
		common.PrometheusOpt(promPort),
		common.MetricsLoggingOpt(),
		common.CloudLogging(local, "skia-public"),
	)
	sklog.Infof("snapped version %s", Version)

	cfg, err := config.Load(configs.Configs, *configFlag)
	if err != nil {
		sklog.Fatalf("failed to load config %q: %s", *configFlag, err)
	}
	if *listenAddr != "" {
		cfg.Tree.ListenAddr = *listenAddr
	}
	if *parentAddr != "" {
		cfg.Tree.ParentAddr = *parentAddr
	} else if env := os.Getenv(rootServerEnvVar); cfg.Tree.ParentAddr == "" && env != "" {
		cfg.Tree.ParentAddr = env
	}

	targetArgs := flag.Args()
	if len(targetArgs) == 0 {
		sklog.Fatalf("usage: snapped [flags] -- <debuggee> [args...]")
	}

	ctx := context.Background()
	node, srv, cleanup, err := bootstrap(ctx, cfg, targetArgs)
	if err != nil {
		sklog.Fatalf("bootstrap failed: %s", err)
	}
	defer cleanup()

	go func() {
		if err := srv.Serve(ctx); err != nil {
			sklog.Errorf("overlay server exited: %s", err)
		}
	}()

	if cfg.Tree.ParentAddr == "" && *pivotProcesses > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, *waitForChildrenTimeout)
		err := waitForChildren(waitCtx, node, *pivotProcesses)
		cancel()
		if err != nil {
			sklog.Fatalf("waiting for %d children to pivot in: %s", *pivotProcesses, err)
		}
	}

	if cfg.Debugsrv.Enabled {
		startDebugsrv(cfg, node)
	}

	go watchManualInterrupts(ctx, node)

	if *interruptAfter > 0 {
		go runPeriodicInterrupt(ctx, node, *interruptAfter)
	}

	if *command != "" {
		runOneShotCommand(ctx, node, *command)
		return
	}

	select {}
}

// bootstrap spawns the local gdb driver, builds this node's place in the
// tree (root or pivoted child), and starts its overlay listener. It
// returns the live *tree.Node (itself a debugger.Debugger, but returned
// concretely so callers like waitForChildren can reach ChildCount), the
// not-yet-serving overlay.Server, and a cleanup func to run on exit.
func bootstrap(ctx context.Context, cfg config.InstanceConfig, targetArgs []string) (*tree.Node, *overlay.Server, func(), error) {
	gdbPath := cfg.MI.GdbPath
	if gdbPath == "" {
		gdbPath = "gdb"
	}
	driver, err := mi.StartWithPath(ctx, gdbPath, targetArgs[0], targetArgs[1:])
	if err != nil {
		return nil, nil, nil, skerr.Wrapf(err, "starting gdb for %q", targetArgs[0])
	}
	leaf := debugger.NewLeaf(driver)

	descriptor, err := localityDescriptor()
	if err != nil {
		sklog.Warningf("failed to compute locality descriptor, using placeholder %q: %s", descriptor, err)
	}

	handler := &delegatingHandler{}
	srv, err := overlay.Listen(cfg.Tree.ListenAddr, handler)
	if err != nil {
		_ = driver.Close()
		return nil, nil, nil, skerr.Wrap(err)
	}

	advertiseAddr := srv.Addr()
	if cfg.Tree.AdvertiseHost != "" {
		advertiseAddr = advertisedAddr(cfg.Tree.AdvertiseHost, srv.Addr())
	}

	var node *tree.Node
	if cfg.Tree.ParentAddr == "" {
		node = tree.NewRoot(leaf, descriptor)
		sklog.Infof("snapped: running as tree root, listening on %s", srv.Addr())
	} else {
		node, err = pivotIntoParent(ctx, cfg.Tree.ParentAddr, leaf, descriptor, advertiseAddr)
		if err != nil {
			_ = driver.Close()
			_ = srv.Close()
			return nil, nil, nil, skerr.Wrap(err)
		}
		sklog.Infof("snapped: pivoted into %s as tree node %d, listening on %s", cfg.Tree.ParentAddr, node.ID(), srv.Addr())
	}
	handler.set(node)

	cleanup := func() {
		_ = srv.Close()
		_ = driver.Close()
	}
	return node, srv, cleanup, nil
}

// pivotIntoParent dials parentAddr, sends a Pivot request advertising
// advertiseAddr, and reconstructs this node's ID factory from the
// response, then confirms with a Join.
func pivotIntoParent(ctx context.Context, parentAddr string, localDebugger debugger.Debugger, descriptor, advertiseAddr string) (*tree.Node, error) {
	client, err := overlay.Dial(ctx, parentAddr)
	if err != nil {
		return nil, skerr.Wrapf(err, "dialing parent %q", parentAddr)
	}
	defer client.Close()

	resp, err := client.Do(ctx, overlay.Command{
		Kind: overlay.CmdPivot,
		Pivot: &overlay.PivotRequest{
			Process: snapshot.ProcessInfo{LocalityDescriptor: descriptor},
			Address: advertiseAddr,
		},
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if resp.IsError() {
		return nil, skerr.Fmt("parent refused pivot: %s", resp.Error)
	}

	factory := treeid.FromAssignment(resp.TreeID, resp.Depth)
	node := tree.NewChild(localDebugger, descriptor, factory)

	joinResp, err := client.Do(ctx, overlay.Command{
		Kind: overlay.CmdJoin,
		Join: &overlay.JoinRequest{Descriptor: descriptor, Address: advertiseAddr},
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if joinResp.IsError() {
		return nil, skerr.Fmt("parent refused join: %s", joinResp.Error)
	}
	return node, nil
}

// waitForChildrenPollInterval is how often waitForChildren rechecks the
// root's child count.
const waitForChildrenPollInterval = 200 * time.Millisecond

// waitForChildren blocks until node has seated expected children via
// pivot, matching the original's wait_for_child: root-mode orchestration
// that holds off running user commands until the expected fleet has
// joined.
func waitForChildren(ctx context.Context, node *tree.Node, expected int) error {
	sklog.Infof("snapped: waiting for %d children to pivot in", expected)
	ticker := time.NewTicker(waitForChildrenPollInterval)
	defer ticker.Stop()
	for {
		if node.ChildCount() >= expected {
			sklog.Infof("snapped: %d children joined", node.ChildCount())
			return nil
		}
		select {
		case <-ctx.Done():
			return skerr.Wrapf(ctx.Err(), "only %d/%d children joined", node.ChildCount(), expected)
		case <-ticker.C:
		}
	}
}

// delegatingHandler lets the overlay.Server start accepting connections
// before the tree.Node it dispatches to exists (the node can't be built
// until the Pivot round trip that creates it completes, but the server
// must already be listening for that round trip's Join to work).
type delegatingHandler struct {
	node atomic.Pointer[tree.Node]
}

func (h *delegatingHandler) set(n *tree.Node) { h.node.Store(n) }

func (h *delegatingHandler) Handle(ctx context.Context, cmd overlay.Command) overlay.Response {
	n := h.node.Load()
	if n == nil {
		return overlay.Err("node not yet initialized")
	}
	return n.Handle(ctx, cmd)
}

// advertisedAddr substitutes advertiseHost for listenAddr's host, keeping
// whatever port the OS assigned — used when the overlay listener binds a
// wildcard or container-local address but the parent needs a routable one.
func advertisedAddr(advertiseHost, listenAddr string) string {
	idx := strings.LastIndex(listenAddr, ":")
	if idx < 0 {
		return listenAddr
	}
	return advertiseHost + listenAddr[idx:]
}

func localityDescriptor() (string, error) {
	prober := locality.DefaultProber{}
	host, err := prober.Hostname()
	if err != nil {
		return fmt.Sprintf("unknown-0-%d", os.Getpid()), err
	}
	numa, err := prober.DominatingNUMANode()
	if err != nil {
		numa = 0
	}
	return locality.Descriptor(host, numa, uint64(os.Getpid())), nil
}

func startDebugsrv(cfg config.InstanceConfig, node debugger.Debugger) {
	srv := debugsrv.New(node)
	httpServer := &http.Server{
		Addr:         cfg.Debugsrv.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  srv.ReadTimeout(),
		WriteTimeout: srv.WriteTimeout(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sklog.Errorf("debugsrv exited: %s", err)
		}
	}()
}

// watchManualInterrupts forwards the first maxManualInterrupts-1 SIGINTs
// to the debuggee as Stop commands; the next one exits this process
// outright, so a user who keeps pressing Ctrl-C always eventually escapes
// even if the debuggee refuses to stop.
func watchManualInterrupts(ctx context.Context, node debugger.Debugger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	var count int
	for range sigCh {
		count++
		if count >= maxManualInterrupts {
			sklog.Warningf("received %d interrupts, exiting", count)
			os.Exit(130)
		}
		sklog.Infof("received interrupt %d/%d, forwarding to debuggee", count, maxManualInterrupts)
		if err := node.Stop(ctx); err != nil {
			sklog.Errorf("failed to forward interrupt: %s", err)
		}
	}
}

func runPeriodicInterrupt(ctx context.Context, node debugger.Debugger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		start := time.Now()
		if err := node.Stop(ctx); err != nil {
			sklog.Errorf("periodic interrupt failed: %s", err)
			continue
		}
		sklog.Infof("periodic interrupt completed in %s", time.Since(start))
	}
}

// runOneShotCommand executes a single named operation against node and
// prints its JSON result to stdout, the CLI entry point for scripted use
// (as opposed to -parent, which is for joining the tree programmatically).
func runOneShotCommand(ctx context.Context, node debugger.Debugger, name string) {
	var (
		result interface{}
		err    error
	)
	switch strings.ToLower(name) {
	case "start":
		err = node.Start(ctx)
		result = map[string]string{"status": "started"}
	case "stop":
		err = node.Stop(ctx)
		result = map[string]string{"status": "stopped"}
	case "continue":
		err = node.Continue(ctx)
		result = map[string]string{"status": "continued"}
	case "count":
		result, err = node.Count(ctx)
	case "state":
		result, err = node.State(ctx)
	case "snapshot":
		result, err = node.Snapshot(ctx)
	case "symbols":
		result, err = node.Symbols(ctx)
	default:
		sklog.Fatalf("unknown command %q", name)
	}
	if err != nil {
		sklog.Fatalf("command %q failed: %s", name, err)
	}
	printJSON(result)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		sklog.Errorf("failed to encode result: %s", err)
	}
}
