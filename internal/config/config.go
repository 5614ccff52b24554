// Package config defines the on-disk instance configuration for a snapped
// node: how it spawns and drives gdb, how it advertises itself to the
// tree, and whether it exposes a debug HTTP surface.
package config

import (
	"encoding/json"
	"io/fs"
	"time"

	"go.skia.org/infra/go/skerr"
)

// MI configures how this node drives its local gdb subprocess.
type MI struct {
	// GdbPath is the gdb binary to invoke; defaults to "gdb" on PATH.
	GdbPath string `json:"gdbPath"`
	// CommandTimeout is the configured bound for a single MI command round
	// trip. It is loaded here but not applied: the MI driver's commands run
	// under the caller's context, with no deadline taken from this value.
	CommandTimeout Duration `json:"commandTimeout"`
	// CaptureLocals is the configured switch for reading frame-local
	// variables into each DebugFrame during a snapshot. It is loaded here
	// but nothing consults it: snapshots never read arguments or locals.
	CaptureLocals bool `json:"captureLocals"`
}

// Tree configures this node's place in the overlay network.
type Tree struct {
	// ListenAddr is the address this node's overlay.Server binds, e.g.
	// ":0" to let the OS assign a port.
	ListenAddr string `json:"listenAddr"`
	// AdvertiseHost is the hostname or IP this node reports to its parent
	// during Pivot, which may differ from ListenAddr's host behind NAT.
	AdvertiseHost string `json:"advertiseHost"`
	// ParentAddr is where to send this node's Pivot request; empty means
	// this node is the tree root.
	ParentAddr string `json:"parentAddr"`
}

// Debugsrv configures the optional per-node debug HTTP surface.
type Debugsrv struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listenAddr"`
}

// InstanceConfig is the full configuration for one snapped process.
type InstanceConfig struct {
	MI       MI       `json:"mi"`
	Tree     Tree     `json:"tree"`
	Debugsrv Debugsrv `json:"debugsrv"`
}

// Duration is a time.Duration that unmarshals from a JSON string like
// "5s", matching how the rest of this config file reads.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return skerr.Wrap(err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return skerr.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// AsDuration converts back to a stdlib time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no config file is supplied:
// a self-contained root node with no debug HTTP surface.
func Default() InstanceConfig {
	return InstanceConfig{
		MI: MI{
			GdbPath:        "gdb",
			CommandTimeout: Duration(5 * time.Second),
		},
		Tree: Tree{
			ListenAddr: ":0",
		},
	}
}

// Load reads and parses an InstanceConfig from name within fsys, the same
// embedded-config-directory pattern the rest of this module's ambient
// stack uses for picking a named deployment profile (e.g. "prod.json" vs
// "test.json").
func Load(fsys fs.FS, name string) (InstanceConfig, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return InstanceConfig{}, skerr.Wrapf(err, "reading config %q", name)
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return InstanceConfig{}, skerr.Wrapf(err, "parsing config %q", name)
	}
	return cfg, nil
}
