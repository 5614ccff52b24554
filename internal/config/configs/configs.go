// Package configs embeds the named configuration profiles snapped ships
// with, the same way test_machine_monitor embeds its machine/go/configs
// directory.
package configs

import "embed"

// Configs is the embedded filesystem of named configuration profiles.
//
//go:embed *.json
var Configs embed.FS
