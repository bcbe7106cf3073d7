// Package configs provides embedded configuration templates for docdex.
//
// Templates are embedded at build time with go:embed so they ship inside
// the binary regardless of how it was installed.
//
// Configuration layers (see internal/config.Load):
//  1. Built-in defaults (internal/config.NewConfig)
//  2. User config (~/.config/docdex/config.yaml)
//  3. Project config (.docdex.yaml in the project root)
//  4. Environment variables (DOCDEX_*)
package configs

import _ "embed"

// ProjectConfigTemplate is written by `docdex config init` as .docdex.yaml in
// the project root. Project-level settings: source directory, database path,
// embedding mode, query defaults.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is the machine-level template for
// ~/.config/docdex/config.yaml. Holds settings that apply to every project on
// this machine, like the local embedding server URL and the remote API key
// environment variable.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
