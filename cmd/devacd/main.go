// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements devacd, the daemon entrypoint wiring the file
// watcher, rename detector, update manager, and hub together over one or
// more registered repositories.
//
// Usage:
//
//	devacd [--config path] serve [--metrics-addr addr]   Run the daemon
//	devacd index [--quiet] [repo-path...]                One-shot full index
//	devacd status [--json]                               Show hub/watcher health
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	showVersion := flag.BoolP("version", "V", false, "Show version and exit")
	configPath := flag.StringP("config", "c", "", "Path to .devac/workspace.yaml (default: discovered)")
	flag.CommandLine.SetInterspersed(false)
	flag.Parse()

	if *showVersion {
		fmt.Println("devacd", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		runServe(rest, *configPath)
	case "index":
		runIndex(rest, *configPath)
	case "status":
		runStatus(rest, *configPath)
	default:
		fmt.Fprintf(os.Stderr, "devacd: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: devacd <command> [options]

Commands:
  serve     Run the watcher + update manager + hub daemon
  index     One-shot full index of one or more repo paths
  status    Show hub and watcher health

Global flags:
  -c, --config string   Path to .devac/workspace.yaml
  -V, --version          Show version and exit
`)
}
