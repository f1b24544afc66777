// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"

	"github.com/devac-project/devac/pkg/hubrpc"
)

// statusResult is the get_stats()-shaped JSON output for 'devacd status'.
type statusResult struct {
	SocketPath      string            `json:"socket_path"`
	Connected       bool              `json:"connected"`
	ServerVersion   string            `json:"server_version,omitempty"`
	ProtocolVersion int               `json:"protocol_version,omitempty"`
	Repos           []hubrpc.RepoInfo `json:"repos,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// runStatus is the 'status' command: connects to a live devacd over its
// Unix-domain socket and reports what it sees, in the teacher's
// human-readable-by-default / --json-on-request style.
func runStatus(args []string, configPath string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	socketPath := cfg.Socket
	if socketPath == "" {
		socketPath = defaultSocketPath()
	}

	result := statusResult{SocketPath: socketPath}

	ctx, cancel := context.WithTimeout(context.Background(), hubrpc.DefaultDialTimeout)
	defer cancel()

	client, err := hubrpc.Connect(ctx, socketPath, hubrpc.DefaultDialTimeout)
	if err != nil {
		result.Error = connectErrorMessage(err)
	} else {
		defer client.Close()
		result.Connected = true
		if ping, err := client.Ping(ctx); err == nil {
			result.ServerVersion = ping.ServerVersion
			result.ProtocolVersion = ping.ProtocolVersion
		}
		if repos, err := client.ListRepos(ctx); err == nil {
			result.Repos = repos
		}
	}

	if *asJSON {
		printStatusJSON(result)
		return
	}
	printStatusHuman(result)
}

func connectErrorMessage(err error) string {
	var mismatch *hubrpc.ErrProtocolMismatch
	if errors.As(err, &mismatch) {
		return mismatch.Error()
	}
	if errors.Is(err, hubrpc.ErrNoServer) {
		return "no devacd is listening on this socket"
	}
	return err.Error()
}

func printStatusJSON(r statusResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(r)
}

func printStatusHuman(r statusResult) {
	useColor := isatty.IsTerminal(os.Stdout.Fd())
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	if !useColor {
		ok = fmt.Sprint
		bad = fmt.Sprint
	}

	fmt.Printf("socket:  %s\n", r.SocketPath)
	if !r.Connected {
		fmt.Printf("status:  %s (%s)\n", bad("down"), r.Error)
		return
	}
	fmt.Printf("status:  %s\n", ok("up"))
	fmt.Printf("version: %s (protocol v%d)\n", r.ServerVersion, r.ProtocolVersion)
	fmt.Printf("repos:   %d\n", len(r.Repos))
	for _, repo := range r.Repos {
		fmt.Printf("  - %s  %d package(s): %v\n", repo.RepoID, len(repo.Packages), repo.Packages)
	}
}
