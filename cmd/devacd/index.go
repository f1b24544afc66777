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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/devac-project/devac/pkg/hub"
	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
	"github.com/devac-project/devac/pkg/parser/refparser"
	"github.com/devac-project/devac/pkg/seed"
	"github.com/devac-project/devac/pkg/updatemgr"
	"github.com/devac-project/devac/pkg/watch"
)

// runIndex is the 'index' command: a one-shot full pass over every
// package under the given repo paths (or the working directory),
// feeding every matching file through the update manager as an add.
// Unlike 'serve' this does not watch; it exits once the pass completes,
// matching the teacher's cie index one-shot-run shape rather than its
// daemon one.
func runIndex(args []string, configPath string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	quiet := fs.Bool("quiet", false, "Suppress the progress bar")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if _, err := LoadConfig(configPath); err != nil {
		fatal(err)
	}

	repoPaths := fs.Args()
	if len(repoPaths) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(err)
		}
		repoPaths = []string{cwd}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	h := hub.New()
	writer := seed.NewWriter()
	registry := parser.NewRegistry(refparser.New())
	ctx := context.Background()

	for _, repoPath := range repoPaths {
		repo, err := h.RegisterRepo(repoPath)
		if err != nil {
			logger.Error("repo.register.error", "path", repoPath, "err", err)
			continue
		}

		for _, name := range repo.Packages {
			pkg, ok := h.Package(name)
			if !ok {
				continue
			}
			indexPackage(ctx, logger, writer, registry, pkg, repo.ID, *quiet)
		}
	}
}

func indexPackage(ctx context.Context, logger *slog.Logger, writer *seed.Writer, registry *parser.Registry, pkg hub.Package, repoID string, quiet bool) {
	partition := seed.Partition{
		Dir:       filepath.Join(pkg.SeedRoot, model.BaseBranch),
		RepoID:    repoID,
		PackageID: pkg.Name,
		Branch:    model.BaseBranch,
	}
	if err := seed.EnsurePartitionDir(partition.Dir); err != nil {
		logger.Error("index.partition.error", "package", pkg.Name, "err", err)
		return
	}

	files := matchingFiles(pkg.Path, registry)
	if len(files) == 0 {
		return
	}

	mgr := updatemgr.NewManager(writer, partition, registry, logger.With("package", pkg.Name))

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.Default(int64(len(files)), fmt.Sprintf("indexing %s", pkg.Name))
	}

	var failed int
	for _, path := range files {
		res := mgr.ProcessEvent(ctx, watch.Event{Kind: watch.EventAdd, Path: path}, os.ReadFile)
		if res.Status == updatemgr.StatusError {
			failed++
			logger.Warn("index.file.error", "path", path, "err", res.Err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	logger.Info("index.package.done", "package", pkg.Name, "files", len(files), "failed", failed)
}

func matchingFiles(root string, registry *parser.Registry) []string {
	var files []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if registry.Lookup(path) == nil {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files
}
