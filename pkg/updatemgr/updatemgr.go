// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package updatemgr is the consumer of pkg/watch and pkg/rename: it turns
// filesystem primitives into seed partition mutations. One Manager owns
// one partition and a content-hash gate per path, so a change event that
// did not actually change the file's bytes never triggers a reparse,
// mirroring the teacher's pkg/ingestion hash_delta.go skip-if-unchanged
// idiom generalized from "git delta against the last commit" to "last
// hash this Manager observed".
package updatemgr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/parser"
	"github.com/devac-project/devac/pkg/rename"
	"github.com/devac-project/devac/pkg/seed"
	"github.com/devac-project/devac/pkg/watch"
)

// Status is the outcome of processing one file.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped" // content hash unchanged since last observation
	StatusDeleted Status = "deleted"
	StatusRenamed Status = "renamed"
	StatusError   Status = "error"
)

// FileResult is the per-file outcome of one ProcessEvent/ProcessRename call.
type FileResult struct {
	Path   string
	Status Status
	Err    error
}

// BatchResult aggregates a sequential run over many files. A failure on one
// file never aborts the batch; it is recorded here and processing
// continues, matching the teacher's processIncrementalFiles behavior of
// accumulating per-file errors rather than stopping the run.
type BatchResult struct {
	Results  []FileResult
	Updated  int
	Skipped  int
	Deleted  int
	Renamed  int
	Failed   int
}

func (b *BatchResult) record(r FileResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case StatusUpdated:
		b.Updated++
	case StatusSkipped:
		b.Skipped++
	case StatusDeleted:
		b.Deleted++
	case StatusRenamed:
		b.Renamed++
	case StatusError:
		b.Failed++
	}
}

// ReadFile reads the current content of path for hashing and parsing.
// Callers typically pass os.ReadFile; tests supply an in-memory stand-in.
type ReadFile func(path string) ([]byte, error)

// Manager applies watch/rename events to one seed partition, gating
// reparse on a per-path content hash so an unchanged file never triggers
// work even if the filesystem reports a write.
type Manager struct {
	writer    *seed.Writer
	partition seed.Partition
	registry  *parser.Registry
	logger    *slog.Logger

	mu       sync.Mutex
	lastHash map[string]string
}

// NewManager builds a Manager over one partition. logger defaults to
// slog.Default() when nil, matching the teacher's NewLocalPipeline.
func NewManager(writer *seed.Writer, p seed.Partition, registry *parser.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		writer:    writer,
		partition: p,
		registry:  registry,
		logger:    logger,
		lastHash:  make(map[string]string),
	}
}

// ProcessEvent applies one add/change/unlink primitive. add and change
// share a code path: both read, hash-gate, parse, and WriteFile; only the
// semantics differ (add has no prior row, change replaces one), and
// Writer.WriteFile already treats both as "replace this file's rows".
func (m *Manager) ProcessEvent(ctx context.Context, ev watch.Event, read ReadFile) FileResult {
	switch ev.Kind {
	case watch.EventUnlink:
		return m.processDelete(ctx, ev.Path)
	case watch.EventAdd, watch.EventChange:
		return m.processUpsert(ctx, ev.Path, read)
	default:
		return FileResult{Path: ev.Path, Status: StatusError, Err: errs.NewInputError(
			"Unknown watch event kind", string(ev.Kind), "only add, change, and unlink are handled")}
	}
}

// ProcessRename applies one detected rename as a single RenameFile call:
// the old path's rows are dropped and the new path's rows are written in
// the same locked commit, so a reader never observes a window where
// neither or both paths have rows.
func (m *Manager) ProcessRename(ctx context.Context, r rename.RenameInfo, read ReadFile) FileResult {
	res, err := m.parse(ctx, r.NewPath, read)
	if err != nil {
		return FileResult{Path: r.NewPath, Status: StatusError, Err: err}
	}
	if err := m.writer.RenameFile(ctx, m.partition, r.OldPath, r.NewPath, res); err != nil {
		return FileResult{Path: r.NewPath, Status: StatusError, Err: err}
	}

	m.mu.Lock()
	delete(m.lastHash, r.OldPath)
	m.lastHash[r.NewPath] = r.ContentHash
	m.mu.Unlock()

	return FileResult{Path: r.NewPath, Status: StatusRenamed}
}

// ProcessBatch runs a full debounce window through the Manager: renames
// first (they already replace the unlink+add pair pkg/rename fused), then
// every remaining primitive, sequentially and in order. Each file is
// independent; one failure is recorded and processing continues, never
// aborting the rest of the batch.
func (m *Manager) ProcessBatch(ctx context.Context, events []watch.Event, renames []rename.RenameInfo, read ReadFile) BatchResult {
	var batch BatchResult

	for _, r := range renames {
		res := m.ProcessRename(ctx, r, read)
		m.logResult(res)
		batch.record(res)
	}

	for _, ev := range events {
		res := m.ProcessEvent(ctx, ev, read)
		m.logResult(res)
		batch.record(res)
	}

	return batch
}

func (m *Manager) processUpsert(ctx context.Context, path string, read ReadFile) FileResult {
	content, err := read(path)
	if err != nil {
		return FileResult{Path: path, Status: StatusError, Err: errs.NewIOError(
			"Could not read changed file", err.Error(), path, err)}
	}
	hash := rename.HashContent(content)

	m.mu.Lock()
	unchanged := m.lastHash[path] == hash
	m.mu.Unlock()
	if unchanged {
		return FileResult{Path: path, Status: StatusSkipped}
	}

	res, err := m.parseContent(ctx, path, content)
	if err != nil {
		return FileResult{Path: path, Status: StatusError, Err: err}
	}
	if err := m.writer.WriteFile(ctx, m.partition, path, res); err != nil {
		return FileResult{Path: path, Status: StatusError, Err: err}
	}

	m.mu.Lock()
	m.lastHash[path] = hash
	m.mu.Unlock()

	return FileResult{Path: path, Status: StatusUpdated}
}

func (m *Manager) processDelete(ctx context.Context, path string) FileResult {
	if err := m.writer.DeleteFile(ctx, m.partition, path); err != nil {
		return FileResult{Path: path, Status: StatusError, Err: err}
	}
	m.mu.Lock()
	delete(m.lastHash, path)
	m.mu.Unlock()
	return FileResult{Path: path, Status: StatusDeleted}
}

func (m *Manager) parse(ctx context.Context, path string, read ReadFile) (*parser.ParseResult, error) {
	content, err := read(path)
	if err != nil {
		return nil, errs.NewIOError("Could not read file", err.Error(), path, err)
	}
	return m.parseContent(ctx, path, content)
}

func (m *Manager) parseContent(ctx context.Context, path string, content []byte) (*parser.ParseResult, error) {
	p := m.registry.Lookup(path)
	if p == nil {
		return &parser.ParseResult{FilePath: path}, nil
	}
	cfg := parser.Config{RepoID: m.partition.RepoID, PackageID: m.partition.PackageID}
	res, err := p.ParseContent(ctx, string(content), path, cfg)
	if err != nil {
		return nil, errs.NewIOError("Could not parse file", err.Error(), path, err)
	}
	return res, nil
}

func (m *Manager) logResult(r FileResult) {
	if r.Status == StatusError {
		m.logger.Error("update manager: file failed", "path", r.Path, "error", r.Err)
		return
	}
	m.logger.Debug("update manager: file processed", "path", r.Path, "status", string(r.Status))
}
