// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package seed is the write side of a package's seed partition: the
// directory of Parquet files and a meta.json stamp that hold one
// package's nodes, edges, and external refs for one branch. Every write
// here runs behind a gofrs/flock advisory lock on the partition and uses
// the temp file, fsync, rename, dir fsync shape the teacher's manifest
// writer used for its single JSON file: meta.json goes through
// internal/atomicio, and each Parquet file is staged at a .tmp sibling and
// renamed into place on its own. The four renames happen one after
// another, so each file lands whole, but a crash between two renames can
// leave the files out of step with each other.
package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/devac-project/devac/internal/atomicio"
	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/columnar"
	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
)

const (
	nodesFile = "nodes.parquet"
	edgesFile = "edges.parquet"
	refsFile  = "external_refs.parquet"
	metaFile  = "meta.json"
	lockFile  = ".lock"

	// staleLockAge is how old a lock file's mtime must be before a new
	// writer is allowed to reap it as abandoned (Open Question #3:
	// resolved as a fixed, but overridable, constant; see WithStaleLockAge).
	staleLockAge = 30 * time.Second

	lockRetryDelay = 25 * time.Millisecond
)

// Partition identifies one package's on-disk seed directory for one
// branch.
type Partition struct {
	Dir       string
	RepoID    string
	PackageID string
	Branch    string
}

// path joins the partition directory with one of the fixed file names.
func (p Partition) path(name string) string {
	return filepath.Join(p.Dir, name)
}

// Writer applies file-level mutations to a partition.
type Writer struct {
	staleLockAge time.Duration
}

// Option configures a Writer.
type Option func(*Writer)

// WithStaleLockAge overrides the default stale-lock reap window.
func WithStaleLockAge(d time.Duration) Option {
	return func(w *Writer) { w.staleLockAge = d }
}

// NewWriter builds a seed Writer.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{staleLockAge: staleLockAge}
	for _, o := range opts {
		o(w)
	}
	return w
}

// lockTimeout is how long Writer.withLock waits for the advisory lock
// before giving up with errs.LockTimeout.
const lockTimeout = 10 * time.Second

// withLock acquires the partition's advisory lock, reaping it first if it
// looks abandoned, runs fn, then releases.
func (w *Writer) withLock(ctx context.Context, p Partition, fn func() error) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return errs.NewIOError("Could not create partition directory", err.Error(), p.Dir, err)
	}

	lockPath := p.path(lockFile)
	w.reapIfStale(lockPath)

	fl := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if lockCtx.Err() == context.DeadlineExceeded {
			return errs.NewLockTimeout(p.Dir, err)
		}
		holder := readLockHolder(lockPath)
		return errs.NewLockContention(p.Dir, holder)
	}
	defer fl.Unlock()

	return fn()
}

// reapIfStale removes a lock file whose mtime is older than the stale
// window. flock itself already releases on process death via the OS, but
// a crashed container can leave the lock file behind on a shared volume
// where the original holder's PID no longer resolves to anything; this
// is belt-and-suspenders cleanup, not the primary safety mechanism.
func (w *Writer) reapIfStale(lockPath string) {
	fi, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	if time.Since(fi.ModTime()) > w.staleLockAge {
		_ = os.Remove(lockPath)
	}
}

func readLockHolder(lockPath string) int {
	// The lock file carries no holder metadata of its own; gofrs/flock
	// locks the file handle, not its contents. We report 0 (unknown) to
	// the caller's errs.LockContention rather than guess.
	_ = lockPath
	return 0
}

// loaded is a partition's three relations held in memory for a mutation.
type loaded struct {
	nodes []columnar.NodeRow
	edges []columnar.EdgeRow
	refs  []columnar.ExternalRefRow
}

// load reads a partition's three relations after checking meta.json's
// schema version: a version newer than this binary understands refuses
// with errs.SchemaIncompatible before any Parquet file is touched, per
// spec's MUST-refuse requirement.
func (w *Writer) load(p Partition) (loaded, error) {
	meta, err := columnar.ReadMeta(p.path(metaFile))
	if err != nil {
		return loaded{}, errs.NewIOError("Could not read partition meta", err.Error(), p.path(metaFile), err)
	}
	if err := columnar.CheckSchemaVersion(meta); err != nil {
		return loaded{}, err
	}

	nodes, err := columnar.ReadNodes(p.path(nodesFile))
	if err != nil {
		return loaded{}, errs.NewIOError("Could not read nodes", err.Error(), p.path(nodesFile), err)
	}
	edges, err := columnar.ReadEdges(p.path(edgesFile))
	if err != nil {
		return loaded{}, errs.NewIOError("Could not read edges", err.Error(), p.path(edgesFile), err)
	}
	refs, err := columnar.ReadRefs(p.path(refsFile))
	if err != nil {
		return loaded{}, errs.NewIOError("Could not read external refs", err.Error(), p.path(refsFile), err)
	}
	return loaded{nodes: nodes, edges: edges, refs: refs}, nil
}

// commit writes all three relations plus meta.json, each one atomically:
// a Parquet file is written to its tempSibling and renamed into place by
// finishCommit, and meta.json goes through internal/atomicio. A staging
// file whose Parquet write failed is not removed here. Since a crash
// between two renames can still leave the files out of sync, the writer always re-derives row counts from what it just
// wrote and is the only writer holding the partition lock while doing so.
func (w *Writer) commit(p Partition, l loaded) error {
	if err := columnar.WriteNodes(tempSibling(p.path(nodesFile)), l.nodes); err != nil {
		return errs.NewIOError("Could not write nodes", err.Error(), p.path(nodesFile), err)
	}
	if err := finishCommit(p.path(nodesFile)); err != nil {
		return err
	}

	if err := columnar.WriteEdges(tempSibling(p.path(edgesFile)), l.edges); err != nil {
		return errs.NewIOError("Could not write edges", err.Error(), p.path(edgesFile), err)
	}
	if err := finishCommit(p.path(edgesFile)); err != nil {
		return err
	}

	if err := columnar.WriteRefs(tempSibling(p.path(refsFile)), l.refs); err != nil {
		return errs.NewIOError("Could not write external refs", err.Error(), p.path(refsFile), err)
	}
	if err := finishCommit(p.path(refsFile)); err != nil {
		return err
	}

	meta := columnar.Meta{
		SchemaVersion:   columnar.SchemaVersion,
		TombstonePolicy: columnar.TombstonePolicy,
		RepoID:          p.RepoID,
		PackageID:       p.PackageID,
		Branch:          p.Branch,
		RowCounts: columnar.Counts{
			Nodes:        int64(len(l.nodes)),
			Edges:        int64(len(l.edges)),
			ExternalRefs: int64(len(l.refs)),
		},
	}
	b, err := columnar.EncodeMeta(meta)
	if err != nil {
		return err
	}
	if err := atomicio.WriteFile(p.path(metaFile), b, 0o644); err != nil {
		return errs.NewIOError("Could not write partition meta", err.Error(), p.path(metaFile), err)
	}
	return nil
}

// tempSibling is where WriteNodes/WriteEdges/WriteRefs stage a file
// before finishCommit renames it into place. The Parquet writers need a
// real path to open for random-access footer writes, so staging happens
// one level below internal/atomicio rather than through it directly.
func tempSibling(finalPath string) string {
	return finalPath + ".tmp"
}

func finishCommit(finalPath string) error {
	tmp := tempSibling(finalPath)
	f, err := os.Open(tmp)
	if err != nil {
		return errs.NewIOError("Could not stage partition commit", err.Error(), tmp, err)
	}
	_ = f.Sync()
	_ = f.Close()
	if err := os.Rename(tmp, finalPath); err != nil {
		_ = os.Remove(tmp)
		return errs.NewIOError("Could not commit partition file", err.Error(), finalPath, err)
	}
	return atomicio.SyncDir(filepath.Dir(finalPath))
}

// WriteFile replaces every row belonging to filePath in the partition
// with the rows in res, then commits. This is both write_file (file not
// seen before) and update_file (file already present): the row set for
// filePath is always fully replaced, never merged field-by-field.
func (w *Writer) WriteFile(ctx context.Context, p Partition, filePath string, res *parser.ParseResult) error {
	return w.withLock(ctx, p, func() error {
		l, err := w.load(p)
		if err != nil {
			return err
		}

		l.nodes = dropFile(l.nodes, filePath, func(r columnar.NodeRow) string { return r.FilePath })
		l.edges = dropFile(l.edges, filePath, func(r columnar.EdgeRow) string { return r.SourceFilePath })
		l.refs = dropFile(l.refs, filePath, func(r columnar.ExternalRefRow) string { return r.SourceFilePath })

		now := nowMillis()
		for _, n := range res.Nodes {
			n.Branch = p.Branch
			n.UpdatedAt = now
			l.nodes = append(l.nodes, columnar.NodeToRow(n))
		}
		for _, e := range res.Edges {
			e.Branch = p.Branch
			e.UpdatedAt = now
			l.edges = append(l.edges, columnar.EdgeToRow(e))
		}
		for _, r := range res.ExternalRefs {
			r.Branch = p.Branch
			r.UpdatedAt = now
			l.refs = append(l.refs, columnar.RefToRow(r))
		}

		return w.commit(p, l)
	})
}

// DeleteFile marks every row belonging to filePath as deleted. On the base
// branch the marked rows, and any other is_deleted rows in the partition,
// are physically dropped in this same commit, so a base partition never
// holds tombstones (Open Question #1, resolved); on a feature branch the
// rows are kept with IsDeleted set and shadow the base-branch row until
// the branch is promoted or abandoned.
func (w *Writer) DeleteFile(ctx context.Context, p Partition, filePath string) error {
	return w.withLock(ctx, p, func() error {
		l, err := w.load(p)
		if err != nil {
			return err
		}

		now := nowMillis()
		for i := range l.nodes {
			if l.nodes[i].FilePath == filePath {
				l.nodes[i].IsDeleted = true
				l.nodes[i].UpdatedAt = now
			}
		}
		for i := range l.edges {
			if l.edges[i].SourceFilePath == filePath {
				l.edges[i].IsDeleted = true
				l.edges[i].UpdatedAt = now
			}
		}
		for i := range l.refs {
			if l.refs[i].SourceFilePath == filePath {
				l.refs[i].IsDeleted = true
				l.refs[i].UpdatedAt = now
			}
		}

		if p.Branch == model.BaseBranch {
			l.nodes = dropTombstones(l.nodes, func(r columnar.NodeRow) bool { return r.IsDeleted })
			l.edges = dropTombstones(l.edges, func(r columnar.EdgeRow) bool { return r.IsDeleted })
			l.refs = dropTombstones(l.refs, func(r columnar.ExternalRefRow) bool { return r.IsDeleted })
		}

		return w.commit(p, l)
	})
}

// RenameFile is DeleteFile on oldPath plus WriteFile on newPath as one
// locked, atomic-per-relation operation, used by pkg/rename once it has
// paired an unlink+add into a single move.
func (w *Writer) RenameFile(ctx context.Context, p Partition, oldPath string, newPath string, res *parser.ParseResult) error {
	return w.withLock(ctx, p, func() error {
		l, err := w.load(p)
		if err != nil {
			return err
		}

		now := nowMillis()
		l.nodes = dropFile(l.nodes, oldPath, func(r columnar.NodeRow) string { return r.FilePath })
		l.edges = dropFile(l.edges, oldPath, func(r columnar.EdgeRow) string { return r.SourceFilePath })
		l.refs = dropFile(l.refs, oldPath, func(r columnar.ExternalRefRow) string { return r.SourceFilePath })

		l.nodes = dropFile(l.nodes, newPath, func(r columnar.NodeRow) string { return r.FilePath })
		l.edges = dropFile(l.edges, newPath, func(r columnar.EdgeRow) string { return r.SourceFilePath })
		l.refs = dropFile(l.refs, newPath, func(r columnar.ExternalRefRow) string { return r.SourceFilePath })

		for _, n := range res.Nodes {
			n.Branch = p.Branch
			n.UpdatedAt = now
			l.nodes = append(l.nodes, columnar.NodeToRow(n))
		}
		for _, e := range res.Edges {
			e.Branch = p.Branch
			e.UpdatedAt = now
			l.edges = append(l.edges, columnar.EdgeToRow(e))
		}
		for _, r := range res.ExternalRefs {
			r.Branch = p.Branch
			r.UpdatedAt = now
			l.refs = append(l.refs, columnar.RefToRow(r))
		}

		return w.commit(p, l)
	})
}

func dropFile[T any](rows []T, filePath string, get func(T) string) []T {
	out := rows[:0:0]
	for _, r := range rows {
		if get(r) != filePath {
			out = append(out, r)
		}
	}
	return out
}

func dropTombstones[T any](rows []T, isDeleted func(T) bool) []T {
	out := rows[:0:0]
	for _, r := range rows {
		if !isDeleted(r) {
			out = append(out, r)
		}
	}
	return out
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// EnsurePartitionDir validates that dir is usable as a partition root,
// creating it if absent. Exposed so callers can check a partition root
// before the first write: a path that exists but is not a directory
// surfaces as errs.InputError up front, and a missing directory is
// created.
func EnsurePartitionDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if !fi.IsDir() {
			return errs.NewInputError("Partition path is not a directory", fmt.Sprintf("%s exists but is not a directory", dir), "point the partition at a directory path")
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return errs.NewIOError("Could not stat partition directory", err.Error(), dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.NewIOError("Could not create partition directory", err.Error(), dir, err)
	}
	return nil
}
