// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package updatemgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
	"github.com/devac-project/devac/pkg/parser/refparser"
	"github.com/devac-project/devac/pkg/rename"
	"github.com/devac-project/devac/pkg/seed"
	"github.com/devac-project/devac/pkg/watch"
)

func testManager(t *testing.T) (*Manager, seed.Partition) {
	t.Helper()
	p := seed.Partition{Dir: t.TempDir(), RepoID: "r1", PackageID: "pkg1", Branch: model.BaseBranch}
	w := seed.NewWriter()
	reg := parser.NewRegistry(refparser.New())
	return NewManager(w, p, reg, nil), p
}

func contentFor(paths map[string]string) ReadFile {
	return func(path string) ([]byte, error) {
		return []byte(paths[path]), nil
	}
}

func TestProcessEventAddWritesFile(t *testing.T) {
	m, _ := testManager(t)
	read := contentFor(map[string]string{"a.go": "package a\n"})

	res := m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventAdd, Path: "a.go"}, read)
	require.NoError(t, res.Err)
	require.Equal(t, StatusUpdated, res.Status)
}

func TestProcessEventChangeSkipsWhenHashUnchanged(t *testing.T) {
	m, _ := testManager(t)
	read := contentFor(map[string]string{"a.go": "package a\n"})

	first := m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventAdd, Path: "a.go"}, read)
	require.Equal(t, StatusUpdated, first.Status)

	second := m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventChange, Path: "a.go"}, read)
	require.Equal(t, StatusSkipped, second.Status)
}

func TestProcessEventChangeReparsesWhenHashChanges(t *testing.T) {
	m, _ := testManager(t)
	paths := map[string]string{"a.go": "package a\n"}
	read := contentFor(paths)

	first := m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventAdd, Path: "a.go"}, read)
	require.Equal(t, StatusUpdated, first.Status)

	paths["a.go"] = "package a\n\nfunc F() {}\n"
	second := m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventChange, Path: "a.go"}, read)
	require.Equal(t, StatusUpdated, second.Status)
}

func TestProcessEventUnlinkDeletesFile(t *testing.T) {
	m, _ := testManager(t)
	read := contentFor(map[string]string{"a.go": "package a\n"})

	require.Equal(t, StatusUpdated, m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventAdd, Path: "a.go"}, read).Status)

	res := m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventUnlink, Path: "a.go"}, read)
	require.NoError(t, res.Err)
	require.Equal(t, StatusDeleted, res.Status)
}

func TestProcessRenameMovesHashEntry(t *testing.T) {
	m, _ := testManager(t)
	read := contentFor(map[string]string{"a.go": "package a\n"})
	require.Equal(t, StatusUpdated, m.ProcessEvent(context.Background(), watch.Event{Kind: watch.EventAdd, Path: "a.go"}, read).Status)

	r := rename.RenameInfo{OldPath: "a.go", NewPath: "b.go", ContentHash: rename.HashContent([]byte("package a\n")), Confidence: "high"}
	res := m.ProcessRename(context.Background(), r, contentFor(map[string]string{"b.go": "package a\n"}))
	require.NoError(t, res.Err)
	require.Equal(t, StatusRenamed, res.Status)

	m.mu.Lock()
	_, hasOld := m.lastHash["a.go"]
	_, hasNew := m.lastHash["b.go"]
	m.mu.Unlock()
	require.False(t, hasOld)
	require.True(t, hasNew)
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	m, _ := testManager(t)
	read := func(path string) ([]byte, error) {
		if path == "bad.go" {
			return nil, errReadFailed
		}
		return []byte("package a\n"), nil
	}

	events := []watch.Event{
		{Kind: watch.EventAdd, Path: "bad.go"},
		{Kind: watch.EventAdd, Path: "good.go"},
	}

	batch := m.ProcessBatch(context.Background(), events, nil, read)
	require.Equal(t, 1, batch.Failed)
	require.Equal(t, 1, batch.Updated)
	require.Len(t, batch.Results, 2)
}

var errReadFailed = &readError{"simulated read failure"}

type readError struct{ msg string }

func (e *readError) Error() string { return e.msg }
