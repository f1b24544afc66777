// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
)

func testPartition(t *testing.T) Partition {
	t.Helper()
	return Partition{
		Dir:       filepath.Join(t.TempDir(), "pkgfoo"),
		RepoID:    "myrepo",
		PackageID: "pkg/foo",
		Branch:    model.BaseBranch,
	}
}

func sampleResult(path string) *parser.ParseResult {
	return &parser.ParseResult{
		FilePath: path,
		Nodes: []model.Node{
			{EntityID: "n1", Name: "Foo", FilePath: path, Kind: model.KindFunction},
		},
		Edges: []model.Edge{
			{SourceEntityID: "n0", TargetEntityID: "n1", EdgeType: model.EdgeContains, SourceFilePath: path},
		},
	}
}

func TestWriteFileThenReadBack(t *testing.T) {
	w := NewWriter()
	p := testPartition(t)
	ctx := context.Background()

	require.NoError(t, w.WriteFile(ctx, p, "a.go", sampleResult("a.go")))

	loaded, err := w.load(p)
	require.NoError(t, err)
	require.Len(t, loaded.nodes, 1)
	require.Equal(t, "Foo", loaded.nodes[0].Name)
	require.Equal(t, model.BaseBranch, loaded.nodes[0].Branch)
}

func TestWriteFileReplacesPriorRowsForSamePath(t *testing.T) {
	w := NewWriter()
	p := testPartition(t)
	ctx := context.Background()

	require.NoError(t, w.WriteFile(ctx, p, "a.go", sampleResult("a.go")))

	second := sampleResult("a.go")
	second.Nodes[0].EntityID = "n2"
	second.Nodes[0].Name = "Bar"
	require.NoError(t, w.WriteFile(ctx, p, "a.go", second))

	loaded, err := w.load(p)
	require.NoError(t, err)
	require.Len(t, loaded.nodes, 1)
	require.Equal(t, "Bar", loaded.nodes[0].Name)
}

func TestDeleteFileOnBaseBranchDropsRows(t *testing.T) {
	w := NewWriter()
	p := testPartition(t)
	ctx := context.Background()

	require.NoError(t, w.WriteFile(ctx, p, "a.go", sampleResult("a.go")))
	require.NoError(t, w.DeleteFile(ctx, p, "a.go"))

	loaded, err := w.load(p)
	require.NoError(t, err)
	require.Empty(t, loaded.nodes)
	require.Empty(t, loaded.edges)
}

func TestDeleteFileOnFeatureBranchTombstonesInsteadOfDropping(t *testing.T) {
	w := NewWriter()
	p := testPartition(t)
	p.Branch = "feature/x"
	ctx := context.Background()

	require.NoError(t, w.WriteFile(ctx, p, "a.go", sampleResult("a.go")))
	require.NoError(t, w.DeleteFile(ctx, p, "a.go"))

	loaded, err := w.load(p)
	require.NoError(t, err)
	require.Len(t, loaded.nodes, 1)
	require.True(t, loaded.nodes[0].IsDeleted)
}

func TestRenameFileMovesRowsFromOldToNewPath(t *testing.T) {
	w := NewWriter()
	p := testPartition(t)
	ctx := context.Background()

	require.NoError(t, w.WriteFile(ctx, p, "old.go", sampleResult("old.go")))
	require.NoError(t, w.RenameFile(ctx, p, "old.go", "new.go", sampleResult("new.go")))

	loaded, err := w.load(p)
	require.NoError(t, err)
	require.Len(t, loaded.nodes, 1)
	require.Equal(t, "new.go", loaded.nodes[0].FilePath)
}

func TestWriteFileTwiceDoesNotDeadlock(t *testing.T) {
	w := NewWriter()
	p := testPartition(t)
	ctx := context.Background()

	require.NoError(t, w.WriteFile(ctx, p, "a.go", sampleResult("a.go")))
	require.NoError(t, w.WriteFile(ctx, p, "b.go", sampleResult("b.go")))

	loaded, err := w.load(p)
	require.NoError(t, err)
	require.Len(t, loaded.nodes, 2)
}
