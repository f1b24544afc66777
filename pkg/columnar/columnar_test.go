// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package columnar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devac-project/devac/pkg/model"
)

func TestNodeRowRoundTrip(t *testing.T) {
	n := model.Node{
		EntityID:       "r:p:function:abc",
		Name:           "Foo",
		QualifiedName:  "p.Foo",
		Kind:           model.KindFunction,
		FilePath:       "p/foo.go",
		StartLine:      3,
		EndLine:        9,
		IsExported:     true,
		Visibility:     model.VisibilityPublic,
		TypeParameters: []string{"T"},
		Properties:     map[string]any{"complexity": float64(4)},
		SourceFileHash: "deadbeef",
		Branch:         model.BaseBranch,
	}
	row := NodeToRow(n)
	back := RowToNode(row)
	require.Equal(t, n.EntityID, back.EntityID)
	require.Equal(t, n.TypeParameters, back.TypeParameters)
	require.Equal(t, n.Properties["complexity"], back.Properties["complexity"])
}

func TestWriteReadNodesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.parquet")

	rows := []NodeRow{
		NodeToRow(model.Node{EntityID: "a", Name: "A", Kind: model.KindFunction, Branch: model.BaseBranch}),
		NodeToRow(model.Node{EntityID: "b", Name: "B", Kind: model.KindType, Branch: model.BaseBranch}),
	}
	require.NoError(t, WriteNodes(path, rows))

	got, err := ReadNodes(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].EntityID)
	require.Equal(t, "b", got[1].EntityID)
}

func TestReadNodesMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadNodes(filepath.Join(dir, "missing.parquet"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	m := Meta{SchemaVersion: SchemaVersion, RepoID: "r", PackageID: "p", Branch: model.BaseBranch, RowCounts: Counts{Nodes: 2}}
	b, err := EncodeMeta(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	got, err := ReadMeta(path)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestReadMetaMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadMeta(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	require.Equal(t, Meta{}, got)
}

func TestCheckSchemaVersionAcceptsCurrentAndOlder(t *testing.T) {
	require.NoError(t, CheckSchemaVersion(Meta{}))
	require.NoError(t, CheckSchemaVersion(Meta{SchemaVersion: SchemaVersion}))
	require.NoError(t, CheckSchemaVersion(Meta{SchemaVersion: "0.9.0"}))
}

func TestCheckSchemaVersionRefusesNewer(t *testing.T) {
	err := CheckSchemaVersion(Meta{SchemaVersion: "99.0.0"})
	require.Error(t, err)
}

func TestCheckSchemaVersionRefusesUnparseable(t *testing.T) {
	err := CheckSchemaVersion(Meta{SchemaVersion: "not-a-version"})
	require.Error(t, err)
}
