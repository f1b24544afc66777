// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package query

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devac-project/devac/pkg/columnar"
	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
	"github.com/devac-project/devac/pkg/seed"
)

func parserResultFor(pkg string) parser.ParseResult {
	return parser.ParseResult{
		FilePath: pkg + ".go",
		Nodes: []model.Node{
			{EntityID: pkg + "-n1", Name: pkg + "Fn", FilePath: pkg + ".go", Kind: model.KindFunction},
		},
	}
}

type fakeCatalog struct {
	dirs         map[string]map[string]string // pkg -> branch -> dir
	notQueryable map[string]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{dirs: map[string]map[string]string{}, notQueryable: map[string]string{}}
}

func (c *fakeCatalog) MarkNotQueryable(pkg, reason string) { c.notQueryable[pkg] = reason }

func (c *fakeCatalog) NotQueryableReason(pkg string) (string, bool) {
	reason, ok := c.notQueryable[pkg]
	return reason, ok
}

func (c *fakeCatalog) add(pkg, branch, dir string) {
	if c.dirs[pkg] == nil {
		c.dirs[pkg] = map[string]string{}
	}
	c.dirs[pkg][branch] = dir
}

func (c *fakeCatalog) Packages() []string {
	out := make([]string, 0, len(c.dirs))
	for k := range c.dirs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *fakeCatalog) PartitionDir(pkg, branch string) (string, bool) {
	byBranch, ok := c.dirs[pkg]
	if !ok {
		return "", false
	}
	dir, ok := byBranch[branch]
	if !ok {
		return byBranch[model.BaseBranch], true
	}
	return dir, true
}

func seedPackage(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	w := seed.NewWriter()
	p := seed.Partition{Dir: dir, RepoID: "r", PackageID: name, Branch: model.BaseBranch}
	res := parserResultFor(name)
	require.NoError(t, w.WriteFile(context.Background(), p, name+".go", &res))
	return dir
}

func TestQueryUnqualifiedBindsToPrimaryPackage(t *testing.T) {
	root := t.TempDir()
	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, seedPackage(t, root, "alpha"))

	e := NewEngine(cat)
	res, err := e.Query(context.Background(), "SELECT name FROM nodes", Options{PrimaryPackage: "alpha"})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	require.Equal(t, "alphaFn", res.Rows[0]["name"])
}

func TestQueryPackageQualifiedReference(t *testing.T) {
	root := t.TempDir()
	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, seedPackage(t, root, "alpha"))
	cat.add("beta", model.BaseBranch, seedPackage(t, root, "beta"))

	e := NewEngine(cat)
	res, err := e.Query(context.Background(), "SELECT name FROM nodes@beta", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	require.Equal(t, "betaFn", res.Rows[0]["name"])
}

func TestQueryWildcardUnionsAllPackages(t *testing.T) {
	root := t.TempDir()
	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, seedPackage(t, root, "alpha"))
	cat.add("beta", model.BaseBranch, seedPackage(t, root, "beta"))

	e := NewEngine(cat)
	res, err := e.Query(context.Background(), "SELECT name FROM nodes@* ORDER BY name", Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.RowCount)
}

func TestQueryUnqualifiedWithoutPrimaryPackageFails(t *testing.T) {
	root := t.TempDir()
	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, seedPackage(t, root, "alpha"))

	e := NewEngine(cat)
	_, err := e.Query(context.Background(), "SELECT name FROM nodes", Options{})
	require.Error(t, err)
}

func TestQueryUnknownPackageReturnsEmptyWithWarning(t *testing.T) {
	root := t.TempDir()
	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, seedPackage(t, root, "alpha"))

	e := NewEngine(cat)
	res, err := e.Query(context.Background(), "SELECT name FROM nodes@ghost", Options{})
	require.NoError(t, err)
	require.Equal(t, 0, res.RowCount)
	require.NotEmpty(t, res.Warnings)
}

func TestQueryBranchOverlayOverridesBaseRow(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "alpha")
	w := seed.NewWriter()
	base := seed.Partition{Dir: dir, RepoID: "r", PackageID: "alpha", Branch: model.BaseBranch}
	baseRes := parserResultFor("alpha")
	require.NoError(t, w.WriteFile(context.Background(), base, "alpha.go", &baseRes))

	branchDir := filepath.Join(root, "alpha-feature")
	feature := seed.Partition{Dir: branchDir, RepoID: "r", PackageID: "alpha", Branch: "feature/x"}
	overridden := parserResultFor("alpha")
	overridden.Nodes[0].Name = "alphaFnRenamed"
	require.NoError(t, w.WriteFile(context.Background(), feature, "alpha.go", &overridden))

	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, dir)
	cat.add("alpha", "feature/x", branchDir)

	e := NewEngine(cat)
	res, err := e.Query(context.Background(), "SELECT name FROM nodes", Options{Branch: "feature/x", PrimaryPackage: "alpha"})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	require.Equal(t, "alphaFnRenamed", res.Rows[0]["name"])
}

// bumpSchemaVersion overwrites a partition's meta.json with a schema
// version newer than this binary understands, simulating a partition
// written by a future devacd.
func bumpSchemaVersion(t *testing.T, dir string) {
	t.Helper()
	b, err := columnar.EncodeMeta(columnar.Meta{SchemaVersion: "99.0.0"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644))
}

func TestQueryRefusesNewerSchemaVersion(t *testing.T) {
	root := t.TempDir()
	dir := seedPackage(t, root, "alpha")
	bumpSchemaVersion(t, dir)

	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, dir)

	e := NewEngine(cat)
	_, err := e.Query(context.Background(), "SELECT name FROM nodes", Options{PrimaryPackage: "alpha"})
	require.Error(t, err)

	reason, blocked := cat.NotQueryableReason("alpha")
	require.True(t, blocked)
	require.NotEmpty(t, reason)
}

func TestQueryMarkedNotQueryableRefusesWithoutReread(t *testing.T) {
	root := t.TempDir()
	dir := seedPackage(t, root, "alpha")

	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, dir)
	cat.MarkNotQueryable("alpha", "previously found incompatible")

	e := NewEngine(cat)
	_, err := e.Query(context.Background(), "SELECT name FROM nodes", Options{PrimaryPackage: "alpha"})
	require.Error(t, err)
}

func TestQueryWildcardUnionExcludesIncompatiblePackage(t *testing.T) {
	root := t.TempDir()
	cat := newFakeCatalog()
	cat.add("alpha", model.BaseBranch, seedPackage(t, root, "alpha"))

	betaDir := seedPackage(t, root, "beta")
	bumpSchemaVersion(t, betaDir)
	cat.add("beta", model.BaseBranch, betaDir)

	e := NewEngine(cat)
	res, err := e.Query(context.Background(), "SELECT name FROM nodes@* ORDER BY name", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	require.Equal(t, "alphaFn", res.Rows[0]["name"])
	require.NotEmpty(t, res.Warnings)
}
