// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func makePackageDir(t *testing.T, root, relPath string) string {
	t.Helper()
	dir := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".devac", "seed", "base"), 0o755))
	return dir
}

func TestRegisterRepoDiscoversPackages(t *testing.T) {
	root := t.TempDir()
	makePackageDir(t, root, "pkgs/alpha")
	makePackageDir(t, root, "pkgs/beta")

	h := New()
	repo, err := h.RegisterRepo(root)
	require.NoError(t, err)
	require.Len(t, repo.Packages, 2)
	require.ElementsMatch(t, []string{"alpha", "beta"}, h.Packages())
}

func TestRegisterRepoSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	makePackageDir(t, root, "alpha")
	makePackageDir(t, root, "node_modules/should-be-skipped")

	h := New()
	_, err := h.RegisterRepo(root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha"}, h.Packages())
}

func TestPackageShortNameFromPackageJSON(t *testing.T) {
	root := t.TempDir()
	dir := makePackageDir(t, root, "widgets")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"@scope/widgets-lib"}`), 0o644))

	h := New()
	_, err := h.RegisterRepo(root)
	require.NoError(t, err)
	require.Contains(t, h.Packages(), "widgets-lib")
}

func TestRefreshRepoPicksUpNewPackagesAndDropsRemoved(t *testing.T) {
	root := t.TempDir()
	makePackageDir(t, root, "alpha")

	h := New()
	repo, err := h.RegisterRepo(root)
	require.NoError(t, err)

	makePackageDir(t, root, "beta")
	updated, errsOut := h.RefreshRepo(repo.ID)
	require.Empty(t, errsOut)
	require.Equal(t, 1, updated)
	require.ElementsMatch(t, []string{"alpha", "beta"}, h.Packages())

	require.NoError(t, os.RemoveAll(filepath.Join(root, "alpha")))
	updated, errsOut = h.RefreshRepo(repo.ID)
	require.Empty(t, errsOut)
	require.Equal(t, 1, updated)
	require.ElementsMatch(t, []string{"beta"}, h.Packages())
}

func TestPartitionDirJoinsSeedRootAndBranch(t *testing.T) {
	root := t.TempDir()
	makePackageDir(t, root, "alpha")

	h := New()
	_, err := h.RegisterRepo(root)
	require.NoError(t, err)

	dir, ok := h.PartitionDir("alpha", "base")
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "alpha", ".devac", "seed", "base"), dir)
}

func TestValidationErrorsRoundTrip(t *testing.T) {
	h := New()
	h.PushValidationErrors("repo1", "alpha", []string{"unresolved import"})
	require.Equal(t, []string{"unresolved import"}, h.ValidationErrors("repo1", "alpha"))
	require.Nil(t, h.ValidationErrors("repo1", "beta"))
}

func TestMarkNotQueryableAndReason(t *testing.T) {
	h := New()
	_, blocked := h.NotQueryableReason("alpha")
	require.False(t, blocked)

	h.MarkNotQueryable("alpha", "schema version 99.0.0 is newer than this binary supports")
	reason, blocked := h.NotQueryableReason("alpha")
	require.True(t, blocked)
	require.Contains(t, reason, "99.0.0")
}

func TestRegisterRepoClearsNotQueryable(t *testing.T) {
	root := t.TempDir()
	makePackageDir(t, root, "alpha")

	h := New()
	_, err := h.RegisterRepo(root)
	require.NoError(t, err)

	h.MarkNotQueryable("alpha", "stale schema")
	_, blocked := h.NotQueryableReason("alpha")
	require.True(t, blocked)

	_, err = h.RegisterRepo(root)
	require.NoError(t, err)
	_, blocked = h.NotQueryableReason("alpha")
	require.False(t, blocked)
}
