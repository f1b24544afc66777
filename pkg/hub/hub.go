// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package hub implements the workspace-level registry: registered repos,
// the packages discovered under them, and the short-name → absolute-path
// mapping the query layer and IPC server resolve package references
// against. One hub instance owns this state per workspace; it satisfies
// query.Catalog directly.
package hub

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/seed"
)

// ignoredDirs are conventional noise directories the discovery walk never
// descends into.
var ignoredDirs = map[string]bool{
	"node_modules": true, ".git": true, ".devac": true, "dist": true,
	"build": true, "coverage": true, "__pycache__": true,
	".venv": true, "venv": true,
}

// Repo is one registered repository root.
type Repo struct {
	ID       string
	Path     string
	Packages []string
}

// Package is one discovered package: a directory containing
// .devac/seed/base.
type Package struct {
	Name     string // short name, e.g. from package.json or dir basename
	RepoID   string
	Path     string // absolute directory path
	SeedRoot string // <Path>/.devac/seed
}

// Hub is the workspace registry. Safe for concurrent use: every field
// access goes through mu, mirroring the teacher's own
// sync.RWMutex-guarded server-state pattern.
type Hub struct {
	mu       sync.RWMutex
	repos    map[string]*Repo
	packages map[string]*Package

	validationErrors map[string][]string // "repoID/package" -> issues
	notQueryable     map[string]string   // package -> reason, per spec §7 SchemaIncompatible
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{
		repos:            make(map[string]*Repo),
		packages:         make(map[string]*Package),
		validationErrors: make(map[string][]string),
		notQueryable:     make(map[string]string),
	}
}

// MarkNotQueryable records that pkg failed a schema check and must be
// refused until remediated, implementing query.QueryableTracker.
func (h *Hub) MarkNotQueryable(pkg, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notQueryable[pkg] = reason
}

// NotQueryableReason reports whether pkg is currently marked
// not-queryable, and why, implementing query.QueryableTracker.
func (h *Hub) NotQueryableReason(pkg string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	reason, blocked := h.notQueryable[pkg]
	return reason, blocked
}

// RegisterRepo walks path, discovers every package under it (a directory
// whose .devac/seed/base exists), and adds them to the registry. Returns
// the registered Repo, whose Packages field lists the discovered package
// names.
func (h *Hub) RegisterRepo(repoPath string) (*Repo, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, errs.NewInputError("Could not resolve repo path", err.Error(), "pass an existing directory path")
	}
	fi, err := os.Stat(abs)
	if err != nil || !fi.IsDir() {
		return nil, errs.NewInputError("Repo path is not a directory", abs, "register a directory, not a file")
	}

	repoID := repoIDFor(abs)
	repo := &Repo{ID: repoID, Path: abs}

	found, err := discoverPackages(abs)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, pkgDir := range found {
		name := packageShortName(pkgDir)
		name = h.dedupeNameLocked(name, pkgDir)
		pkg := &Package{
			Name:     name,
			RepoID:   repoID,
			Path:     pkgDir,
			SeedRoot: filepath.Join(pkgDir, ".devac", "seed"),
		}
		h.packages[name] = pkg
		delete(h.notQueryable, name)
		repo.Packages = append(repo.Packages, name)
	}
	sort.Strings(repo.Packages)
	h.repos[repoID] = repo
	return repo, nil
}

// dedupeNameLocked resolves a short-name collision between two packages
// by falling back to a repo-qualified name; callers hold h.mu.
func (h *Hub) dedupeNameLocked(name, pkgDir string) string {
	existing, clash := h.packages[name]
	if !clash || existing.Path == pkgDir {
		return name
	}
	return name + "@" + filepath.Base(filepath.Dir(pkgDir))
}

// RefreshRepo rediscovers packages under a registered repo, adding new
// ones and dropping ones whose directory no longer exists. Per spec.md
// §4.5 a hub holds weak references: removing a package here drops it
// from views but the hub keeps no other state tied to it that must be
// torn down.
func (h *Hub) RefreshRepo(repoID string) (updated int, errsOut []string) {
	h.mu.Lock()
	repo, ok := h.repos[repoID]
	if !ok {
		h.mu.Unlock()
		return 0, []string{"unknown repo: " + repoID}
	}
	repoPath := repo.Path
	h.mu.Unlock()

	found, err := discoverPackages(repoPath)
	if err != nil {
		return 0, []string{err.Error()}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	live := map[string]bool{}
	var names []string
	for _, pkgDir := range found {
		name := packageShortName(pkgDir)
		name = h.dedupeNameLocked(name, pkgDir)
		if _, existed := h.packages[name]; !existed {
			updated++
		}
		h.packages[name] = &Package{
			Name:     name,
			RepoID:   repoID,
			Path:     pkgDir,
			SeedRoot: filepath.Join(pkgDir, ".devac", "seed"),
		}
		delete(h.notQueryable, name)
		live[name] = true
		names = append(names, name)
	}

	for name, pkg := range h.packages {
		if pkg.RepoID == repoID && !live[name] {
			delete(h.packages, name)
			delete(h.notQueryable, name)
			updated++
		}
	}

	sort.Strings(names)
	repo.Packages = names
	return updated, nil
}

// RepoSummary describes one registered repo and the packages under it.
type RepoSummary struct {
	ID           string   `json:"id"`
	Path         string   `json:"path"`
	PackageCount int      `json:"package_count"`
	Packages     []string `json:"packages"`
}

// ListRepos returns a summary of every registered repo.
func (h *Hub) ListRepos() []RepoSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RepoSummary, 0, len(h.repos))
	for _, r := range h.repos {
		out = append(out, RepoSummary{ID: r.ID, Path: r.Path, PackageCount: len(r.Packages), Packages: append([]string(nil), r.Packages...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Packages implements query.Catalog: the list of every known package
// short name across every registered repo.
func (h *Hub) Packages() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.packages))
	for name := range h.packages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PartitionDir implements query.Catalog: the on-disk directory backing
// pkg's partition for branch.
func (h *Hub) PartitionDir(pkg, branch string) (string, bool) {
	h.mu.RLock()
	p, ok := h.packages[pkg]
	h.mu.RUnlock()
	if !ok {
		return "", false
	}
	return filepath.Join(p.SeedRoot, branch), true
}

// Package looks up a registered package by short name.
func (h *Hub) Package(name string) (Package, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.packages[name]
	if !ok {
		return Package{}, false
	}
	return *p, true
}

// EnsurePackagePartition makes sure pkg's base partition directory
// exists, used when a freshly-discovered package is registered before
// any file has been written yet.
func (h *Hub) EnsurePackagePartition(pkg string) error {
	dir, ok := h.PartitionDir(pkg, model.BaseBranch)
	if !ok {
		return errs.NewInputError("Unknown package", pkg, "register the containing repo first")
	}
	return seed.EnsurePartitionDir(dir)
}

// PushValidationErrors stores issues for repo/package as a side channel;
// per spec.md §4.4 the hub stores these for later querying but never
// acts on them.
func (h *Hub) PushValidationErrors(repoID, pkg string, issues []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validationErrors[repoID+"/"+pkg] = issues
}

// ValidationErrors returns the last-pushed issues for repo/package, or
// nil if none have been pushed.
func (h *Hub) ValidationErrors(repoID, pkg string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.validationErrors[repoID+"/"+pkg]
}

func discoverPackages(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		if _, statErr := os.Stat(filepath.Join(path, ".devac", "seed", "base")); statErr == nil {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, errs.NewIOError("Could not walk repo for package discovery", err.Error(), root, err)
	}
	sort.Strings(found)
	return found, nil
}

// packageShortName derives a package's display name: the name field
// from package.json with any scope segment stripped, falling back to
// the directory basename.
func packageShortName(pkgDir string) string {
	b, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err == nil {
		var manifest struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(b, &manifest) == nil && manifest.Name != "" {
			name := manifest.Name
			if strings.HasPrefix(name, "@") {
				if i := strings.Index(name, "/"); i >= 0 {
					name = name[i+1:]
				}
			}
			return name
		}
	}
	return filepath.Base(pkgDir)
}

// repoIDFor derives a stable, human-readable repo ID: the directory
// basename plus a short disambiguating hash of the full path. Collisions
// only affect the display suffix, never correctness — RefreshRepo's
// rediscovery is idempotent per repo path regardless of ID collisions.
func repoIDFor(absPath string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(absPath))
	return fmt.Sprintf("%s-%08x", filepath.Base(absPath), h.Sum32())
}
