// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package query is the seed reader: it turns a package's on-disk Parquet
// partitions into queryable SQL tables and executes caller SQL against
// them using modernc.org/sqlite as a private, read-only, in-memory
// execution engine. The persisted format stays columnar Parquet; SQL
// only exists for the duration of one query.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/columnar"
	"github.com/devac-project/devac/pkg/model"
)

// Catalog resolves package names to the on-disk partition directories the
// reader loads rows from. The hub is the concrete implementation; tests
// supply a map-backed stub.
type Catalog interface {
	// Packages lists every package name currently registered, used to
	// expand the "@*" wildcard.
	Packages() []string

	// PartitionDir returns the partition directory for pkg on branch, and
	// whether pkg is known at all. A known package with no partition
	// written yet still returns ok=true with a directory that simply
	// yields zero rows.
	PartitionDir(pkg, branch string) (dir string, ok bool)
}

// QueryableTracker is an optional Catalog capability: a catalog that can
// remember a package failed its schema check and refuse it on sight next
// time, per spec: "hub marks package as not-queryable until remediated."
// The hub implements this; the engine type-asserts for it so Catalog
// stubs in tests aren't forced to.
type QueryableTracker interface {
	MarkNotQueryable(pkg, reason string)
	NotQueryableReason(pkg string) (string, bool)
}

// Options configures one Query call.
type Options struct {
	// Branch is the feature branch to overlay on base. Empty means base
	// only.
	Branch string

	// PrimaryPackage is which package's tables bind to the unqualified
	// nodes/edges/external_refs view names.
	PrimaryPackage string
}

// Result is the shape every query() call returns.
type Result struct {
	Rows         []map[string]any `json:"rows"`
	RowCount     int              `json:"row_count"`
	TimeMs       int64            `json:"time_ms"`
	ViewsCreated []string         `json:"views_created"`
	Warnings     []string         `json:"warnings"`
}

// tableRefPattern matches the table@package syntax for any of the three
// known relations, per spec: a conservative regex over fixed relation
// names, never a general SQL parser.
var tableRefPattern = regexp.MustCompile(`\b(nodes|edges|external_refs)@([A-Za-z0-9_./\-]+\b|\*)`)

// Engine executes queries against a Catalog.
type Engine struct {
	catalog Catalog
}

// NewEngine builds a query Engine over catalog.
func NewEngine(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

var queryCounter int64

// nextQueryID gives each Query call its own named in-memory database, so
// concurrent queries never collide on the same shared-cache namespace.
func nextQueryID() int64 {
	return atomic.AddInt64(&queryCounter, 1)
}

type tableRef struct {
	relation string // "nodes", "edges", "external_refs"
	pkg      string // literal package name, or "*"
	token    string // the matched "relation@pkg" text
}

// Query runs sql against the catalog per opts and returns the result set.
func (e *Engine) Query(ctx context.Context, rawSQL string, opts Options) (*Result, error) {
	start := time.Now()

	branch := opts.Branch
	if branch == "" {
		branch = model.BaseBranch
	}

	refs := parseTableRefs(rawSQL)
	usesBare := bareUnqualifiedTables(rawSQL)
	if len(usesBare) > 0 && opts.PrimaryPackage == "" {
		return nil, errs.NewInputError(
			"Query uses unqualified table names with no primary package",
			fmt.Sprintf("found unqualified reference(s) to %s", strings.Join(usesBare, ", ")),
			"pass packages[0] as the primary package, or qualify tables as nodes@<pkg>",
		)
	}

	dbName := fmt.Sprintf("file:devac-query-%d?mode=memory&cache=shared", nextQueryID())
	db, err := sql.Open("sqlite", dbName)
	if err != nil {
		return nil, errs.NewIOError("Could not open query engine", err.Error(), "", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	var viewsCreated []string
	var warnings []string
	created := map[string]bool{}

	loadTable := func(relation, pkg string) (string, error) {
		tableName := sanitizeIdent(relation + "__" + pkg)
		if created[tableName] {
			return tableName, nil
		}
		if pkg == "*" {
			skipped, err := e.loadUnion(ctx, db, relation, tableName, branch)
			if err != nil {
				return "", err
			}
			for _, pkg := range skipped {
				warnings = append(warnings, fmt.Sprintf("package %q is not queryable; excluded from @* union", pkg))
			}
		} else {
			ok, err := e.loadPackage(ctx, db, relation, tableName, pkg, branch)
			if err != nil {
				return "", err
			}
			if !ok {
				warnings = append(warnings, fmt.Sprintf("package %q is not registered; treated as empty", pkg))
			}
		}
		created[tableName] = true
		viewsCreated = append(viewsCreated, tableName)
		return tableName, nil
	}

	rewritten := rawSQL
	for _, ref := range refs {
		tableName, err := loadTable(ref.relation, ref.pkg)
		if err != nil {
			return nil, err
		}
		rewritten = strings.ReplaceAll(rewritten, ref.token, tableName)
	}

	for _, relation := range usesBare {
		tableName, err := loadTable(relation, opts.PrimaryPackage)
		if err != nil {
			return nil, err
		}
		viewName := relation
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", viewName)); err != nil {
			return nil, errs.NewIOError("Could not reset view", err.Error(), "", err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM %s", viewName, tableName)); err != nil {
			return nil, errs.NewIOError("Could not bind view", err.Error(), "", err)
		}
		viewsCreated = append(viewsCreated, viewName)
	}

	rows, err := db.QueryContext(ctx, rewritten)
	if err != nil {
		return nil, errs.NewInputError("Query failed", err.Error(), "check the SQL syntax and table references")
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, errs.NewIOError("Could not read query results", err.Error(), "", err)
	}

	return &Result{
		Rows:         out,
		RowCount:     len(out),
		TimeMs:       time.Since(start).Milliseconds(),
		ViewsCreated: viewsCreated,
		Warnings:     warnings,
	}, nil
}

func parseTableRefs(sqlText string) []tableRef {
	var refs []tableRef
	seen := map[string]bool{}
	for _, m := range tableRefPattern.FindAllStringSubmatch(sqlText, -1) {
		token := m[0]
		if seen[token] {
			continue
		}
		seen[token] = true
		refs = append(refs, tableRef{relation: m[1], pkg: m[2], token: token})
	}
	return refs
}

// bareUnqualifiedTables finds relation names used without an "@package"
// suffix, which resolve against the primary package per spec §4.4.
func bareUnqualifiedTables(sqlText string) []string {
	// Remove every qualified occurrence first so the bare-name pass does
	// not double-count the relation part of "nodes@pkg".
	withoutQualified := tableRefPattern.ReplaceAllString(sqlText, "")

	var out []string
	seen := map[string]bool{}
	for _, m := range bareRelationPattern.FindAllString(withoutQualified, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

var bareRelationPattern = regexp.MustCompile(`\b(nodes|edges|external_refs)\b`)

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// loadPackage loads the base+branch overlay for one package's relation
// into a fresh SQLite table. Returns ok=false (table created empty) if
// the package is unknown.
func (e *Engine) loadPackage(ctx context.Context, db *sql.DB, relation, tableName, pkg, branch string) (bool, error) {
	if t, ok := e.catalog.(QueryableTracker); ok {
		if reason, blocked := t.NotQueryableReason(pkg); blocked {
			return false, errs.NewSchemaIncompatible("Package is not queryable", reason, "re-index the package to recover, then retry the query", nil)
		}
	}

	baseDir, baseOK := e.catalog.PartitionDir(pkg, model.BaseBranch)
	if !baseOK {
		if err := createEmptyTable(ctx, db, relation, tableName); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := e.checkPartitionSchema(pkg, baseDir); err != nil {
		return false, err
	}

	var branchDir string
	if branch != model.BaseBranch {
		branchDir, _ = e.catalog.PartitionDir(pkg, branch)
		if branchDir != "" {
			if err := e.checkPartitionSchema(pkg, branchDir); err != nil {
				return false, err
			}
		}
	}

	return true, e.loadOverlay(ctx, db, relation, tableName, baseDir, branchDir)
}

// checkPartitionSchema refuses a partition whose meta.json names a schema
// version newer than this binary understands, and — if the catalog
// supports it — marks pkg not-queryable so later queries refuse it
// immediately instead of re-reading a partition already known to be
// incompatible.
func (e *Engine) checkPartitionSchema(pkg, dir string) error {
	m, err := columnar.ReadMeta(filepath.Join(dir, "meta.json"))
	if err != nil {
		return errs.NewIOError("Could not read partition meta", err.Error(), dir, err)
	}
	if err := columnar.CheckSchemaVersion(m); err != nil {
		if t, ok := e.catalog.(QueryableTracker); ok {
			t.MarkNotQueryable(pkg, err.Error())
		}
		return err
	}
	return nil
}

// loadUnion loads every registered package's overlay for relation into
// one combined table, implementing the "@*" wildcard. A package that
// fails its schema check is excluded from the union rather than failing
// the whole query — "fatal for the affected partition" per spec, not for
// every other package sharing the workspace — and is returned in skipped
// so the caller can surface a warning.
func (e *Engine) loadUnion(ctx context.Context, db *sql.DB, relation, tableName, branch string) (skipped []string, err error) {
	if err := createEmptyTable(ctx, db, relation, tableName); err != nil {
		return nil, err
	}
	for _, pkg := range e.catalog.Packages() {
		if t, ok := e.catalog.(QueryableTracker); ok {
			if _, blocked := t.NotQueryableReason(pkg); blocked {
				skipped = append(skipped, pkg)
				continue
			}
		}

		baseDir, ok := e.catalog.PartitionDir(pkg, model.BaseBranch)
		if !ok {
			continue
		}
		if err := e.checkPartitionSchema(pkg, baseDir); err != nil {
			skipped = append(skipped, pkg)
			continue
		}
		var branchDir string
		if branch != model.BaseBranch {
			branchDir, _ = e.catalog.PartitionDir(pkg, branch)
			if branchDir != "" {
				if err := e.checkPartitionSchema(pkg, branchDir); err != nil {
					skipped = append(skipped, pkg)
					continue
				}
			}
		}
		if err := e.appendOverlay(ctx, db, relation, tableName, baseDir, branchDir); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func createEmptyTable(ctx context.Context, db *sql.DB, relation, tableName string) error {
	ddl, err := tableDDL(relation, tableName)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return errs.NewIOError("Could not create query table", err.Error(), tableName, err)
	}
	return nil
}

func (e *Engine) loadOverlay(ctx context.Context, db *sql.DB, relation, tableName, baseDir, branchDir string) error {
	if err := createEmptyTable(ctx, db, relation, tableName); err != nil {
		return err
	}
	return e.appendOverlay(ctx, db, relation, tableName, baseDir, branchDir)
}

func (e *Engine) appendOverlay(ctx context.Context, db *sql.DB, relation, tableName, baseDir, branchDir string) error {
	switch relation {
	case "nodes":
		base, err := columnar.ReadNodes(partitionFile(baseDir, "nodes.parquet"))
		if err != nil {
			return errs.NewIOError("Could not read nodes", err.Error(), baseDir, err)
		}
		var overlay []columnar.NodeRow
		if branchDir != "" {
			overlay, err = columnar.ReadNodes(partitionFile(branchDir, "nodes.parquet"))
			if err != nil {
				return errs.NewIOError("Could not read branch nodes", err.Error(), branchDir, err)
			}
		}
		merged := mergeRows(base, overlay, func(r columnar.NodeRow) string { return r.EntityID })
		return insertNodes(ctx, db, tableName, merged)
	case "edges":
		base, err := columnar.ReadEdges(partitionFile(baseDir, "edges.parquet"))
		if err != nil {
			return errs.NewIOError("Could not read edges", err.Error(), baseDir, err)
		}
		var overlay []columnar.EdgeRow
		if branchDir != "" {
			overlay, err = columnar.ReadEdges(partitionFile(branchDir, "edges.parquet"))
			if err != nil {
				return errs.NewIOError("Could not read branch edges", err.Error(), branchDir, err)
			}
		}
		merged := mergeRows(base, overlay, edgeKey)
		return insertEdges(ctx, db, tableName, merged)
	case "external_refs":
		base, err := columnar.ReadRefs(partitionFile(baseDir, "external_refs.parquet"))
		if err != nil {
			return errs.NewIOError("Could not read external refs", err.Error(), baseDir, err)
		}
		var overlay []columnar.ExternalRefRow
		if branchDir != "" {
			overlay, err = columnar.ReadRefs(partitionFile(branchDir, "external_refs.parquet"))
			if err != nil {
				return errs.NewIOError("Could not read branch external refs", err.Error(), branchDir, err)
			}
		}
		merged := mergeRows(base, overlay, refKey)
		return insertRefs(ctx, db, tableName, merged)
	default:
		return errs.NewInputError("Unknown relation", relation, "use nodes, edges, or external_refs")
	}
}

func partitionFile(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

func edgeKey(e columnar.EdgeRow) string {
	return strings.Join([]string{e.SourceEntityID, e.TargetEntityID, e.EdgeType, e.SourceFilePath, fmt.Sprint(e.SourceLine)}, "\x1f")
}

func refKey(r columnar.ExternalRefRow) string {
	return strings.Join([]string{r.SourceEntityID, r.SourceFilePath, fmt.Sprint(r.SourceLine), fmt.Sprint(r.SourceColumn), r.ModuleSpecifier}, "\x1f")
}

// mergeRows overlays branch rows onto base rows by key, per spec §4.4:
// branch rows (including tombstones) override base rows with the same
// key; rows only present in base pass through unchanged.
func mergeRows[T any](base, branch []T, key func(T) string) []T {
	if len(branch) == 0 {
		return base
	}
	byKey := make(map[string]T, len(base)+len(branch))
	order := make([]string, 0, len(base)+len(branch))
	for _, r := range base {
		k := key(r)
		if _, exists := byKey[k]; !exists {
			order = append(order, k)
		}
		byKey[k] = r
	}
	for _, r := range branch {
		k := key(r)
		if _, exists := byKey[k]; !exists {
			order = append(order, k)
		}
		byKey[k] = r
	}
	out := make([]T, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
