// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package parser defines the contract devac consumes from language parsers.
// Concrete parsers (tree-sitter-style AST walkers per language) are external
// collaborators and out of scope for this module; only the interface and
// the shared ParseResult/Config types live here. pkg/parser/refparser ships
// one minimal reference implementation used to exercise the rest of the
// pipeline in tests.
package parser

import (
	"context"

	"github.com/devac-project/devac/pkg/model"
)

// Config configures a single parse invocation.
type Config struct {
	// RepoID and PackageID scope the entity IDs a parser generates.
	RepoID    string
	PackageID string

	// MaxCodeTextBytes bounds how much source a parser should echo back in
	// any code-text-bearing field; parsers truncate rather than fail.
	MaxCodeTextBytes int64
}

// ParseResult is the total, structural output of parsing one file.
//
// Parsers MUST be total: a syntax error produces an empty-node result with
// warnings, never a thrown error. Unknown language constructs degrade to
// Kind: model.KindUnknown or are silently skipped, never cause a panic.
type ParseResult struct {
	Nodes        []model.Node
	Edges        []model.Edge
	ExternalRefs []model.ExternalRef

	SourceFileHash string
	FilePath       string
	ParseTimeMs    int64
	Warnings       []string
}

// Parser is the contract an external language parser implements.
type Parser interface {
	// Language returns the language identifier this parser handles (e.g.
	// "go", "python", "typescript").
	Language() string

	// Extensions returns the set of file extensions this parser claims,
	// including the leading dot (e.g. ".go").
	Extensions() map[string]bool

	// CanParse reports whether this parser claims the given path, by
	// extension, without reading the file.
	CanParse(path string) bool

	// Parse reads and parses the file at path. It never returns an error
	// for a syntax error in the source; syntax errors surface as
	// ParseResult.Warnings. A non-nil error here means the file could not
	// even be read (e.g. permission denied).
	Parse(ctx context.Context, path string, cfg Config) (*ParseResult, error)

	// ParseContent parses in-memory text as though it were the file at
	// virtualPath, without touching the filesystem. Used for editor
	// buffers and for tests.
	ParseContent(ctx context.Context, text, virtualPath string, cfg Config) (*ParseResult, error)
}

// Registry looks up a Parser by file path across every registered
// language, used by the Update Manager to route a changed file to the
// right parser.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds a Registry over the given parsers, in priority order:
// the first parser whose CanParse matches wins.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: parsers}
}

// Lookup returns the first registered parser that claims path, or nil if
// none do.
func (r *Registry) Lookup(path string) Parser {
	for _, p := range r.parsers {
		if p.CanParse(path) {
			return p
		}
	}
	return nil
}

// Languages lists the language identifiers of every registered parser.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.parsers))
	for _, p := range r.parsers {
		out = append(out, p.Language())
	}
	return out
}
