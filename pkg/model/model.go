// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the structural parse model devac builds from source
// code: Node, Edge, and ExternalRef, plus the kind/visibility enums and
// invariants that every parser and every seed partition must honor.
//
// Nodes and edges form a directed graph with cycles (mutual recursion,
// re-exports). The two relations are kept flat and keyed by entity_id;
// nothing in this package or its callers builds an in-memory pointer graph
// that assumes acyclicity. Traversal is the caller's job, done as an
// explicit walk with a visited set.
package model

// Kind enumerates the declared-symbol kinds a Node may carry.
type Kind string

const (
	KindNamespace    Kind = "namespace"
	KindClass        Kind = "class"
	KindInterface    Kind = "interface"
	KindEnum         Kind = "enum"
	KindEnumMember   Kind = "enum_member"
	KindFunction     Kind = "function"
	KindMethod       Kind = "method"
	KindProperty     Kind = "property"
	KindVariable     Kind = "variable"
	KindParameter    Kind = "parameter"
	KindType         Kind = "type"
	KindModule       Kind = "module"
	KindDecorator    Kind = "decorator"
	KindJSXComponent Kind = "jsx_component"
	KindHTMLElement  Kind = "html_element"
	KindUnknown      Kind = "unknown"
)

// Visibility enumerates the accessibility of a declared symbol.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityProtected Visibility = "protected"
	VisibilityPrivate   Visibility = "private"
	VisibilityInternal  Visibility = "internal"
)

// EdgeType enumerates the directed relations devac records between entities.
type EdgeType string

const (
	EdgeContains     EdgeType = "CONTAINS"
	EdgeCalls        EdgeType = "CALLS"
	EdgeExtends      EdgeType = "EXTENDS"
	EdgeImplements   EdgeType = "IMPLEMENTS"
	EdgeDecorates    EdgeType = "DECORATES"
	EdgeRenders      EdgeType = "RENDERS"
	EdgeInstantiates EdgeType = "INSTANTIATES"
	EdgePassesProps  EdgeType = "PASSES_PROPS"
	EdgeImports      EdgeType = "IMPORTS"
	EdgeReferences   EdgeType = "REFERENCES"
)

// ImportStyle enumerates how an ExternalRef was imported.
type ImportStyle string

const (
	ImportDefault    ImportStyle = "default"
	ImportNamed      ImportStyle = "named"
	ImportNamespace  ImportStyle = "namespace"
	ImportSideEffect ImportStyle = "side-effect"
	ImportStatic     ImportStyle = "static"
	ImportAlias      ImportStyle = "alias"
	ImportGlobal     ImportStyle = "global"
)

// UnresolvedPrefix marks an edge/ref endpoint that a semantic resolver
// has not yet bound to a concrete entity ID.
const UnresolvedPrefix = "unresolved:"

// BaseBranch is the default branch partition name.
const BaseBranch = "base"

// Node is a declared symbol extracted by a parser.
type Node struct {
	EntityID       string         `json:"entity_id"`
	Name           string         `json:"name"`
	QualifiedName  string         `json:"qualified_name"`
	Kind           Kind           `json:"kind"`
	FilePath       string         `json:"file_path"`
	StartLine      int            `json:"start_line"`
	EndLine        int            `json:"end_line"`
	StartColumn    int            `json:"start_column"`
	EndColumn      int            `json:"end_column"`
	IsExported     bool           `json:"is_exported"`
	IsDefaultExport bool          `json:"is_default_export"`
	IsAsync        bool           `json:"is_async"`
	IsGenerator    bool           `json:"is_generator"`
	IsStatic       bool           `json:"is_static"`
	IsAbstract     bool           `json:"is_abstract"`
	Visibility     Visibility     `json:"visibility"`
	TypeSignature  string         `json:"type_signature,omitempty"`
	TypeParameters []string       `json:"type_parameters,omitempty"`
	Decorators     []string       `json:"decorators,omitempty"`
	Documentation  string         `json:"documentation,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`

	SourceFileHash string `json:"source_file_hash"`
	Branch         string `json:"branch"`
	IsDeleted      bool   `json:"is_deleted"`
	UpdatedAt      int64  `json:"updated_at"` // unix millis
}

// Edge is a directed relation between two entities.
type Edge struct {
	SourceEntityID string         `json:"source_entity_id"`
	TargetEntityID string         `json:"target_entity_id"`
	EdgeType       EdgeType       `json:"edge_type"`
	SourceFilePath string         `json:"source_file_path"`
	SourceLine     int            `json:"source_line"`
	SourceColumn   int            `json:"source_column"`
	Properties     map[string]any `json:"properties,omitempty"`

	SourceFileHash string `json:"source_file_hash"`
	Branch         string `json:"branch"`
	IsDeleted      bool   `json:"is_deleted"`
	UpdatedAt      int64  `json:"updated_at"`
}

// ExternalRef is an unresolved or cross-module reference captured at parse
// time, destined to be bound to a concrete entity by a (out-of-scope)
// semantic resolver.
type ExternalRef struct {
	SourceEntityID string `json:"source_entity_id"`
	SourceFilePath string `json:"source_file_path"`
	SourceLine     int    `json:"source_line"`
	SourceColumn   int    `json:"source_column"`

	ModuleSpecifier string      `json:"module_specifier"`
	ImportedSymbol  string      `json:"imported_symbol"`
	LocalAlias      string      `json:"local_alias,omitempty"`
	ImportStyle     ImportStyle `json:"import_style"`
	IsTypeOnly      bool        `json:"is_type_only"`

	TargetEntityID string `json:"target_entity_id"`
	IsResolved     bool   `json:"is_resolved"`
	IsReexport     bool   `json:"is_reexport"`
	ExportAlias    string `json:"export_alias,omitempty"`

	SourceFileHash string `json:"source_file_hash"`
	Branch         string `json:"branch"`
	IsDeleted      bool   `json:"is_deleted"`
	UpdatedAt      int64  `json:"updated_at"`
}

// IsUnresolved reports whether id is the unresolved:<name> sentinel form.
func IsUnresolved(id string) bool {
	return len(id) > len(UnresolvedPrefix) && id[:len(UnresolvedPrefix)] == UnresolvedPrefix
}

// Unresolved builds the unresolved:<name> sentinel for a target that has no
// known entity ID yet.
func Unresolved(name string) string {
	return UnresolvedPrefix + name
}

// containerKinds are the kinds that may own CONTAINS edges to member nodes.
var containerKinds = map[Kind]bool{
	KindNamespace: true,
	KindClass:     true,
	KindInterface: true,
	KindFunction:  true,
	KindModule:    true,
}

// CanContain reports whether a node of kind k may be the source of a
// CONTAINS edge, per the invariant in the data model: every method,
// property, and parameter node has an enclosing CONTAINS edge from its
// class/function/namespace.
func CanContain(k Kind) bool {
	return containerKinds[k]
}

// RequiresContainer reports whether a node of kind k must be the target of
// exactly one CONTAINS edge from an enclosing declaration.
func RequiresContainer(k Kind) bool {
	switch k {
	case KindMethod, KindProperty, KindParameter:
		return true
	default:
		return false
	}
}
