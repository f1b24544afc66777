// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package columnar holds the on-disk columnar row shapes for a seed
// partition and the Parquet read/write primitives the seed writer and
// query layer build on. One partition directory holds three Parquet
// files (nodes, edges, external_refs) plus a meta.json schema-version
// stamp; see pkg/seed for the write-side atomicity protocol around
// these files.
package columnar

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	pqreader "github.com/xitongsys/parquet-go/reader"
	"golang.org/x/mod/semver"

	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/model"
)

// SchemaVersion is the current on-disk seed schema version, a semantic
// version string. A reader that sees a lower version must be able to read
// it (additive evolution only); a reader that sees a higher version
// refuses with errs.SchemaIncompatible, per CheckSchemaVersion.
const SchemaVersion = "1.0.0"

// TombstonePolicy is recorded in meta.json so the on-disk partition
// documents its own deletion semantics rather than leaving them implicit
// (Open Question #1, resolved: on the base branch, deleted rows are dropped
// in the same rewrite that deletes them; see pkg/seed.Writer.DeleteFile).
const TombstonePolicy = "rewrite-drop"

// Meta is the per-partition schema stamp, written alongside the Parquet
// files as meta.json.
type Meta struct {
	SchemaVersion   string `json:"schemaVersion"`
	TombstonePolicy string `json:"tombstonePolicy"`
	RepoID          string `json:"repo_id"`
	PackageID       string `json:"package_id"`
	Branch          string `json:"branch"`
	RowCounts       Counts `json:"row_counts"`
}

// CheckSchemaVersion refuses a partition whose meta.json schema version is
// newer than this binary understands, per spec: "readers MUST refuse to
// open a partition with a schema version they do not understand." A zero
// Meta (no meta.json yet, i.e. a freshly-created partition) is always
// compatible.
func CheckSchemaVersion(m Meta) error {
	if m.SchemaVersion == "" {
		return nil
	}
	seen, current := "v"+m.SchemaVersion, "v"+SchemaVersion
	if !semver.IsValid(seen) {
		return errs.NewSchemaIncompatible(
			"Partition schema version is not understood",
			fmt.Sprintf("meta.json schema version %q is not a valid semantic version", m.SchemaVersion),
			"re-index this partition with a compatible version of devacd",
			nil,
		)
	}
	if semver.Compare(seen, current) > 0 {
		return errs.NewSchemaIncompatible(
			"Partition schema version is newer than this binary understands",
			fmt.Sprintf("partition schema version %s is newer than the %s this binary supports", m.SchemaVersion, SchemaVersion),
			"upgrade devacd, or re-index the partition with this version",
			nil,
		)
	}
	return nil
}

// Counts records the row count of each relation at the time meta.json was
// last written, so partition size can be read without opening the Parquet
// files. The query layer does not read it.
type Counts struct {
	Nodes        int64 `json:"nodes"`
	Edges        int64 `json:"edges"`
	ExternalRefs int64 `json:"external_refs"`
}

// NodeRow is the flattened, Parquet-tagged projection of model.Node.
// Properties (a free-form map in the structural model) is serialized to
// JSON text, since Parquet has no native map[string]any column type that
// every reader can agree on.
type NodeRow struct {
	EntityID        string `parquet:"name=entity_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Name            string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	QualifiedName   string `parquet:"name=qualified_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind            string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	FilePath        string `parquet:"name=file_path, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StartLine       int32  `parquet:"name=start_line, type=INT32"`
	EndLine         int32  `parquet:"name=end_line, type=INT32"`
	StartColumn     int32  `parquet:"name=start_column, type=INT32"`
	EndColumn       int32  `parquet:"name=end_column, type=INT32"`
	IsExported      bool   `parquet:"name=is_exported, type=BOOLEAN"`
	IsDefaultExport bool   `parquet:"name=is_default_export, type=BOOLEAN"`
	IsAsync         bool   `parquet:"name=is_async, type=BOOLEAN"`
	IsGenerator     bool   `parquet:"name=is_generator, type=BOOLEAN"`
	IsStatic        bool   `parquet:"name=is_static, type=BOOLEAN"`
	IsAbstract      bool   `parquet:"name=is_abstract, type=BOOLEAN"`
	Visibility      string `parquet:"name=visibility, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TypeSignature   string `parquet:"name=type_signature, type=BYTE_ARRAY, convertedtype=UTF8"`
	TypeParameters  string `parquet:"name=type_parameters, type=BYTE_ARRAY, convertedtype=UTF8"`
	Decorators      string `parquet:"name=decorators, type=BYTE_ARRAY, convertedtype=UTF8"`
	Documentation   string `parquet:"name=documentation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Properties      string `parquet:"name=properties, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceFileHash  string `parquet:"name=source_file_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Branch          string `parquet:"name=branch, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	IsDeleted       bool   `parquet:"name=is_deleted, type=BOOLEAN"`
	UpdatedAt       int64  `parquet:"name=updated_at, type=INT64"`
}

// EdgeRow is the flattened, Parquet-tagged projection of model.Edge.
type EdgeRow struct {
	SourceEntityID string `parquet:"name=source_entity_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TargetEntityID string `parquet:"name=target_entity_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	EdgeType       string `parquet:"name=edge_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SourceFilePath string `parquet:"name=source_file_path, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SourceLine     int32  `parquet:"name=source_line, type=INT32"`
	SourceColumn   int32  `parquet:"name=source_column, type=INT32"`
	Properties     string `parquet:"name=properties, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceFileHash string `parquet:"name=source_file_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Branch         string `parquet:"name=branch, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	IsDeleted      bool   `parquet:"name=is_deleted, type=BOOLEAN"`
	UpdatedAt      int64  `parquet:"name=updated_at, type=INT64"`
}

// ExternalRefRow is the flattened, Parquet-tagged projection of
// model.ExternalRef.
type ExternalRefRow struct {
	SourceEntityID  string `parquet:"name=source_entity_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SourceFilePath  string `parquet:"name=source_file_path, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SourceLine      int32  `parquet:"name=source_line, type=INT32"`
	SourceColumn    int32  `parquet:"name=source_column, type=INT32"`
	ModuleSpecifier string `parquet:"name=module_specifier, type=BYTE_ARRAY, convertedtype=UTF8"`
	ImportedSymbol  string `parquet:"name=imported_symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	LocalAlias      string `parquet:"name=local_alias, type=BYTE_ARRAY, convertedtype=UTF8"`
	ImportStyle     string `parquet:"name=import_style, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	IsTypeOnly      bool   `parquet:"name=is_type_only, type=BOOLEAN"`
	TargetEntityID  string `parquet:"name=target_entity_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	IsResolved      bool   `parquet:"name=is_resolved, type=BOOLEAN"`
	IsReexport      bool   `parquet:"name=is_reexport, type=BOOLEAN"`
	ExportAlias     string `parquet:"name=export_alias, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceFileHash  string `parquet:"name=source_file_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Branch          string `parquet:"name=branch, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	IsDeleted       bool   `parquet:"name=is_deleted, type=BOOLEAN"`
	UpdatedAt       int64  `parquet:"name=updated_at, type=INT64"`
}

func propsToJSON(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func propsFromJSON(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// NodeToRow flattens a model.Node into its Parquet row projection.
func NodeToRow(n model.Node) NodeRow {
	tp, _ := json.Marshal(n.TypeParameters)
	dec, _ := json.Marshal(n.Decorators)
	return NodeRow{
		EntityID:        n.EntityID,
		Name:            n.Name,
		QualifiedName:   n.QualifiedName,
		Kind:            string(n.Kind),
		FilePath:        n.FilePath,
		StartLine:       int32(n.StartLine),
		EndLine:         int32(n.EndLine),
		StartColumn:     int32(n.StartColumn),
		EndColumn:       int32(n.EndColumn),
		IsExported:      n.IsExported,
		IsDefaultExport: n.IsDefaultExport,
		IsAsync:         n.IsAsync,
		IsGenerator:     n.IsGenerator,
		IsStatic:        n.IsStatic,
		IsAbstract:      n.IsAbstract,
		Visibility:      string(n.Visibility),
		TypeSignature:   n.TypeSignature,
		TypeParameters:  string(tp),
		Decorators:      string(dec),
		Documentation:   n.Documentation,
		Properties:      propsToJSON(n.Properties),
		SourceFileHash:  n.SourceFileHash,
		Branch:          n.Branch,
		IsDeleted:       n.IsDeleted,
		UpdatedAt:       n.UpdatedAt,
	}
}

// RowToNode expands a Parquet NodeRow back into the structural model.
func RowToNode(r NodeRow) model.Node {
	var tp, dec []string
	_ = json.Unmarshal([]byte(r.TypeParameters), &tp)
	_ = json.Unmarshal([]byte(r.Decorators), &dec)
	return model.Node{
		EntityID:        r.EntityID,
		Name:            r.Name,
		QualifiedName:   r.QualifiedName,
		Kind:            model.Kind(r.Kind),
		FilePath:        r.FilePath,
		StartLine:       int(r.StartLine),
		EndLine:         int(r.EndLine),
		StartColumn:     int(r.StartColumn),
		EndColumn:       int(r.EndColumn),
		IsExported:      r.IsExported,
		IsDefaultExport: r.IsDefaultExport,
		IsAsync:         r.IsAsync,
		IsGenerator:     r.IsGenerator,
		IsStatic:        r.IsStatic,
		IsAbstract:      r.IsAbstract,
		Visibility:      model.Visibility(r.Visibility),
		TypeSignature:   r.TypeSignature,
		TypeParameters:  tp,
		Decorators:      dec,
		Documentation:   r.Documentation,
		Properties:      propsFromJSON(r.Properties),
		SourceFileHash:  r.SourceFileHash,
		Branch:          r.Branch,
		IsDeleted:       r.IsDeleted,
		UpdatedAt:       r.UpdatedAt,
	}
}

// EdgeToRow flattens a model.Edge into its Parquet row projection.
func EdgeToRow(e model.Edge) EdgeRow {
	return EdgeRow{
		SourceEntityID: e.SourceEntityID,
		TargetEntityID: e.TargetEntityID,
		EdgeType:       string(e.EdgeType),
		SourceFilePath: e.SourceFilePath,
		SourceLine:     int32(e.SourceLine),
		SourceColumn:   int32(e.SourceColumn),
		Properties:     propsToJSON(e.Properties),
		SourceFileHash: e.SourceFileHash,
		Branch:         e.Branch,
		IsDeleted:      e.IsDeleted,
		UpdatedAt:      e.UpdatedAt,
	}
}

// RowToEdge expands a Parquet EdgeRow back into the structural model.
func RowToEdge(r EdgeRow) model.Edge {
	return model.Edge{
		SourceEntityID: r.SourceEntityID,
		TargetEntityID: r.TargetEntityID,
		EdgeType:       model.EdgeType(r.EdgeType),
		SourceFilePath: r.SourceFilePath,
		SourceLine:     int(r.SourceLine),
		SourceColumn:   int(r.SourceColumn),
		Properties:     propsFromJSON(r.Properties),
		SourceFileHash: r.SourceFileHash,
		Branch:         r.Branch,
		IsDeleted:      r.IsDeleted,
		UpdatedAt:      r.UpdatedAt,
	}
}

// RefToRow flattens a model.ExternalRef into its Parquet row projection.
func RefToRow(ref model.ExternalRef) ExternalRefRow {
	return ExternalRefRow{
		SourceEntityID:  ref.SourceEntityID,
		SourceFilePath:  ref.SourceFilePath,
		SourceLine:      int32(ref.SourceLine),
		SourceColumn:    int32(ref.SourceColumn),
		ModuleSpecifier: ref.ModuleSpecifier,
		ImportedSymbol:  ref.ImportedSymbol,
		LocalAlias:      ref.LocalAlias,
		ImportStyle:     string(ref.ImportStyle),
		IsTypeOnly:      ref.IsTypeOnly,
		TargetEntityID:  ref.TargetEntityID,
		IsResolved:      ref.IsResolved,
		IsReexport:      ref.IsReexport,
		ExportAlias:     ref.ExportAlias,
		SourceFileHash:  ref.SourceFileHash,
		Branch:          ref.Branch,
		IsDeleted:       ref.IsDeleted,
		UpdatedAt:       ref.UpdatedAt,
	}
}

// RowToRef expands a Parquet ExternalRefRow back into the structural model.
func RowToRef(r ExternalRefRow) model.ExternalRef {
	return model.ExternalRef{
		SourceEntityID:  r.SourceEntityID,
		SourceFilePath:  r.SourceFilePath,
		SourceLine:      int(r.SourceLine),
		SourceColumn:    int(r.SourceColumn),
		ModuleSpecifier: r.ModuleSpecifier,
		ImportedSymbol:  r.ImportedSymbol,
		LocalAlias:      r.LocalAlias,
		ImportStyle:     model.ImportStyle(r.ImportStyle),
		IsTypeOnly:      r.IsTypeOnly,
		TargetEntityID:  r.TargetEntityID,
		IsResolved:      r.IsResolved,
		IsReexport:      r.IsReexport,
		ExportAlias:     r.ExportAlias,
		SourceFileHash:  r.SourceFileHash,
		Branch:          r.Branch,
		IsDeleted:       r.IsDeleted,
		UpdatedAt:       r.UpdatedAt,
	}
}

// WriteNodes writes rows to a new Parquet file at path, replacing whatever
// was there. Callers needing crash-safety write to a temp path and rename
// via internal/atomicio; this function only handles the Parquet encoding.
func WriteNodes(path string, rows []NodeRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(NodeRow), 4)
	if err != nil {
		return fmt.Errorf("columnar: new node writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return fmt.Errorf("columnar: write node row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("columnar: flush nodes: %w", err)
	}
	return nil
}

// WriteEdges writes rows to a new Parquet file at path. See WriteNodes.
func WriteEdges(path string, rows []EdgeRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(EdgeRow), 4)
	if err != nil {
		return fmt.Errorf("columnar: new edge writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return fmt.Errorf("columnar: write edge row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("columnar: flush edges: %w", err)
	}
	return nil
}

// WriteRefs writes rows to a new Parquet file at path. See WriteNodes.
func WriteRefs(path string, rows []ExternalRefRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(ExternalRefRow), 4)
	if err != nil {
		return fmt.Errorf("columnar: new ref writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return fmt.Errorf("columnar: write ref row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("columnar: flush refs: %w", err)
	}
	return nil
}

// ReadNodes reads every row from a nodes Parquet file. A missing file
// (partition not yet written) returns an empty slice, not an error.
func ReadNodes(path string) ([]NodeRow, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer fr.Close()
	return readAll[NodeRow](fr, path)
}

// ReadEdges reads every row from an edges Parquet file.
func ReadEdges(path string) ([]EdgeRow, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer fr.Close()
	return readAll[EdgeRow](fr, path)
}

// ReadRefs reads every row from an external_refs Parquet file.
func ReadRefs(path string) ([]ExternalRefRow, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer fr.Close()
	return readAll[ExternalRefRow](fr, path)
}

func readAll[T any](fr source.ParquetFile, path string) ([]T, error) {
	pr, err := pqreader.NewParquetReader(fr, new(T), 4)
	if err != nil {
		return nil, fmt.Errorf("columnar: new reader for %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("columnar: read rows from %s: %w", path, err)
	}
	return rows, nil
}

// ReadMeta reads the meta.json schema stamp for a partition. A missing
// file is a fresh partition, not an error: it returns a zero-value Meta
// with an empty SchemaVersion.
func ReadMeta(path string) (Meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, nil
		}
		return Meta{}, fmt.Errorf("columnar: read meta %s: %w", path, err)
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("columnar: decode meta %s: %w", path, err)
	}
	return m, nil
}

// EncodeMeta renders a Meta as the meta.json bytes the seed writer commits
// atomically alongside the Parquet files.
func EncodeMeta(m Meta) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("columnar: encode meta: %w", err)
	}
	return b, nil
}
