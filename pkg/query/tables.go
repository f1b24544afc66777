// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/columnar"
)

// tableDDL returns the CREATE TABLE statement for relation, using
// tableName as the physical SQLite table name.
func tableDDL(relation, tableName string) (string, error) {
	switch relation {
	case "nodes":
		return fmt.Sprintf(`CREATE TABLE %s (
			entity_id TEXT, name TEXT, qualified_name TEXT, kind TEXT,
			file_path TEXT, start_line INTEGER, end_line INTEGER,
			start_column INTEGER, end_column INTEGER,
			is_exported INTEGER, is_default_export INTEGER, is_async INTEGER,
			is_generator INTEGER, is_static INTEGER, is_abstract INTEGER,
			visibility TEXT, type_signature TEXT, type_parameters TEXT,
			decorators TEXT, documentation TEXT, properties TEXT,
			source_file_hash TEXT, branch TEXT, is_deleted INTEGER, updated_at INTEGER
		)`, tableName), nil
	case "edges":
		return fmt.Sprintf(`CREATE TABLE %s (
			source_entity_id TEXT, target_entity_id TEXT, edge_type TEXT,
			source_file_path TEXT, source_line INTEGER, source_column INTEGER,
			properties TEXT, source_file_hash TEXT, branch TEXT,
			is_deleted INTEGER, updated_at INTEGER
		)`, tableName), nil
	case "external_refs":
		return fmt.Sprintf(`CREATE TABLE %s (
			source_entity_id TEXT, source_file_path TEXT, source_line INTEGER,
			source_column INTEGER, module_specifier TEXT, imported_symbol TEXT,
			local_alias TEXT, import_style TEXT, is_type_only INTEGER,
			target_entity_id TEXT, is_resolved INTEGER, is_reexport INTEGER,
			export_alias TEXT, source_file_hash TEXT, branch TEXT,
			is_deleted INTEGER, updated_at INTEGER
		)`, tableName), nil
	default:
		return "", errs.NewInputError("Unknown relation", relation, "use nodes, edges, or external_refs")
	}
}

func insertNodes(ctx context.Context, db *sql.DB, tableName string, rows []columnar.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewIOError("Could not begin load transaction", err.Error(), tableName, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, tableName))
	if err != nil {
		return errs.NewIOError("Could not prepare node insert", err.Error(), tableName, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.EntityID, r.Name, r.QualifiedName, r.Kind, r.FilePath, r.StartLine, r.EndLine,
			r.StartColumn, r.EndColumn, boolToInt(r.IsExported), boolToInt(r.IsDefaultExport),
			boolToInt(r.IsAsync), boolToInt(r.IsGenerator), boolToInt(r.IsStatic), boolToInt(r.IsAbstract),
			r.Visibility, r.TypeSignature, r.TypeParameters, r.Decorators, r.Documentation,
			r.Properties, r.SourceFileHash, r.Branch, boolToInt(r.IsDeleted), r.UpdatedAt,
		); err != nil {
			return errs.NewIOError("Could not insert node row", err.Error(), tableName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.NewIOError("Could not commit node load", err.Error(), tableName, err)
	}
	return nil
}

func insertEdges(ctx context.Context, db *sql.DB, tableName string, rows []columnar.EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewIOError("Could not begin load transaction", err.Error(), tableName, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?,?,?,?,?,?,?,?,?,?,?)`, tableName))
	if err != nil {
		return errs.NewIOError("Could not prepare edge insert", err.Error(), tableName, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.SourceEntityID, r.TargetEntityID, r.EdgeType, r.SourceFilePath, r.SourceLine,
			r.SourceColumn, r.Properties, r.SourceFileHash, r.Branch, boolToInt(r.IsDeleted), r.UpdatedAt,
		); err != nil {
			return errs.NewIOError("Could not insert edge row", err.Error(), tableName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.NewIOError("Could not commit edge load", err.Error(), tableName, err)
	}
	return nil
}

func insertRefs(ctx context.Context, db *sql.DB, tableName string, rows []columnar.ExternalRefRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewIOError("Could not begin load transaction", err.Error(), tableName, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, tableName))
	if err != nil {
		return errs.NewIOError("Could not prepare ref insert", err.Error(), tableName, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.SourceEntityID, r.SourceFilePath, r.SourceLine, r.SourceColumn, r.ModuleSpecifier,
			r.ImportedSymbol, r.LocalAlias, r.ImportStyle, boolToInt(r.IsTypeOnly), r.TargetEntityID,
			boolToInt(r.IsResolved), boolToInt(r.IsReexport), r.ExportAlias, r.SourceFileHash,
			r.Branch, boolToInt(r.IsDeleted), r.UpdatedAt,
		); err != nil {
			return errs.NewIOError("Could not insert external ref row", err.Error(), tableName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.NewIOError("Could not commit external ref load", err.Error(), tableName, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanRows drains *sql.Rows into generic column-name-keyed maps, the
// shape query() returns to callers regardless of which relations or
// joins produced the result set.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
