// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"

	"github.com/devac-project/devac/internal/idnorm"
)

// idHexWidth is the number of hex characters kept from the SHA-256 digest
// backing an entity ID. 16 hex chars is 64 bits, the width spec.md treats
// collision probability as negligible at.
const idHexWidth = 16

// GenerateEntityID builds the reference-implementation entity ID:
// <repo>:<package>:<kind>:<hex>, where hex is over the normalized file
// path, qualified name, and kind. Two distinct symbols in the same package
// cannot collide without a SHA-256 collision in the first 64 bits.
func GenerateEntityID(repo, pkg string, kind Kind, filePath, qualifiedName string) string {
	h := idnorm.Hash(idHexWidth, idnorm.Path(filePath), idnorm.Text(qualifiedName), string(kind))
	return repo + ":" + pkg + ":" + string(kind) + ":" + h
}

// GenerateEdgeID builds a deterministic ID for an edge, used as the
// (source, target, type, file, line) natural key for branch-overlay
// shadowing in the query layer.
func GenerateEdgeID(e Edge) string {
	return idnorm.Hash(idHexWidth,
		e.SourceEntityID, e.TargetEntityID, string(e.EdgeType),
		idnorm.Path(e.SourceFilePath), strconv.Itoa(e.SourceLine))
}

// GenerateRefID builds a deterministic ID for an external reference.
func GenerateRefID(r ExternalRef) string {
	return idnorm.Hash(idHexWidth,
		idnorm.Path(r.SourceFilePath), strconv.Itoa(r.SourceLine), strconv.Itoa(r.SourceColumn),
		r.ModuleSpecifier, r.ImportedSymbol)
}
