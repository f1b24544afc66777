// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package refparser is a dependency-free, regex-based Go parser used as the
// one reference parser.Parser implementation in this repository. It exists
// to exercise the writer/reader/update-manager pipeline end to end without
// pulling in a full AST toolchain: it extracts package-level funcs, methods,
// types, vars/consts, and imports using pattern matching, not a real parse
// tree.
//
// Limitations, matched deliberately rather than hidden:
//   - Function bodies are not walked, so CALLS edges are not produced.
//   - Generic type parameters are captured as raw text, not structured.
//   - Struct fields and interface methods are not extracted as nodes.
//   - Only struct and interface type declarations become nodes; other named
//     types (type ID string, type F func()) are not extracted.
//
// A production deployment registers real per-language parsers (tree-sitter
// or similar) ahead of this one in the registry; those are out of scope
// here.
package refparser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
	"github.com/devac-project/devac/pkg/sigparse"
)

var (
	packageRe     = regexp.MustCompile(`(?m)^package\s+(\w+)`)
	importRe      = regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:(\w+)\s+)?"([^"]+)"\s*$`)
	funcRe        = regexp.MustCompile(`(?m)^func\s+(\([^)]*\)\s+)?(\w+)\s*(\[[^\]]*\])?\(`)
	typeRe        = regexp.MustCompile(`(?m)^type\s+(\w+)\s+(struct|interface)\b`)
	varConstRe    = regexp.MustCompile(`^(?:var|const)\s+(\w+)`)
	groupOpenRe   = regexp.MustCompile(`^(?:var|const)\s*\($`)
	groupMemberRe = regexp.MustCompile(`^(\w+)`)
)

// Parser is the reference parser.Parser for ".go" files.
type Parser struct{}

// New builds the reference Go parser.
func New() *Parser {
	return &Parser{}
}

func (p *Parser) Language() string { return "go" }

func (p *Parser) Extensions() map[string]bool {
	return map[string]bool{".go": true}
}

func (p *Parser) CanParse(path string) bool {
	return strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go")
}

func (p *Parser) Parse(ctx context.Context, path string, cfg parser.Config) (*parser.ParseResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refparser: read %s: %w", path, err)
	}
	return p.parse(string(content), path, cfg), nil
}

func (p *Parser) ParseContent(ctx context.Context, text, virtualPath string, cfg parser.Config) (*parser.ParseResult, error) {
	return p.parse(text, virtualPath, cfg), nil
}

func (p *Parser) parse(content, path string, cfg parser.Config) *parser.ParseResult {
	sum := sha256.Sum256([]byte(content))
	fileHash := hex.EncodeToString(sum[:])

	result := &parser.ParseResult{
		SourceFileHash: fileHash,
		FilePath:       path,
	}

	pkgMatch := packageRe.FindStringSubmatch(content)
	pkgName := "main"
	if pkgMatch != nil {
		pkgName = pkgMatch[1]
	}

	moduleID := model.GenerateEntityID(cfg.RepoID, cfg.PackageID, model.KindModule, path, path)
	moduleNode := model.Node{
		EntityID:       moduleID,
		Name:           pkgName,
		QualifiedName:  path,
		Kind:           model.KindModule,
		FilePath:       path,
		Visibility:     model.VisibilityPublic,
		SourceFileHash: fileHash,
		Branch:         model.BaseBranch,
	}
	result.Nodes = append(result.Nodes, moduleNode)

	lines := strings.Split(content, "\n")

	for _, m := range funcRe.FindAllStringSubmatchIndex(content, -1) {
		start, end := m[0], m[1]
		receiver, name, typeParams := submatch(content, m, 2), submatch(content, m, 4), submatch(content, m, 6)
		line := 1 + strings.Count(content[:start], "\n")

		sigEnd := matchParen(content, end-1)
		if sigEnd == -1 {
			sigEnd = end
		}
		signature := strings.TrimSpace(collapseWhitespace(content[start:min(sigEnd+1, len(content))]))

		kind := model.KindFunction
		qualified := pkgName + "." + name
		if receiver != "" {
			kind = model.KindMethod
			qualified = pkgName + "." + receiverTypeName(receiver) + "." + name
		}

		fnID := model.GenerateEntityID(cfg.RepoID, cfg.PackageID, kind, path, qualified)
		node := model.Node{
			EntityID:       fnID,
			Name:           name,
			QualifiedName:  qualified,
			Kind:           kind,
			FilePath:       path,
			StartLine:      line,
			EndLine:        line,
			IsExported:     isExported(name),
			Visibility:     visibilityOf(name),
			TypeSignature:  signature,
			TypeParameters: splitTypeParams(typeParams),
			SourceFileHash: fileHash,
			Branch:         model.BaseBranch,
		}
		result.Nodes = append(result.Nodes, node)
		result.Edges = append(result.Edges, model.Edge{
			SourceEntityID: moduleID,
			TargetEntityID: fnID,
			EdgeType:       model.EdgeContains,
			SourceFilePath: path,
			SourceLine:     line,
			SourceFileHash: fileHash,
			Branch:         model.BaseBranch,
		})

		for _, param := range sigparse.ParseGoParams(signature) {
			paramID := model.GenerateEntityID(cfg.RepoID, cfg.PackageID, model.KindParameter, path, qualified+"."+param.Name)
			result.Nodes = append(result.Nodes, model.Node{
				EntityID:      paramID,
				Name:          param.Name,
				QualifiedName: qualified + "." + param.Name,
				Kind:          model.KindParameter,
				FilePath:      path,
				StartLine:     line,
				TypeSignature: param.Type,
				Visibility:    model.VisibilityPrivate,
				SourceFileHash: fileHash,
				Branch:         model.BaseBranch,
			})
			result.Edges = append(result.Edges, model.Edge{
				SourceEntityID: fnID,
				TargetEntityID: paramID,
				EdgeType:       model.EdgeContains,
				SourceFilePath: path,
				SourceLine:     line,
				SourceFileHash: fileHash,
				Branch:         model.BaseBranch,
			})
		}
	}

	for _, m := range typeRe.FindAllStringSubmatchIndex(content, -1) {
		start := m[0]
		name := submatch(content, m, 2)
		shape := submatch(content, m, 4)
		line := 1 + strings.Count(content[:start], "\n")

		kind := model.KindType
		if shape == "interface" {
			kind = model.KindInterface
		}

		qualified := pkgName + "." + name
		typeID := model.GenerateEntityID(cfg.RepoID, cfg.PackageID, kind, path, qualified)
		result.Nodes = append(result.Nodes, model.Node{
			EntityID:       typeID,
			Name:           name,
			QualifiedName:  qualified,
			Kind:           kind,
			FilePath:       path,
			StartLine:      line,
			EndLine:        line,
			IsExported:     isExported(name),
			Visibility:     visibilityOf(name),
			SourceFileHash: fileHash,
			Branch:         model.BaseBranch,
		})
		result.Edges = append(result.Edges, model.Edge{
			SourceEntityID: moduleID,
			TargetEntityID: typeID,
			EdgeType:       model.EdgeContains,
			SourceFilePath: path,
			SourceLine:     line,
			SourceFileHash: fileHash,
			Branch:         model.BaseBranch,
		})
	}

	inVarConstGroup := false
	for i, raw := range lines {
		if inVarConstGroup {
			trimmed := strings.TrimSpace(raw)
			if trimmed == ")" {
				inVarConstGroup = false
				continue
			}
			if m := groupMemberRe.FindStringSubmatch(trimmed); m != nil && !strings.HasPrefix(trimmed, "//") {
				addVarNode(result, cfg, path, pkgName, moduleID, m[1], i+1, fileHash)
			}
			continue
		}
		if groupOpenRe.MatchString(raw) {
			inVarConstGroup = true
			continue
		}
		if m := varConstRe.FindStringSubmatch(raw); m != nil {
			addVarNode(result, cfg, path, pkgName, moduleID, m[1], i+1, fileHash)
		}
	}

	for i, raw := range lines {
		m := importRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		alias, spec := m[1], m[2]
		style := model.ImportDefault
		if alias == "_" {
			style = model.ImportSideEffect
		} else if alias != "" {
			style = model.ImportAlias
		}
		ref := model.ExternalRef{
			SourceEntityID:  moduleID,
			SourceFilePath:  path,
			SourceLine:      i + 1,
			ModuleSpecifier: spec,
			ImportedSymbol:  lastPathSegment(spec),
			LocalAlias:      alias,
			ImportStyle:     style,
			SourceFileHash:  fileHash,
			Branch:          model.BaseBranch,
		}
		result.ExternalRefs = append(result.ExternalRefs, ref)
	}

	return result
}

// addVarNode appends a package-level var/const declaration as a
// model.KindVariable node plus its EdgeContains edge from the module.
func addVarNode(result *parser.ParseResult, cfg parser.Config, path, pkgName, moduleID, name string, line int, fileHash string) {
	qualified := pkgName + "." + name
	varID := model.GenerateEntityID(cfg.RepoID, cfg.PackageID, model.KindVariable, path, qualified)
	result.Nodes = append(result.Nodes, model.Node{
		EntityID:       varID,
		Name:           name,
		QualifiedName:  qualified,
		Kind:           model.KindVariable,
		FilePath:       path,
		StartLine:      line,
		EndLine:        line,
		IsExported:     isExported(name),
		Visibility:     visibilityOf(name),
		SourceFileHash: fileHash,
		Branch:         model.BaseBranch,
	})
	result.Edges = append(result.Edges, model.Edge{
		SourceEntityID: moduleID,
		TargetEntityID: varID,
		EdgeType:       model.EdgeContains,
		SourceFilePath: path,
		SourceLine:     line,
		SourceFileHash: fileHash,
		Branch:         model.BaseBranch,
	})
}

func submatch(s string, idx []int, group int) string {
	lo, hi := idx[group], idx[group+1]
	if lo < 0 || hi < 0 {
		return ""
	}
	return strings.TrimSpace(s[lo:hi])
}

func receiverTypeName(receiver string) string {
	r := strings.Trim(receiver, "() ")
	fields := strings.Fields(r)
	if len(fields) == 0 {
		return ""
	}
	t := fields[len(fields)-1]
	return strings.TrimPrefix(t, "*")
}

func isExported(name string) bool {
	if name == "" {
		return false
	}
	r := rune(name[0])
	return r >= 'A' && r <= 'Z'
}

func visibilityOf(name string) model.Visibility {
	if isExported(name) {
		return model.VisibilityPublic
	}
	return model.VisibilityPrivate
}

func splitTypeParams(raw string) []string {
	raw = strings.Trim(raw, "[]")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lastPathSegment(spec string) string {
	if i := strings.LastIndex(spec, "/"); i >= 0 {
		return spec[i+1:]
	}
	return spec
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// matchParen finds the index of the ')' matching the '(' at openIdx.
func matchParen(s string, openIdx int) int {
	if openIdx < 0 || openIdx >= len(s) || s[openIdx] != '(' {
		return -1
	}
	depth := 0
	for i := openIdx; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
