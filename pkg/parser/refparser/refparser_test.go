// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refparser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
)

const fixture = `package widgets

import (
	"fmt"
	alias "strings"
	_ "embed"
)

type Widget struct {
	Name string
}

type Renderer interface {
	Render() string
}

func New(name string, count int) *Widget {
	return &Widget{Name: name}
}

func (w *Widget) Render() string {
	return fmt.Sprintf("%s", w.Name)
}
`

func TestParseContentExtractsModuleAndFuncsAndTypes(t *testing.T) {
	p := New()
	cfg := parser.Config{RepoID: "r", PackageID: "widgets"}

	res, err := p.ParseContent(context.Background(), fixture, "widgets/widget.go", cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.SourceFileHash)

	var names []string
	var kinds []model.Kind
	for _, n := range res.Nodes {
		names = append(names, n.Name)
		kinds = append(kinds, n.Kind)
	}

	require.Contains(t, names, "widgets")
	require.Contains(t, names, "Widget")
	require.Contains(t, names, "Renderer")
	require.Contains(t, names, "New")
	require.Contains(t, names, "Render")
	require.Contains(t, kinds, model.KindInterface)
	require.Contains(t, kinds, model.KindType)
	require.Contains(t, kinds, model.KindFunction)
	require.Contains(t, kinds, model.KindMethod)
}

func TestParseContentQualifiesMethodsByReceiver(t *testing.T) {
	p := New()
	cfg := parser.Config{RepoID: "r", PackageID: "widgets"}

	res, err := p.ParseContent(context.Background(), fixture, "widgets/widget.go", cfg)
	require.NoError(t, err)

	var renderNode *model.Node
	for i := range res.Nodes {
		if res.Nodes[i].Name == "Render" && res.Nodes[i].Kind == model.KindMethod {
			renderNode = &res.Nodes[i]
		}
	}
	require.NotNil(t, renderNode)
	require.Equal(t, "widgets.Widget.Render", renderNode.QualifiedName)
}

func TestParseContentExtractsImportsWithStyle(t *testing.T) {
	p := New()
	cfg := parser.Config{RepoID: "r", PackageID: "widgets"}

	res, err := p.ParseContent(context.Background(), fixture, "widgets/widget.go", cfg)
	require.NoError(t, err)

	byModule := map[string]model.ExternalRef{}
	for _, ref := range res.ExternalRefs {
		byModule[ref.ModuleSpecifier] = ref
	}

	require.Equal(t, model.ImportDefault, byModule["fmt"].ImportStyle)
	require.Equal(t, model.ImportAlias, byModule["strings"].ImportStyle)
	require.Equal(t, model.ImportSideEffect, byModule["embed"].ImportStyle)
}

func TestCanParseRejectsTestFiles(t *testing.T) {
	p := New()
	require.True(t, p.CanParse("foo.go"))
	require.False(t, p.CanParse("foo_test.go"))
	require.False(t, p.CanParse("foo.py"))
}

const varConstFixture = `package widgets

const MaxWidgets = 100

var defaultName = "widget"

var (
	Count   int
	// a comment inside the group is skipped
	Enabled bool
)
`

func TestParseContentExtractsVarsAndConsts(t *testing.T) {
	p := New()
	cfg := parser.Config{RepoID: "r", PackageID: "widgets"}

	res, err := p.ParseContent(context.Background(), varConstFixture, "widgets/vars.go", cfg)
	require.NoError(t, err)

	byName := map[string]model.Node{}
	for _, n := range res.Nodes {
		if n.Kind == model.KindVariable {
			byName[n.Name] = n
		}
	}

	require.Contains(t, byName, "MaxWidgets")
	require.Contains(t, byName, "defaultName")
	require.Contains(t, byName, "Count")
	require.Contains(t, byName, "Enabled")
	require.True(t, byName["MaxWidgets"].IsExported)
	require.False(t, byName["defaultName"].IsExported)
}

func TestGenerateEntityIDsAreDeterministicAcrossRuns(t *testing.T) {
	p := New()
	cfg := parser.Config{RepoID: "r", PackageID: "widgets"}

	res1, err := p.ParseContent(context.Background(), fixture, "widgets/widget.go", cfg)
	require.NoError(t, err)
	res2, err := p.ParseContent(context.Background(), fixture, "widgets/widget.go", cfg)
	require.NoError(t, err)

	require.Equal(t, len(res1.Nodes), len(res2.Nodes))
	for i := range res1.Nodes {
		require.Equal(t, res1.Nodes[i].EntityID, res2.Nodes[i].EntityID)
	}
}
