// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateEntityIDDeterministic(t *testing.T) {
	id1 := GenerateEntityID("myrepo", "pkg/foo", KindFunction, "pkg/foo/a.go", "pkg/foo.Helper")
	id2 := GenerateEntityID("myrepo", "pkg/foo", KindFunction, "pkg/foo/a.go", "pkg/foo.Helper")
	require.Equal(t, id1, id2)
	require.Contains(t, id1, "myrepo:pkg/foo:function:")
}

func TestGenerateEntityIDDiffersByKind(t *testing.T) {
	fn := GenerateEntityID("r", "p", KindFunction, "a.go", "Foo")
	ty := GenerateEntityID("r", "p", KindType, "a.go", "Foo")
	require.NotEqual(t, fn, ty)
}

func TestGenerateEntityIDNormalizesPath(t *testing.T) {
	id1 := GenerateEntityID("r", "p", KindFunction, "./a.go", "Foo")
	id2 := GenerateEntityID("r", "p", KindFunction, "a.go", "Foo")
	require.Equal(t, id1, id2)
}

func TestGenerateEdgeIDStableKey(t *testing.T) {
	e := Edge{
		SourceEntityID: "r:p:function:aaaa",
		TargetEntityID: "r:p:function:bbbb",
		EdgeType:       EdgeCalls,
		SourceFilePath: "a.go",
		SourceLine:     10,
	}
	id1 := GenerateEdgeID(e)
	id2 := GenerateEdgeID(e)
	require.Equal(t, id1, id2)

	e.SourceLine = 11
	require.NotEqual(t, id1, GenerateEdgeID(e))
}

func TestIsUnresolved(t *testing.T) {
	require.True(t, IsUnresolved(Unresolved("helper")))
	require.False(t, IsUnresolved("r:p:function:aaaa"))
}

func TestContainerInvariants(t *testing.T) {
	require.True(t, CanContain(KindClass))
	require.False(t, CanContain(KindVariable))
	require.True(t, RequiresContainer(KindMethod))
	require.False(t, RequiresContainer(KindFunction))
}
