// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package idnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathNormalizesSeparatorsAndDotPrefix(t *testing.T) {
	require.Equal(t, "pkg/foo.go", Path(`./pkg/foo.go`))
	require.Equal(t, "pkg/foo.go", Path(`pkg\foo.go`))
}

func TestTextCollapsesWhitespace(t *testing.T) {
	require.Equal(t, "func Foo( ) int", Text("func  Foo(\n)  int"))
}

func TestHashDeterministic(t *testing.T) {
	a := Hash(16, "file.go", "Foo", "function")
	b := Hash(16, "file.go", "Foo", "function")
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestHashDistinguishesFields(t *testing.T) {
	a := Hash(16, "file.go", "Foo")
	b := Hash(16, "file.goF", "oo")
	require.NotEqual(t, a, b)
}

func TestCombineHashesOrderInsensitive(t *testing.T) {
	xs := []string{"a", "b", "c"}
	ys := []string{"c", "a", "b"}
	require.Equal(t, CombineHashes(xs), CombineHashes(ys))
}

func TestEmptyHashPinned(t *testing.T) {
	require.Equal(t, EmptyHash, Hash(64))
}
