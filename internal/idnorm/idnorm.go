// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package idnorm normalizes the inputs to entity ID hashing so the same
// symbol produces the same ID across runs and across platforms: paths are
// forward-slashed and package-relative, whitespace is collapsed, and text is
// normalized to Unicode NFC before hashing.
package idnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Path normalizes a file path for ID hashing: backslashes become forward
// slashes, "./" prefixes are stripped, and the result is NFC-normalized.
func Path(p string) string {
	p = strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
	p = strings.TrimPrefix(p, "./")
	return norm.NFC.String(p)
}

// Text collapses runs of whitespace to a single space, trims the ends, and
// NFC-normalizes. Used on qualified names before hashing so that
// inconsequential formatting differences never change an entity ID.
func Text(s string) string {
	s = norm.NFC.String(s)
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// Hash returns the first n hex characters of SHA-256 over the given parts,
// joined with a separator byte that cannot appear in any part's own
// content-neutral form (0x1f, ASCII unit separator).
func Hash(n int, parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if n <= 0 || n > len(sum) {
		return sum
	}
	return sum[:n]
}

// CombineHashes produces an order-insensitive digest over a set of hex
// hashes, used for scope hashes that must agree regardless of traversal
// order (e.g. hashing the set of files touched by a batch write).
func CombineHashes(hashes []string) string {
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)
	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EmptyHash is the canonical SHA-256 digest of zero-length input, pinned
// here so accidental hash-function substitutions are caught by tests.
const EmptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
