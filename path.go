// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts a slot target or workenv-relative path to
// normalized slash-separated form. It trims spaces, accepts both "/" and
// "\" input separators, removes a leading "./" or "/", and cleans "."
// segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	return p
}

// normalizeExtractEntryPath normalizes a slot target path and rejects
// empty paths and any path whose cleaned form still contains a ".."
// traversal segment.
func normalizeExtractEntryPath(entryPath string) (string, error) {
	normalizedPath := NormalizePath(entryPath)
	if normalizedPath == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidExtractPath, entryPath)
	}

	for _, segment := range strings.Split(normalizedPath, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrExtractPathOutsideRoot, entryPath)
		}
	}

	return normalizedPath, nil
}
