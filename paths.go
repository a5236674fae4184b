// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WorkenvPaths derives the full set of cache-relative paths for one package
// name (§4.7).
type WorkenvPaths struct {
	CacheRoot string
	Name      string
	// ContentOverride, if set, replaces the derived content root (e.g.
	// from $FLAVOR_WORKENV). The hidden metadata root is unaffected: it is
	// still derived from CacheRoot/Name.
	ContentOverride string
}

// CacheRoot resolves the stable cache root: $FLAVOR_CACHE, else
// $XDG_CACHE_HOME/flavor, else $HOME/.cache/flavor, else the OS temp dir.
func CacheRoot() string {
	if v := os.Getenv("FLAVOR_CACHE"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return filepath.Join(v, "flavor")
	}
	if v := os.Getenv("HOME"); v != "" {
		return filepath.Join(v, ".cache", "flavor")
	}

	return filepath.Join(os.TempDir(), "flavor")
}

// NameFromPackagePath derives a workenv name from a package file path: its
// basename with a trailing ".psp" or ".pspf" extension stripped.
func NameFromPackagePath(pkgPath string) string {
	base := filepath.Base(pkgPath)
	for _, ext := range []string{".pspf", ".psp"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}

	return base
}

// NewWorkenvPaths derives paths for one package name, rooted at cacheRoot.
func NewWorkenvPaths(cacheRoot, name string) *WorkenvPaths {
	return &WorkenvPaths{CacheRoot: cacheRoot, Name: name}
}

// ContentRoot is the content root: <cache>/workenv/<name>/, or
// ContentOverride when set.
func (p *WorkenvPaths) ContentRoot() string {
	if p.ContentOverride != "" {
		return p.ContentOverride
	}

	return filepath.Join(p.CacheRoot, "workenv", p.Name)
}

// HiddenRoot is the hidden metadata root: <cache>/workenv/.<name>.pspf/.
func (p *WorkenvPaths) HiddenRoot() string {
	return filepath.Join(p.CacheRoot, "workenv", "."+p.Name+".pspf")
}

// LockPath is instance/extract/lock.
func (p *WorkenvPaths) LockPath() string {
	return filepath.Join(p.HiddenRoot(), "instance", "extract", "lock")
}

// CompletePath is instance/extract/complete.
func (p *WorkenvPaths) CompletePath() string {
	return filepath.Join(p.HiddenRoot(), "instance", "extract", "complete")
}

// ChecksumPath is instance/package.checksum.
func (p *WorkenvPaths) ChecksumPath() string {
	return filepath.Join(p.HiddenRoot(), "instance", "package.checksum")
}

// IndexSnapshotPath is instance/index.json.
func (p *WorkenvPaths) IndexSnapshotPath() string {
	return filepath.Join(p.HiddenRoot(), "instance", "index.json")
}

// MetadataSnapshotPath is package/psp.json.
func (p *WorkenvPaths) MetadataSnapshotPath() string {
	return filepath.Join(p.HiddenRoot(), "package", "psp.json")
}

// TmpDir is tmp/<pid>/, the staging directory for an in-flight extraction.
func (p *WorkenvPaths) TmpDir(pid int) string {
	return filepath.Join(p.HiddenRoot(), "tmp", strconv.Itoa(pid))
}

// TmpRoot is tmp/, scanned at startup for stale staging directories.
func (p *WorkenvPaths) TmpRoot() string {
	return filepath.Join(p.HiddenRoot(), "tmp")
}
