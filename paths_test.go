// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"path/filepath"
	"testing"
)

func TestCacheRootPrefersFlavorCache(t *testing.T) {
	t.Setenv("FLAVOR_CACHE", "/opt/flavor-cache")
	t.Setenv("XDG_CACHE_HOME", "/opt/xdg")
	t.Setenv("HOME", "/home/u")

	if got, want := CacheRoot(), "/opt/flavor-cache"; got != want {
		t.Fatalf("CacheRoot() = %q, want %q", got, want)
	}
}

func TestCacheRootFallsBackToXDG(t *testing.T) {
	t.Setenv("FLAVOR_CACHE", "")
	t.Setenv("XDG_CACHE_HOME", "/opt/xdg")
	t.Setenv("HOME", "/home/u")

	want := filepath.Join("/opt/xdg", "flavor")
	if got := CacheRoot(); got != want {
		t.Fatalf("CacheRoot() = %q, want %q", got, want)
	}
}

func TestCacheRootFallsBackToHome(t *testing.T) {
	t.Setenv("FLAVOR_CACHE", "")
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", "/home/u")

	want := filepath.Join("/home/u", ".cache", "flavor")
	if got := CacheRoot(); got != want {
		t.Fatalf("CacheRoot() = %q, want %q", got, want)
	}
}

func TestCacheRootFallsBackToTempDir(t *testing.T) {
	t.Setenv("FLAVOR_CACHE", "")
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", "")

	// os.TempDir() isn't test-overridable; just assert the derived suffix.
	if got := CacheRoot(); filepath.Base(got) != "flavor" {
		t.Fatalf("CacheRoot() = %q, want a .../flavor path", got)
	}
}

func TestNameFromPackagePathStripsExtension(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"/opt/apps/myapp.pspf", "myapp"},
		{"/opt/apps/myapp.psp", "myapp"},
		{"myapp.pspf", "myapp"},
		{"myapp", "myapp"},
		{"/opt/apps/myapp.tar.pspf", "myapp.tar"},
	}

	for _, c := range cases {
		if got := NameFromPackagePath(c.in); got != c.want {
			t.Errorf("NameFromPackagePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWorkenvPathsLayout(t *testing.T) {
	t.Parallel()

	p := NewWorkenvPaths("/cache", "myapp")

	checks := map[string]string{
		"ContentRoot":          filepath.Join("/cache", "workenv", "myapp"),
		"HiddenRoot":           filepath.Join("/cache", "workenv", ".myapp.pspf"),
		"LockPath":             filepath.Join("/cache", "workenv", ".myapp.pspf", "instance", "extract", "lock"),
		"CompletePath":         filepath.Join("/cache", "workenv", ".myapp.pspf", "instance", "extract", "complete"),
		"ChecksumPath":         filepath.Join("/cache", "workenv", ".myapp.pspf", "instance", "package.checksum"),
		"IndexSnapshotPath":    filepath.Join("/cache", "workenv", ".myapp.pspf", "instance", "index.json"),
		"MetadataSnapshotPath": filepath.Join("/cache", "workenv", ".myapp.pspf", "package", "psp.json"),
		"TmpRoot":              filepath.Join("/cache", "workenv", ".myapp.pspf", "tmp"),
	}

	got := map[string]string{
		"ContentRoot":          p.ContentRoot(),
		"HiddenRoot":           p.HiddenRoot(),
		"LockPath":             p.LockPath(),
		"CompletePath":         p.CompletePath(),
		"ChecksumPath":         p.ChecksumPath(),
		"IndexSnapshotPath":    p.IndexSnapshotPath(),
		"MetadataSnapshotPath": p.MetadataSnapshotPath(),
		"TmpRoot":              p.TmpRoot(),
	}

	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s = %q, want %q", k, got[k], want)
		}
	}

	wantTmp := filepath.Join("/cache", "workenv", ".myapp.pspf", "tmp", "4242")
	if got := p.TmpDir(4242); got != wantTmp {
		t.Errorf("TmpDir(4242) = %q, want %q", got, wantTmp)
	}
}

func TestWorkenvPathsContentOverride(t *testing.T) {
	t.Parallel()

	p := NewWorkenvPaths("/cache", "myapp")
	p.ContentOverride = "/elsewhere/workenv"

	if got := p.ContentRoot(); got != "/elsewhere/workenv" {
		t.Fatalf("ContentRoot() = %q, want override", got)
	}
	// Hidden root is unaffected by the override.
	if got, want := p.HiddenRoot(), filepath.Join("/cache", "workenv", ".myapp.pspf"); got != want {
		t.Fatalf("HiddenRoot() = %q, want %q", got, want)
	}
}
