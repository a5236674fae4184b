// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"errors"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"bin/app", "bin/app"},
		{"./bin/app", "bin/app"},
		{"/bin/app", "bin/app"},
		{`bin\app`, "bin/app"},
		{"bin/app/", "bin/app"},
		{"  bin/app  ", "bin/app"},
		{".", ""},
		{"", ""},
		{"a/./b", "a/b"},
	}

	for _, c := range cases {
		if got := NormalizePath(c.in); got != c.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeExtractEntryPathRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := normalizeExtractEntryPath(""); !errors.Is(err, ErrInvalidExtractPath) {
		t.Fatalf("err = %v, want ErrInvalidExtractPath", err)
	}
}

func TestNormalizeExtractEntryPathClampsLeadingTraversal(t *testing.T) {
	t.Parallel()

	// NormalizePath runs path.Clean against a synthetic root ("/" + raw),
	// which lexically drops any ".." that would escape above that root
	// before normalizeExtractEntryPath's own ".." scan ever runs — so a
	// leading-traversal attempt resolves to a safe path instead of erroring.
	cases := []struct{ in, want string }{
		{"../etc/passwd", "etc/passwd"},
		{"a/../../b", "b"},
		{"a/b/../../../c", "c"},
	}
	for _, c := range cases {
		got, err := normalizeExtractEntryPath(c.in)
		if err != nil {
			t.Errorf("normalizeExtractEntryPath(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("normalizeExtractEntryPath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeExtractEntryPathAcceptsClean(t *testing.T) {
	t.Parallel()

	got, err := normalizeExtractEntryPath("bin/app")
	if err != nil {
		t.Fatalf("normalizeExtractEntryPath: %v", err)
	}
	if got != "bin/app" {
		t.Fatalf("got = %q, want bin/app", got)
	}
}
