// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"strings"
	"testing"
)

func TestSanitizePathReservedDeviceName(t *testing.T) {
	t.Parallel()

	got, err := SanitizePath("bin/con/readme.txt")
	if err != nil {
		t.Fatalf("SanitizePath: %v", err)
	}
	if got != "bin/_con/readme.txt" {
		t.Fatalf("SanitizePath = %q, want bin/_con/readme.txt", got)
	}
}

func TestSanitizePathReservedWithExtension(t *testing.T) {
	t.Parallel()

	got, err := SanitizePath("lpt1.sys")
	if err != nil {
		t.Fatalf("SanitizePath: %v", err)
	}
	if got != "_lpt1.sys" {
		t.Fatalf("SanitizePath = %q, want _lpt1.sys", got)
	}
}

func TestSanitizePathStripsUnsafeChars(t *testing.T) {
	t.Parallel()

	got, err := SanitizePath(`weird<>:"name|?*.txt`)
	if err != nil {
		t.Fatalf("SanitizePath: %v", err)
	}
	if strings.ContainsAny(got, `<>:"|?*`) {
		t.Fatalf("SanitizePath left unsafe characters in %q", got)
	}
}

func TestSanitizePathEmpty(t *testing.T) {
	t.Parallel()

	got, err := SanitizePath("")
	if err != nil {
		t.Fatalf("SanitizePath: %v", err)
	}
	if got != "" {
		t.Fatalf("SanitizePath(\"\") = %q, want empty", got)
	}
}

func TestSanitizePathDotOnlySegments(t *testing.T) {
	t.Parallel()

	// NormalizePath collapses an all-"." path to empty before sanitizing
	// ever sees it, so SanitizePath short-circuits to "" rather than "_".
	got, err := SanitizePath("././.")
	if err != nil {
		t.Fatalf("SanitizePath: %v", err)
	}
	if got != "" {
		t.Fatalf("SanitizePath(all dots) = %q, want empty", got)
	}
}

func TestSanitizeRelativePathNeutralizesDotDotSegment(t *testing.T) {
	t.Parallel()

	// A lone "." segment is dropped outright; a ".." segment survives the
	// split but sanitizePathSegment trims it down to "_", so no traversal
	// segment can ever reach the sanitized result.
	got, err := sanitizeRelativePath("a/../.")
	if err != nil {
		t.Fatalf("sanitizeRelativePath: %v", err)
	}
	if got != "a/_" {
		t.Fatalf("sanitizeRelativePath(%q) = %q, want a/_", "a/../.", got)
	}
	if strings.Contains(got, "..") {
		t.Fatalf("sanitizeRelativePath(%q) left a traversal segment: %q", "a/../.", got)
	}
}

func TestSanitizePathWindowsGUIDSuffix(t *testing.T) {
	t.Parallel()

	got, err := SanitizePath("folder.{20D04FE0-3AEA-1069-A2D8-08002B30309D}")
	if err != nil {
		t.Fatalf("SanitizePath: %v", err)
	}
	if !strings.Contains(got, "_{20D04FE0-3AEA-1069-A2D8-08002B30309D}") {
		t.Fatalf("SanitizePath(GUID suffix) = %q, want a _ before the braced GUID", got)
	}
}

func TestSanitizeSlotTargetsResolvesCollisions(t *testing.T) {
	t.Parallel()

	slots := []SlotMeta{
		{ID: "a", Target: "bin/app"},
		{ID: "b", Target: "bin/app"},
		{ID: "c", Target: "bin/app"},
	}

	out, err := SanitizeSlotTargets(slots)
	if err != nil {
		t.Fatalf("SanitizeSlotTargets: %v", err)
	}

	seen := make(map[string]bool, len(out))
	for _, s := range out {
		key := strings.ToLower(s.Target)
		if seen[key] {
			t.Fatalf("duplicate target %q after sanitizing", s.Target)
		}
		seen[key] = true
	}

	if out[0].Target != "bin/app" {
		t.Fatalf("first slot target = %q, want unchanged bin/app", out[0].Target)
	}
	if out[1].Target == "bin/app" || out[2].Target == "bin/app" {
		t.Fatalf("colliding slots were not renamed: %q, %q", out[1].Target, out[2].Target)
	}
}

func TestSanitizeSlotTargetsDeterministic(t *testing.T) {
	t.Parallel()

	slots := []SlotMeta{
		{ID: "a", Target: "bin/app"},
		{ID: "b", Target: "bin/app"},
	}

	first, err := SanitizeSlotTargets(slots)
	if err != nil {
		t.Fatalf("SanitizeSlotTargets: %v", err)
	}
	second, err := SanitizeSlotTargets(slots)
	if err != nil {
		t.Fatalf("SanitizeSlotTargets: %v", err)
	}

	for i := range first {
		if first[i].Target != second[i].Target {
			t.Fatalf("SanitizeSlotTargets not deterministic: %q vs %q", first[i].Target, second[i].Target)
		}
	}
}

func TestShortenSegmentDeterministicStable(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", maxSanitizedSegmentLen+50)

	a := shortenSegmentDeterministic(long, maxSanitizedSegmentLen)
	b := shortenSegmentDeterministic(long, maxSanitizedSegmentLen)

	if a != b {
		t.Fatalf("shortenSegmentDeterministic not stable: %q vs %q", a, b)
	}
	if len(a) > maxSanitizedSegmentLen {
		t.Fatalf("len(shortened) = %d, want <= %d", len(a), maxSanitizedSegmentLen)
	}
}

func TestSanitizePathSegmentLength(t *testing.T) {
	t.Parallel()

	segment := strings.Repeat("x", maxSanitizedSegmentLen*2)
	got, err := sanitizePathSegment(segment)
	if err != nil {
		t.Fatalf("sanitizePathSegment: %v", err)
	}
	if len(got) > maxSanitizedSegmentLen {
		t.Fatalf("len(got) = %d, want <= %d", len(got), maxSanitizedSegmentLen)
	}
}

func TestIsReservedDeviceNameCaseInsensitive(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"NUL", "nul", "Nul", "COM1", "com1"} {
		if !isReservedDeviceName(name) {
			t.Fatalf("isReservedDeviceName(%q) = false, want true", name)
		}
	}

	if isReservedDeviceName("readme") {
		t.Fatal("isReservedDeviceName(readme) = true, want false")
	}
}

func TestIsBracedGUID(t *testing.T) {
	t.Parallel()

	if !isBracedGUID("{20D04FE0-3AEA-1069-A2D8-08002B30309D}") {
		t.Fatal("isBracedGUID rejected a well-formed GUID")
	}
	if isBracedGUID("{not-a-guid}") {
		t.Fatal("isBracedGUID accepted a malformed token")
	}
}
