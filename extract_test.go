// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestEnsureExtractedRunsFullExtractionThenServesFromCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buildTestPackage(t, dir)

	r, err := OpenReader(filepath.Join(dir, "out.pspf"), ValidationStrict)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	first, err := EnsureExtracted(context.Background(), r, paths, ValidationStrict, time.Second)
	if err != nil {
		t.Fatalf("EnsureExtracted (first): %v", err)
	}
	if first.FromCache {
		t.Fatal("first EnsureExtracted reported FromCache true with no prior extraction")
	}

	got, err := os.ReadFile(filepath.Join(paths.ContentRoot(), "share", "asset.bin"))
	if err != nil {
		t.Fatalf("reading extracted asset.bin: %v", err)
	}
	if string(got) != "asset payload bytes, a bit longer this time" {
		t.Fatalf("extracted content = %q, want asset payload bytes, a bit longer this time", got)
	}

	// share/asset.bin is lifecycle "runtime", not "init", so it should survive
	// extraction; bin/runtime.bin is lifecycle "init" and should have been
	// removed after setup commands ran.
	if _, err := os.Stat(filepath.Join(paths.ContentRoot(), "share", "asset.bin")); err != nil {
		t.Fatalf("share/asset.bin missing after extraction: %v", err)
	}

	if !IsExtractionComplete(paths) {
		t.Fatal("extraction completion marker missing after a successful extraction")
	}

	second, err := EnsureExtracted(context.Background(), r, paths, ValidationStrict, time.Second)
	if err != nil {
		t.Fatalf("EnsureExtracted (second): %v", err)
	}
	if !second.FromCache {
		t.Fatal("second EnsureExtracted did not short-circuit via the cache")
	}
}

func TestEnsureExtractedInitLifecycleTargetRemovedAfterExtraction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buildTestPackage(t, dir)

	r, err := OpenReader(filepath.Join(dir, "out.pspf"), ValidationStrict)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	if _, err := EnsureExtracted(context.Background(), r, paths, ValidationStrict, time.Second); err != nil {
		t.Fatalf("EnsureExtracted: %v", err)
	}

	if _, err := os.Stat(filepath.Join(paths.ContentRoot(), "bin", "runtime.bin")); !os.IsNotExist(err) {
		t.Fatalf("bin/runtime.bin (lifecycle init) should have been swept after extraction, stat err = %v", err)
	}
}

func TestEnsureExtractedStaleCacheChecksumTriggersReExtraction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buildTestPackage(t, dir)

	r, err := OpenReader(filepath.Join(dir, "out.pspf"), ValidationStrict)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	if _, err := EnsureExtracted(context.Background(), r, paths, ValidationStrict, time.Second); err != nil {
		t.Fatalf("EnsureExtracted (first): %v", err)
	}

	if err := os.WriteFile(paths.ChecksumPath(), []byte("deadbeef"), 0o600); err != nil {
		t.Fatalf("corrupting cached checksum: %v", err)
	}

	second, err := EnsureExtracted(context.Background(), r, paths, ValidationStrict, time.Second)
	if err != nil {
		t.Fatalf("EnsureExtracted (second, stale checksum): %v", err)
	}
	if second.FromCache {
		t.Fatal("EnsureExtracted reported FromCache true despite a corrupted cached checksum")
	}
}

func TestEnsureExtractedConcurrentCallersWaitOnLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buildTestPackage(t, dir)

	r, err := OpenReader(filepath.Join(dir, "out.pspf"), ValidationStrict)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	// Simulate a peer that is mid-extraction: hold the lock without ever
	// marking the extraction complete.
	acquired, err := AcquireLock(paths)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if !acquired {
		t.Fatal("AcquireLock did not acquire an uncontested lock")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := EnsureExtracted(context.Background(), r, paths, ValidationStrict, 300*time.Millisecond)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := ReleaseLock(paths); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	wg.Wait()
	err = <-errCh
	// The peer released the lock without completing, so the waiter must
	// observe an invalid cache rather than silently reporting success.
	if err == nil {
		t.Fatal("EnsureExtracted succeeded despite the lock holder never completing its extraction")
	}
}

func TestEnsureExtractedWaitTimesOutWhenLockNeverReleased(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	buildTestPackage(t, dir)

	r, err := OpenReader(filepath.Join(dir, "out.pspf"), ValidationStrict)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	if _, err := AcquireLock(paths); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer ReleaseLock(paths)

	_, err = EnsureExtracted(context.Background(), r, paths, ValidationStrict, 100*time.Millisecond)
	if err == nil {
		t.Fatal("EnsureExtracted did not report an error when the lock was never released")
	}
}
