// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestAcquireReleaseLock(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	acquired, err := AcquireLock(paths)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if !acquired {
		t.Fatal("AcquireLock did not acquire an uncontested lock")
	}

	if _, err := os.Stat(paths.LockPath()); err != nil {
		t.Fatalf("lock file missing after AcquireLock: %v", err)
	}

	if err := ReleaseLock(paths); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if _, err := os.Stat(paths.LockPath()); !os.IsNotExist(err) {
		t.Fatal("lock file still present after ReleaseLock")
	}
}

func TestReleaseLockMissingIsNotAnError(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")
	if err := ReleaseLock(paths); err != nil {
		t.Fatalf("ReleaseLock on a never-acquired lock: %v", err)
	}
}

func TestAcquireLockBlockedByLiveProcess(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	if err := os.MkdirAll(filepath.Dir(paths.LockPath()), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(paths.LockPath(), []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	acquired, err := AcquireLock(paths)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if acquired {
		t.Fatal("AcquireLock acquired a lock held by this (live) process's PID")
	}
}

func TestAcquireLockRemovesStalePID(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	if err := os.MkdirAll(filepath.Dir(paths.LockPath()), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	// PID 1 on most test sandboxes is not this process and, for the
	// purposes of isProcessRunning's unix.Kill(pid, 0) probe, a very large
	// PID is reliably unassigned and thus reliably "dead".
	if err := os.WriteFile(paths.LockPath(), []byte("999999999"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	acquired, err := AcquireLock(paths)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if !acquired {
		t.Fatal("AcquireLock did not reclaim a lock held by a dead PID")
	}
}

func TestAcquireLockRemovesUnparseableContent(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	if err := os.MkdirAll(filepath.Dir(paths.LockPath()), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(paths.LockPath(), []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	acquired, err := AcquireLock(paths)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if !acquired {
		t.Fatal("AcquireLock did not reclaim a lock file with unparseable content")
	}
}

func TestWaitForExtractionReturnsWhenLockReleased(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")
	if _, err := AcquireLock(paths); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- WaitForExtraction(paths, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := ReleaseLock(paths); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForExtraction: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForExtraction did not return after the lock was released")
	}
}

func TestWaitForExtractionTimesOut(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")
	if _, err := AcquireLock(paths); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	err := WaitForExtraction(paths, 150*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestCleanupStaleExtractionsRemovesDeadPIDDirs(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	stale := paths.TmpDir(999999999)
	live := paths.TmpDir(os.Getpid())
	if err := os.MkdirAll(stale, 0o700); err != nil {
		t.Fatalf("MkdirAll(stale): %v", err)
	}
	if err := os.MkdirAll(live, 0o700); err != nil {
		t.Fatalf("MkdirAll(live): %v", err)
	}

	if err := CleanupStaleExtractions(paths); err != nil {
		t.Fatalf("CleanupStaleExtractions: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale tmp dir was not removed")
	}
	if _, err := os.Stat(live); err != nil {
		t.Fatalf("live tmp dir should have survived cleanup: %v", err)
	}
}

func TestCleanupStaleExtractionsMissingTmpRoot(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")
	if err := CleanupStaleExtractions(paths); err != nil {
		t.Fatalf("CleanupStaleExtractions on a nonexistent tmp root: %v", err)
	}
}

func TestExtractionCompleteMarkerLifecycle(t *testing.T) {
	t.Parallel()

	paths := NewWorkenvPaths(t.TempDir(), "demo")

	if IsExtractionComplete(paths) {
		t.Fatal("IsExtractionComplete true before any marker was written")
	}

	if err := MarkExtractionComplete(paths); err != nil {
		t.Fatalf("MarkExtractionComplete: %v", err)
	}
	if !IsExtractionComplete(paths) {
		t.Fatal("IsExtractionComplete false after MarkExtractionComplete")
	}

	if err := MarkExtractionIncomplete(paths); err != nil {
		t.Fatalf("MarkExtractionIncomplete: %v", err)
	}
	if IsExtractionComplete(paths) {
		t.Fatal("IsExtractionComplete true after MarkExtractionIncomplete")
	}

	if err := MarkExtractionIncomplete(paths); err != nil {
		t.Fatalf("MarkExtractionIncomplete on an already-clear marker: %v", err)
	}
}
