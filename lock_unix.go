// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

//go:build unix

package pspf

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// isProcessRunning probes /proc/<pid> first (matching the reference's
// Unix liveness check exactly), falling back to a signal-0 kill probe via
// golang.org/x/sys/unix when /proc is unavailable (e.g. non-Linux unix).
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	if _, err := os.Stat("/proc/" + strconv.Itoa(pid)); err == nil {
		return true
	}

	return unix.Kill(pid, 0) == nil
}
