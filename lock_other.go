// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

//go:build !unix

package pspf

// isProcessRunning assumes any PID is dead on non-Unix platforms, per §4.7:
// "assume dead elsewhere".
func isProcessRunning(pid int) bool {
	return false
}
