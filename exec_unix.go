// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

//go:build unix

package pspf

import "golang.org/x/sys/unix"

// replaceProcess replaces the current process image via execve, matching
// the "Exec mode" default of §4.7. It only returns on failure — success
// never returns to the caller.
func replaceProcess(path string, argv []string, env []string) error {
	return unix.Exec(path, argv, env)
}
