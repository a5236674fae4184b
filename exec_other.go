// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

//go:build !unix

package pspf

import "errors"

// replaceProcess is unavailable on non-unix platforms; execPrepared falls
// back to spawn-and-wait whenever this returns an error, matching §4.7's
// "Fallback to spawn-and-wait ... on non-Unix" rule.
func replaceProcess(path string, argv []string, env []string) error {
	return errors.New("pspf: process-replace exec is unavailable on this platform")
}
