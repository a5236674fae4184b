// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

//go:build !unix

package pspf

import (
	"errors"
	"os"
)

var errMmapUnsupported = errors.New("pspf: mmap backend unavailable on this platform")

// newMmapBackend is unavailable on non-unix platforms; OpenBackend falls
// back to the plain file backend whenever this returns an error.
func newMmapBackend(f *os.File, size int64) (*fileBackend, error) {
	return nil, errMmapUnsupported
}
