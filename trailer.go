// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"bytes"
	"fmt"
	"io"
)

// DiscoverTrailer locates and parses the MagicTrailer at the end of ra,
// which must span exactly size bytes. It returns the parsed index and the
// byte offset at which the trailer (leading sentinel) begins.
//
// Sentinel mismatches are fatal regardless of validation tier (§4.1); index
// checksum mismatches are not — callers decide how to act on the returned
// checksum-valid flag per their configured ValidationTier.
func DiscoverTrailer(ra io.ReaderAt, size int64) (idx *Index, trailerOffset int64, checksumValid bool, err error) {
	if size < TrailerSize {
		return nil, 0, false, fmt.Errorf("%w: file is %d bytes, need at least %d", ErrTrailerTooShort, size, TrailerSize)
	}

	trailer := make([]byte, TrailerSize)
	if _, err := ra.ReadAt(trailer, size-TrailerSize); err != nil {
		return nil, 0, false, fmt.Errorf("read trailer: %w", err)
	}

	idx, valid, err := parseTrailerBytes(trailer)
	if err != nil {
		return nil, 0, false, err
	}

	return idx, size - TrailerSize, valid, nil
}

// parseTrailerBytes parses an exactly-TrailerSize byte slice (lead sentinel
// + index block + tail sentinel) shared by DiscoverTrailer and the
// Backend-based reader path.
func parseTrailerBytes(trailer []byte) (*Index, bool, error) {
	lead := trailer[:len(trailerLeadSentinel)]
	indexBlock := trailer[len(trailerLeadSentinel) : len(trailerLeadSentinel)+IndexSize]
	tail := trailer[len(trailerLeadSentinel)+IndexSize:]

	if !bytes.Equal(lead, trailerLeadSentinel) || !bytes.Equal(tail, trailerTailSentinel) {
		return nil, false, wrapKind(KindTrailerNotFound, ErrTrailerNotFound)
	}

	idx, err := UnpackIndex(indexBlock)
	if err != nil {
		return nil, false, wrapKind(KindTrailerNotFound, err)
	}

	valid, err := VerifyChecksum(indexBlock)
	if err != nil {
		return nil, false, wrapKind(KindTrailerNotFound, err)
	}

	return idx, valid, nil
}
