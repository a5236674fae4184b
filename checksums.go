// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/adler32"
	"io"
	"strings"
)

// ChecksumAlgorithm names an algorithm usable in a prefixed checksum string
// ("sha256:<hex>", "adler32:<hex>"). This is a supplemental, out-of-band
// utility for comparing cache-validation hints; it is independent of the
// index/slot checksum fields, which are always SHA-256 or Adler-32 as fixed
// by the container format itself.
type ChecksumAlgorithm string

const (
	ChecksumSHA256  ChecksumAlgorithm = "sha256"
	ChecksumAdler32 ChecksumAlgorithm = "adler32"
)

// FormatChecksum renders a prefixed checksum string for data.
func FormatChecksum(algo ChecksumAlgorithm, data []byte) (string, error) {
	switch algo {
	case ChecksumSHA256:
		sum := sha256.Sum256(data)
		return string(algo) + ":" + hex.EncodeToString(sum[:]), nil
	case ChecksumAdler32:
		sum := adler32.Checksum(data)
		return fmt.Sprintf("%s:%08x", algo, sum), nil
	default:
		return "", fmt.Errorf("pspf: unsupported checksum algorithm %q", algo)
	}
}

// ParseChecksum splits a prefixed checksum string into its algorithm and hex
// digest, without validating the digest length against the algorithm.
func ParseChecksum(s string) (algo ChecksumAlgorithm, hexDigest string, err error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("pspf: malformed checksum string %q", s)
	}

	return ChecksumAlgorithm(s[:idx]), s[idx+1:], nil
}

// VerifyChecksumString reports whether the prefixed checksum string matches
// data under its named algorithm.
func VerifyChecksumString(s string, data []byte) (bool, error) {
	algo, hexDigest, err := ParseChecksum(s)
	if err != nil {
		return false, err
	}

	want, err := FormatChecksum(algo, data)
	if err != nil {
		return false, err
	}

	return want == string(algo)+":"+hexDigest, nil
}

// hashReaderSHA256 streams r through SHA-256, matching the teacher's
// stream-a-reader-through-a-hasher idiom used for trailer/content hashing.
func hashReaderSHA256(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out, nil
}
