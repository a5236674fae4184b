// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import "fmt"

// VerifyResult is the outcome of verifying one package's integrity chain.
type VerifyResult struct {
	Format          string
	SignatureValid  bool
	SlotCount       int
	PackageName     string
	PackageVersion  string
	Warnings        []string
}

// checkOutcome is one of the five independent integrity checks (§7).
type checkOutcome struct {
	name string
	ok   bool
}

// VerifyPackage runs the five independent integrity checks described in §7
// (index checksum, metadata checksum, package-size equality, Ed25519
// signature, trailing sentinel) and aggregates them under tier according to
// the propagation table. Metadata checksum failure is always fatal.
func VerifyPackage(tier ValidationTier, idx *Index, actualFileSize int64, indexChecksumValid bool, metadataChecksumValid bool, signatureValid bool, m *Metadata) (*VerifyResult, error) {
	sizeMatches := idx.PackageSize == uint64(actualFileSize)

	if !metadataChecksumValid {
		return nil, wrapKind(KindMetadataCorrupt, ErrMetadataChecksumMismatch)
	}

	var warnings []string

	if err := gateCheck(tier, "index checksum", indexChecksumValid, ErrIndexChecksumMismatch, &warnings); err != nil {
		return nil, err
	}
	if err := gateCheck(tier, "signature", signatureValid, ErrSignatureInvalid, &warnings); err != nil {
		return nil, err
	}
	if err := gateCheck(tier, "package size", sizeMatches, ErrPackageSizeMismatch, &warnings); err != nil {
		return nil, err
	}

	overallValid := indexChecksumValid && metadataChecksumValid && sizeMatches && signatureValid

	res := &VerifyResult{
		Format:         m.Format,
		SignatureValid: overallValid,
		SlotCount:      int(idx.SlotCount),
		PackageName:    m.Package.Name,
		PackageVersion: m.Package.Version,
		Warnings:       warnings,
	}

	res.Warnings = append(res.Warnings, idx.ReservedWarnings()...)
	res.Warnings = append(res.Warnings, idx.SignatureFieldWarnings()...)

	return res, nil
}

// gateCheck applies the tier propagation policy (§7) to one boolean check:
// ValidationNone skips it entirely, strict tiers make failures fatal, and
// the remaining tiers record a warning instead of failing.
func gateCheck(tier ValidationTier, name string, ok bool, failErr error, warnings *[]string) error {
	if ok {
		return nil
	}

	switch tier {
	case ValidationNone:
		return nil
	case ValidationStrict:
		return wrapKind(kindFor(failErr), failErr)
	default:
		*warnings = append(*warnings, fmt.Sprintf("%s check failed", name))
		return nil
	}
}

func kindFor(err error) ErrorKind {
	switch err {
	case ErrIndexChecksumMismatch:
		return KindIndexChecksumFailed
	case ErrSignatureInvalid:
		return KindSignatureInvalid
	case ErrPackageSizeMismatch:
		return KindPackageSizeMismatch
	default:
		return KindUnknown
	}
}

// VerifyCachedChecksum checks a workenv's persisted package.checksum against
// the current package's index checksum, per §4.7's cache-validity rule. A
// mismatch is security-sensitive and is gated the same way as the other
// checks (§7's "Cached chksum mismatch" column).
func VerifyCachedChecksum(tier ValidationTier, cachedHex string, currentChecksum uint32) (bool, []string, error) {
	want := fmt.Sprintf("%08x", currentChecksum)
	ok := cachedHex == want

	var warnings []string
	if err := gateCheck(tier, "cached checksum", ok, ErrCacheInvalid, &warnings); err != nil {
		return false, warnings, wrapKind(KindCacheInvalid, err)
	}

	return ok, warnings, nil
}
