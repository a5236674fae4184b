// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
)

// Index is the 8192-byte trailer block describing a package's layout and
// integrity seal. All multi-byte fields are little-endian.
type Index struct {
	FormatVersion       uint32
	IndexChecksum       uint32 // Adler-32 of the block with this field zeroed
	PackageSize         uint64
	LauncherSize        uint64
	MetadataOffset      uint64
	MetadataSize        uint64
	SlotTableOffset     uint64
	SlotTableSize       uint64
	SlotCount           uint32
	Flags               uint32
	PublicKey           [32]byte
	MetadataChecksum    [32]byte
	IntegritySignature  [SignatureFieldSize]byte
	Reserved            [IndexSize - 640]byte // hints/capabilities/reserved space, preserved verbatim
}

// field byte offsets inside the 8192-byte block.
const (
	offFormatVersion      = 0
	offIndexChecksum      = 4
	offPackageSize        = 8
	offLauncherSize       = 16
	offMetadataOffset     = 24
	offMetadataSize       = 32
	offSlotTableOffset    = 40
	offSlotTableSize      = 48
	offSlotCount          = 56
	offFlags              = 60
	offPublicKey          = 64
	offMetadataChecksum   = 96
	offIntegritySignature = 128
	offReserved           = 640
)

// Pack serializes the index to its fixed 8192-byte on-disk form. The
// checksum field is recomputed over the packed bytes with itself zeroed.
func (idx *Index) Pack() []byte {
	buf := make([]byte, IndexSize)

	binary.LittleEndian.PutUint32(buf[offFormatVersion:], idx.FormatVersion)
	binary.LittleEndian.PutUint64(buf[offPackageSize:], idx.PackageSize)
	binary.LittleEndian.PutUint64(buf[offLauncherSize:], idx.LauncherSize)
	binary.LittleEndian.PutUint64(buf[offMetadataOffset:], idx.MetadataOffset)
	binary.LittleEndian.PutUint64(buf[offMetadataSize:], idx.MetadataSize)
	binary.LittleEndian.PutUint64(buf[offSlotTableOffset:], idx.SlotTableOffset)
	binary.LittleEndian.PutUint64(buf[offSlotTableSize:], idx.SlotTableSize)
	binary.LittleEndian.PutUint32(buf[offSlotCount:], idx.SlotCount)
	binary.LittleEndian.PutUint32(buf[offFlags:], idx.Flags)
	copy(buf[offPublicKey:offPublicKey+32], idx.PublicKey[:])
	copy(buf[offMetadataChecksum:offMetadataChecksum+32], idx.MetadataChecksum[:])
	copy(buf[offIntegritySignature:offIntegritySignature+SignatureFieldSize], idx.IntegritySignature[:])
	copy(buf[offReserved:], idx.Reserved[:])

	// index_checksum itself is left zero, then recomputed and patched in.
	checksum := adler32.Checksum(buf)
	binary.LittleEndian.PutUint32(buf[offIndexChecksum:], checksum)

	return buf
}

// UnpackIndex parses an exactly-8192-byte block into an Index. It does not
// itself verify the checksum; use VerifyChecksum for that.
func UnpackIndex(buf []byte) (*Index, error) {
	if len(buf) != IndexSize {
		return nil, fmt.Errorf("%w: index block is %d bytes, want %d", ErrTrailerTooShort, len(buf), IndexSize)
	}

	idx := &Index{
		FormatVersion:   binary.LittleEndian.Uint32(buf[offFormatVersion:]),
		IndexChecksum:   binary.LittleEndian.Uint32(buf[offIndexChecksum:]),
		PackageSize:     binary.LittleEndian.Uint64(buf[offPackageSize:]),
		LauncherSize:    binary.LittleEndian.Uint64(buf[offLauncherSize:]),
		MetadataOffset:  binary.LittleEndian.Uint64(buf[offMetadataOffset:]),
		MetadataSize:    binary.LittleEndian.Uint64(buf[offMetadataSize:]),
		SlotTableOffset: binary.LittleEndian.Uint64(buf[offSlotTableOffset:]),
		SlotTableSize:   binary.LittleEndian.Uint64(buf[offSlotTableSize:]),
		SlotCount:       binary.LittleEndian.Uint32(buf[offSlotCount:]),
		Flags:           binary.LittleEndian.Uint32(buf[offFlags:]),
	}

	copy(idx.PublicKey[:], buf[offPublicKey:offPublicKey+32])
	copy(idx.MetadataChecksum[:], buf[offMetadataChecksum:offMetadataChecksum+32])
	copy(idx.IntegritySignature[:], buf[offIntegritySignature:offIntegritySignature+SignatureFieldSize])
	copy(idx.Reserved[:], buf[offReserved:])

	return idx, nil
}

// VerifyChecksum recomputes the Adler-32 checksum over buf (an exactly
// 8192-byte index block) with the checksum field zeroed and reports whether
// it matches the stored value.
func VerifyChecksum(buf []byte) (bool, error) {
	if len(buf) != IndexSize {
		return false, fmt.Errorf("%w: index block is %d bytes, want %d", ErrTrailerTooShort, len(buf), IndexSize)
	}

	stored := binary.LittleEndian.Uint32(buf[offIndexChecksum:])

	scratch := make([]byte, IndexSize)
	copy(scratch, buf)
	binary.LittleEndian.PutUint32(scratch[offIndexChecksum:], 0)

	return adler32.Checksum(scratch) == stored, nil
}

// ReservedWarnings reports a forward-compatibility warning if any byte in
// the reserved span is non-zero. Per the design notes, these are never
// treated as errors — only surfaced to the caller.
func (idx *Index) ReservedWarnings() []string {
	for _, b := range idx.Reserved {
		if b != 0 {
			return []string{"index reserved region contains non-zero bytes; package may use a newer feature"}
		}
	}

	return nil
}

// SignatureFieldWarnings reports a forward-compatibility warning if any byte
// in the signature field beyond the 64-byte Ed25519 signature is non-zero.
func (idx *Index) SignatureFieldWarnings() []string {
	for _, b := range idx.IntegritySignature[Ed25519SignatureSize:] {
		if b != 0 {
			return []string{"signature field has non-zero bytes beyond the Ed25519 signature"}
		}
	}

	return nil
}
