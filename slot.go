// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

// SlotDescriptor is the fixed 64-byte on-disk record for one slot.
type SlotDescriptor struct {
	ID            uint64
	NameHash      uint64 // first 8 bytes of SHA-256(slot id), little-endian
	Offset        uint64
	Size          uint64 // stored (possibly compressed) size
	OriginalSize  uint64
	Operations    uint64 // packed operation chain, see PackOperations
	Checksum      uint64 // first 8 bytes of SHA-256(stored bytes), little-endian
	Purpose       Purpose
	Lifecycle     Lifecycle
	Priority      uint8
	Platform      uint8
	Permissions   uint16 // POSIX mode bits; 0 means "use pipeline default"
}

const (
	slotOffID           = 0
	slotOffNameHash     = 8
	slotOffOffset       = 16
	slotOffSize         = 24
	slotOffOriginalSize = 32
	slotOffOperations   = 40
	slotOffChecksum     = 48
	slotOffTail         = 56 // purpose/lifecycle/priority/platform/res/res/perm_lo/perm_hi
)

// Pack serializes the descriptor to its fixed 64-byte on-disk form.
func (d *SlotDescriptor) Pack() []byte {
	buf := make([]byte, SlotDescriptorSize)

	binary.LittleEndian.PutUint64(buf[slotOffID:], d.ID)
	binary.LittleEndian.PutUint64(buf[slotOffNameHash:], d.NameHash)
	binary.LittleEndian.PutUint64(buf[slotOffOffset:], d.Offset)
	binary.LittleEndian.PutUint64(buf[slotOffSize:], d.Size)
	binary.LittleEndian.PutUint64(buf[slotOffOriginalSize:], d.OriginalSize)
	binary.LittleEndian.PutUint64(buf[slotOffOperations:], d.Operations)
	binary.LittleEndian.PutUint64(buf[slotOffChecksum:], d.Checksum)

	buf[slotOffTail+0] = byte(d.Purpose)
	buf[slotOffTail+1] = byte(d.Lifecycle)
	buf[slotOffTail+2] = d.Priority
	buf[slotOffTail+3] = d.Platform
	// buf[slotOffTail+4], buf[slotOffTail+5] reserved, left zero
	binary.LittleEndian.PutUint16(buf[slotOffTail+6:], d.Permissions)

	return buf
}

// UnpackSlotDescriptor parses an exactly-64-byte block into a SlotDescriptor.
func UnpackSlotDescriptor(buf []byte) (*SlotDescriptor, error) {
	if len(buf) != SlotDescriptorSize {
		return nil, fmt.Errorf("pspf: slot descriptor is %d bytes, want %d", len(buf), SlotDescriptorSize)
	}

	d := &SlotDescriptor{
		ID:           binary.LittleEndian.Uint64(buf[slotOffID:]),
		NameHash:     binary.LittleEndian.Uint64(buf[slotOffNameHash:]),
		Offset:       binary.LittleEndian.Uint64(buf[slotOffOffset:]),
		Size:         binary.LittleEndian.Uint64(buf[slotOffSize:]),
		OriginalSize: binary.LittleEndian.Uint64(buf[slotOffOriginalSize:]),
		Operations:   binary.LittleEndian.Uint64(buf[slotOffOperations:]),
		Checksum:     binary.LittleEndian.Uint64(buf[slotOffChecksum:]),
		Purpose:      Purpose(buf[slotOffTail+0]),
		Lifecycle:    Lifecycle(buf[slotOffTail+1]),
		Priority:     buf[slotOffTail+2],
		Platform:     buf[slotOffTail+3],
		Permissions:  binary.LittleEndian.Uint16(buf[slotOffTail+6:]),
	}

	return d, nil
}

// IsSelfRef reports whether this descriptor refers to the package itself
// rather than to a stored payload region ($SELF source, offset=0 size=0).
func (d *SlotDescriptor) IsSelfRef() bool {
	return d.Offset == 0 && d.Size == 0
}

// NameHash64 computes the descriptor name_hash for a slot id: the first 8
// bytes of SHA-256(id), interpreted little-endian.
func NameHash64(id string) uint64 {
	sum := sha256.Sum256([]byte(id))
	return binary.LittleEndian.Uint64(sum[:8])
}

// Checksum64 computes the descriptor checksum for stored bytes: the first 8
// bytes of SHA-256(data), interpreted little-endian.
func Checksum64(data []byte) uint64 {
	sum := sha256.Sum256(data)
	return binary.LittleEndian.Uint64(sum[:8])
}

// PackOperations packs up to maxPackedOperations op codes into one uint64,
// one byte per operation, in order, zero-padded. A vector longer than
// maxPackedOperations is rejected with ErrTooManyOperations (errors.go);
// it is not truncated to its first maxPackedOperations codes.
func PackOperations(ops []OpCode) (uint64, error) {
	if len(ops) > maxPackedOperations {
		return 0, fmt.Errorf("%w: %d operations", ErrTooManyOperations, len(ops))
	}

	var packed uint64
	for i, op := range ops {
		packed |= uint64(op) << (8 * i)
	}

	return packed, nil
}

// UnpackOperations splits a packed operation chain back into its op codes,
// stopping at the first OpNone byte (or after maxPackedOperations bytes).
func UnpackOperations(packed uint64) []OpCode {
	ops := make([]OpCode, 0, maxPackedOperations)
	for i := 0; i < maxPackedOperations; i++ {
		op := OpCode(packed >> (8 * i))
		if op == OpNone {
			break
		}

		ops = append(ops, op)
	}

	return ops
}

// HasOp reports whether a packed operation chain contains the given code.
func HasOp(packed uint64, want OpCode) bool {
	for _, op := range UnpackOperations(packed) {
		if op == want {
			return true
		}
	}

	return false
}

// ParseOperationsString maps a manifest "operations" token to an op chain.
// "tgz" -> [TAR, GZIP]; "gzip" -> [GZIP]; "tar" -> [TAR];
// "none"/""/"raw" -> [] (passthrough); a comma-separated explicit list such
// as "tar,gzip" is equivalent to "tgz". Per §6, an unrecognized token (or
// comma segment) is never fatal at build time: it is skipped and reported
// back as a warning, letting the rest of the chain still apply.
func ParseOperationsString(token string) ([]OpCode, []string) {
	trimmed := strings.TrimSpace(token)

	switch trimmed {
	case "", "none", "raw":
		return nil, nil
	case "gzip":
		return []OpCode{OpGzip}, nil
	case "tar":
		return []OpCode{OpTar}, nil
	case "tgz":
		return []OpCode{OpTar, OpGzip}, nil
	}

	var ops []OpCode
	var warnings []string
	for _, part := range strings.Split(trimmed, ",") {
		switch strings.TrimSpace(part) {
		case "", "none", "raw":
		case "gzip":
			ops = append(ops, OpGzip)
		case "tar":
			ops = append(ops, OpTar)
		default:
			warnings = append(warnings, fmt.Sprintf("pspf: unknown operation token %q skipped", part))
		}
	}

	return ops, warnings
}

// OperationsString renders an op chain back to its manifest token form.
func OperationsString(ops []OpCode) string {
	switch {
	case len(ops) == 0:
		return "none"
	case len(ops) == 1 && ops[0] == OpGzip:
		return "gzip"
	case len(ops) == 1 && ops[0] == OpTar:
		return "tar"
	case len(ops) == 2 && ops[0] == OpTar && ops[1] == OpGzip:
		return "tgz"
	default:
		return "custom"
	}
}
