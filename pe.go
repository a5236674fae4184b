// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import "encoding/binary"

// LauncherKind classifies a launcher binary for PE overlay handling (§4.5,
// §9's note to centralize per-language launcher detection in one function).
type LauncherKind int

const (
	LauncherUnknown LauncherKind = iota
	LauncherNotPE
	LauncherPEGo
	LauncherPERust
)

const (
	peGoStubOffset     = 0x80
	peRustStubMinimum  = 0xE8
	peExpandedStubSize = 0xF0
)

// DetectLauncherKind centralizes launcher sniffing behind one function so
// its test coverage is local (§9).
func DetectLauncherKind(data []byte) LauncherKind {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return LauncherNotPE
	}

	lfanew := peOffsetAt(data, 0x3C)
	if lfanew == nil {
		return LauncherNotPE
	}

	off := int(*lfanew)
	if off+4 > len(data) || string(data[off:off+4]) != "PE\x00\x00" {
		return LauncherNotPE
	}

	switch {
	case off == peGoStubOffset:
		return LauncherPEGo
	case off >= peRustStubMinimum:
		return LauncherPERust
	default:
		return LauncherPEGo
	}
}

func peOffsetAt(data []byte, off int) *uint32 {
	if off+4 > len(data) {
		return nil
	}

	v := binary.LittleEndian.Uint32(data[off : off+4])
	return &v
}

// ProcessLauncherForPSPF applies the platform-appropriate transformation
// before a launcher binary is embedded in a package (§4.5):
//   - Go-style launchers: unconditional overlay, bytes unchanged.
//   - Rust/MSVC-style launchers whose DOS stub is shorter than 0xF0: grow
//     the stub to 0xF0 and fix up every absolute file offset in the image.
//   - Anything else (non-PE, or already-0xF0 stub): bytes unchanged.
func ProcessLauncherForPSPF(data []byte) ([]byte, error) {
	kind := DetectLauncherKind(data)
	if kind != LauncherPERust {
		return data, nil
	}

	lfanew := peOffsetAt(data, 0x3C)
	if lfanew == nil {
		return data, nil
	}

	currentOffset := int(*lfanew)
	if currentOffset >= peExpandedStubSize {
		return data, nil
	}

	return expandDOSStub(data, currentOffset)
}

// expandDOSStub grows the DOS stub to 0xF0 bytes and fixes up every
// absolute file offset recorded in the PE image (§4.5 steps 1-7).
func expandDOSStub(data []byte, currentOffset int) ([]byte, error) {
	padding := uint32(peExpandedStubSize - currentOffset)

	out := make([]byte, 0, len(data)+int(padding))
	out = append(out, data[:currentOffset]...)
	out = append(out, make([]byte, padding)...)
	out = append(out, data[currentOffset:]...)

	binary.LittleEndian.PutUint32(out[0x3C:0x40], peExpandedStubSize)

	peOffset := peExpandedStubSize
	coffOffset := peOffset + 4
	numSections := int(binary.LittleEndian.Uint16(out[coffOffset+2 : coffOffset+4]))
	optionalHeaderSize := int(binary.LittleEndian.Uint16(out[coffOffset+16 : coffOffset+18]))
	optionalHeaderOffset := coffOffset + 20

	if optionalHeaderSize > 0 {
		magic := binary.LittleEndian.Uint16(out[optionalHeaderOffset : optionalHeaderOffset+2])
		isPE32Plus := magic == 0x20B

		// SizeOfHeaders sits at optional-header + 60 regardless of PE32/PE32+.
		sizeOfHeadersOffset := optionalHeaderOffset + 60
		current := binary.LittleEndian.Uint32(out[sizeOfHeadersOffset : sizeOfHeadersOffset+4])
		binary.LittleEndian.PutUint32(out[sizeOfHeadersOffset:sizeOfHeadersOffset+4], current+padding)

		// CheckSum at optional-header + 64, zeroed (not validated for executables).
		checksumOffset := optionalHeaderOffset + 64
		binary.LittleEndian.PutUint32(out[checksumOffset:checksumOffset+4], 0)

		dataDirOffset := optionalHeaderOffset + 96
		if isPE32Plus {
			dataDirOffset = optionalHeaderOffset + 112
		}

		sectionTableOffset := optionalHeaderOffset + optionalHeaderSize

		// Data directory #4: Certificate Table, holds an absolute file offset.
		certEntryOffset := dataDirOffset + 4*8
		if certEntryOffset+4 <= len(out) {
			certOffset := binary.LittleEndian.Uint32(out[certEntryOffset : certEntryOffset+4])
			if certOffset >= peGoStubOffset {
				binary.LittleEndian.PutUint32(out[certEntryOffset:certEntryOffset+4], certOffset+padding)
			}
		}

		for i := 0; i < numSections; i++ {
			sh := sectionTableOffset + i*40
			if sh+40 > len(out) {
				break
			}
			ptr := binary.LittleEndian.Uint32(out[sh+20 : sh+24])
			if ptr > 0 {
				binary.LittleEndian.PutUint32(out[sh+20:sh+24], ptr+padding)
			}
		}

		// Data directory #6: Debug Directory, an array of 28-byte entries.
		debugEntryOffset := dataDirOffset + 6*8
		if debugEntryOffset+8 <= len(out) {
			debugRVA := binary.LittleEndian.Uint32(out[debugEntryOffset : debugEntryOffset+4])
			debugSize := binary.LittleEndian.Uint32(out[debugEntryOffset+4 : debugEntryOffset+8])
			if debugRVA != 0 {
				fixupDebugDirectory(out, debugRVA, debugSize, sectionTableOffset, numSections, padding)
			}
		}
	}

	return out, nil
}

// fixupDebugDirectory walks the Debug Directory array (located by mapping
// its RVA through the section table) and bumps each entry's
// PointerToRawData that was >= 0x80 by padding (§4.5 step 7).
func fixupDebugDirectory(out []byte, rva, size uint32, sectionTableOffset, numSections int, padding uint32) {
	fileOffset := rvaToFileOffset(out, rva, sectionTableOffset, numSections)
	if fileOffset < 0 {
		return
	}

	const entrySize = 28
	for off := fileOffset; uint32(off-fileOffset) < size; off += entrySize {
		if off+entrySize > len(out) {
			break
		}
		ptr := binary.LittleEndian.Uint32(out[off+24 : off+28])
		if ptr >= peGoStubOffset {
			binary.LittleEndian.PutUint32(out[off+24:off+28], ptr+padding)
		}
	}
}

// rvaToFileOffset maps an RVA through the section table: file offset =
// PointerToRawData(section) + (RVA - VirtualAddress(section)).
func rvaToFileOffset(out []byte, rva uint32, sectionTableOffset, numSections int) int {
	for i := 0; i < numSections; i++ {
		sh := sectionTableOffset + i*40
		if sh+40 > len(out) {
			break
		}

		virtualAddress := binary.LittleEndian.Uint32(out[sh+12 : sh+16])
		virtualSize := binary.LittleEndian.Uint32(out[sh+8 : sh+12])
		pointerToRawData := binary.LittleEndian.Uint32(out[sh+20 : sh+24])

		if rva >= virtualAddress && rva < virtualAddress+virtualSize {
			return int(pointerToRawData + (rva - virtualAddress))
		}
	}

	return -1
}
