// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import "fmt"

// Container layout constants.
const (
	// IndexSize is the fixed size in bytes of the on-disk Index structure.
	IndexSize = 8192
	// SlotDescriptorSize is the fixed size in bytes of one slot descriptor.
	SlotDescriptorSize = 64
	// TrailerSize is the total size of the magic trailer appended at EOF:
	// leading sentinel + Index + trailing sentinel.
	TrailerSize = len(trailerLeadSentinel) + IndexSize + len(trailerTailSentinel)
	// FormatVersion is the PSPF/2025 on-disk format version.
	FormatVersion uint32 = 0x20250001
	// SignatureFieldSize is the reserved width of the signature field in the
	// index. Only the first 64 bytes (an Ed25519 signature) are meaningful;
	// the remainder must be zero.
	SignatureFieldSize = 512
	// Ed25519SignatureSize is the number of leading bytes of the signature
	// field that are parsed and verified.
	Ed25519SignatureSize = 64
)

// trailerLeadSentinel and trailerTailSentinel bound the Index at EOF: the
// UTF-8 encodings of U+1F4E6 (package) and U+1FA84 (magic wand).
var (
	trailerLeadSentinel = []byte{0xF0, 0x9F, 0x93, 0xA6}
	trailerTailSentinel = []byte{0xF0, 0x9F, 0xAA, 0x84}
)

// Operation codes for a slot's packed operation chain. Up to 8 operations
// may be packed into one uint64 (one byte per op, terminated by OpNone).
type OpCode byte

const (
	OpNone  OpCode = 0x00
	OpTar   OpCode = 0x01
	OpGzip  OpCode = 0x10
	OpBzip2 OpCode = 0x11 // reserved, not implemented
	OpXz    OpCode = 0x12 // reserved, not implemented
	OpZstd  OpCode = 0x13 // reserved, not implemented
)

// maxPackedOperations bounds how many op codes fit in one packed uint64.
const maxPackedOperations = 8

// Purpose classifies what a slot's payload is used for.
type Purpose uint8

const (
	PurposePayload Purpose = iota
	PurposeRuntime
	PurposeTool
	PurposeData
	PurposeCode
	PurposeConfig
	PurposeMedia
)

var purposeNames = map[Purpose]string{
	PurposePayload: "payload",
	PurposeRuntime: "runtime",
	PurposeTool:    "tool",
	PurposeData:    "data",
	PurposeCode:    "code",
	PurposeConfig:  "config",
	PurposeMedia:   "media",
}

// ParsePurpose maps a manifest purpose string to its enum value.
func ParsePurpose(name string) (Purpose, error) {
	for value, candidate := range purposeNames {
		if candidate == name {
			return value, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownPurpose, name)
}

func (p Purpose) String() string {
	if name, ok := purposeNames[p]; ok {
		return name
	}

	return "unknown"
}

// Lifecycle classifies when and how long a slot's extracted content lives.
// This is the 11-value vocabulary from the manifest schema; it supersedes
// the narrower 4-value enum found in some reference sources.
type Lifecycle uint8

const (
	LifecycleInit Lifecycle = iota
	LifecycleStartup
	LifecycleRuntime
	LifecycleShutdown
	LifecycleCache
	LifecycleTemp
	LifecycleLazy
	LifecycleEager
	LifecycleDev
	LifecycleConfig
	LifecyclePlatform
)

var lifecycleNames = map[Lifecycle]string{
	LifecycleInit:      "init",
	LifecycleStartup:   "startup",
	LifecycleRuntime:   "runtime",
	LifecycleShutdown:  "shutdown",
	LifecycleCache:     "cache",
	LifecycleTemp:      "temp",
	LifecycleLazy:      "lazy",
	LifecycleEager:     "eager",
	LifecycleDev:       "dev",
	LifecycleConfig:    "config",
	LifecyclePlatform:  "platform",
}

func (l Lifecycle) String() string {
	if name, ok := lifecycleNames[l]; ok {
		return name
	}

	return "unknown"
}

// ParseLifecycle maps a manifest lifecycle string to its enum value.
func ParseLifecycle(name string) (Lifecycle, error) {
	for value, candidate := range lifecycleNames {
		if candidate == name {
			return value, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownLifecycle, name)
}

// ValidationTier controls how strictly integrity checks are enforced.
type ValidationTier string

const (
	ValidationNone     ValidationTier = "none"
	ValidationMinimal  ValidationTier = "minimal"
	ValidationRelaxed  ValidationTier = "relaxed"
	ValidationStandard ValidationTier = "standard"
	ValidationStrict   ValidationTier = "strict"
)

// Exit codes returned by launcher front-ends (§6).
const (
	ExitOK          = 0
	ExitPanic       = 101
	ExitFormat      = 102
	ExitExtraction  = 103
	ExitExecution   = 104
	ExitInvalidArgs = 105
	ExitIO          = 106
	ExitSignature   = 107
	ExitBuild       = 108
	ExitConfig      = 109
	ExitDependency  = 110
)
