// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Metadata is the logical schema of the gzip-compressed metadata block.
type Metadata struct {
	Format        string            `json:"format"`
	FormatVersion string            `json:"format_version"`
	Package       PackageInfo       `json:"package"`
	Slots         []SlotMeta        `json:"slots"`
	Execution     ExecutionInfo     `json:"execution"`
	Verification  *VerificationInfo `json:"verification,omitempty"`
	Build         *BuildInfo        `json:"build,omitempty"`
	Launcher      *LauncherInfo     `json:"launcher,omitempty"`
	Compatibility map[string]any    `json:"compatibility,omitempty"`
	CacheValidation map[string]any  `json:"cache_validation,omitempty"`
	Runtime       *RuntimeInfo      `json:"runtime,omitempty"`
	Workenv       *WorkenvInfo      `json:"workenv,omitempty"`
	SetupCommands []SetupCommand    `json:"setup_commands,omitempty"`
}

// PackageInfo names the package and its version.
type PackageInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SlotMeta carries the human-readable twin of one slot's binary descriptor.
type SlotMeta struct {
	Index        int    `json:"index"`
	ID           string `json:"id"`
	Source       string `json:"source,omitempty"`
	Target       string `json:"target"`
	Operations   string `json:"operations"`
	Purpose      string `json:"purpose"`
	Lifecycle    string `json:"lifecycle"`
	Permissions  string `json:"permissions,omitempty"` // octal string, e.g. "0755"
	Resolution   string `json:"resolution,omitempty"`  // "build" | "runtime" | "lazy"
	Checksum     string `json:"checksum,omitempty"`    // full hex SHA-256 of source bytes
	SelfRef      bool   `json:"self_ref,omitempty"`
}

// ExecutionInfo describes the final command and its base environment.
type ExecutionInfo struct {
	PrimarySlot string            `json:"primary_slot,omitempty"`
	Command     string            `json:"command"`
	Env         map[string]string `json:"env,omitempty"`
}

// VerificationInfo records what the builder computed, for diagnostics.
type VerificationInfo struct {
	PublicKeyHex string `json:"public_key,omitempty"`
}

// BuildInfo records build provenance.
type BuildInfo struct {
	Timestamp int64  `json:"timestamp,omitempty"`
	Host      string `json:"host,omitempty"`
}

// LauncherInfo records what launcher kind the package was built with.
type LauncherInfo struct {
	Kind string `json:"kind,omitempty"`
}

// RuntimeInfo holds the environment-composition pipeline (§4.7).
type RuntimeInfo struct {
	Env EnvPipeline `json:"env"`
}

// EnvPipeline is the ordered pass/unset/map/set environment transformation.
type EnvPipeline struct {
	Pass  []string          `json:"pass,omitempty"`
	Unset []string          `json:"unset,omitempty"`
	Map   map[string]string `json:"map,omitempty"`
	Set   map[string]string `json:"set,omitempty"`
}

// WorkenvInfo describes extra directories to create and env overlays.
type WorkenvInfo struct {
	Directories []WorkenvDirectory `json:"directories,omitempty"`
	Env         map[string]string  `json:"env,omitempty"`
}

// WorkenvDirectory is one directory to create inside the workenv.
type WorkenvDirectory struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// SetupCommand is one declarative setup-command-language object (§4.8).
type SetupCommand struct {
	Type      string        `json:"type"`
	Command   string        `json:"command,omitempty"`
	Path      string        `json:"path,omitempty"`
	Content   string        `json:"content,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	Enumerate *EnumerateSpec `json:"enumerate,omitempty"`
}

// EnumerateSpec is the glob spec for an enumerate_and_execute command.
type EnumerateSpec struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern"`
}

// EncodeMetadata JSON-encodes (pretty-printed) then gzip-compresses m,
// matching the builder's write order: sign the uncompressed bytes first
// (§4.4 step 4), compress after.
func EncodeMetadata(m *Metadata) (uncompressed []byte, compressed []byte, err error) {
	uncompressed, err = json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(uncompressed); err != nil {
		return nil, nil, fmt.Errorf("compress metadata: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, nil, fmt.Errorf("compress metadata: %w", err)
	}

	return uncompressed, buf.Bytes(), nil
}

// DecodeMetadata verifies compressed against wantChecksum (SHA-256 of the
// compressed bytes), gzip-decompresses it, and parses the result as JSON.
// It validates that every slot's declared index equals its array position.
func DecodeMetadata(compressed []byte, wantChecksum [32]byte) (*Metadata, []byte, error) {
	got := sha256.Sum256(compressed)
	if got != wantChecksum {
		return nil, nil, wrapKind(KindMetadataCorrupt, ErrMetadataChecksumMismatch)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, wrapKind(KindMetadataCorrupt, fmt.Errorf("%w: %w", ErrMetadataCorrupt, err))
	}
	defer gr.Close()

	uncompressed, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, wrapKind(KindMetadataCorrupt, fmt.Errorf("%w: %w", ErrMetadataCorrupt, err))
	}

	var m Metadata
	if err := json.Unmarshal(uncompressed, &m); err != nil {
		return nil, nil, wrapKind(KindMetadataCorrupt, fmt.Errorf("%w: %w", ErrMetadataCorrupt, err))
	}

	for i, slot := range m.Slots {
		if slot.Index != i {
			return nil, nil, wrapKind(KindMetadataCorrupt, fmt.Errorf("%w: slot %d declares index %d", ErrMetadataCorrupt, i, slot.Index))
		}
	}

	return &m, uncompressed, nil
}
