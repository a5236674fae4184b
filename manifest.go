// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"encoding/json"
	"fmt"
)

// BuildManifest is the JSON build input described in §6. It is read once by
// the Builder and is never written back; Metadata is the derived on-disk
// form embedded in the package.
type BuildManifest struct {
	Format          string            `json:"format"`
	Package         PackageInfo       `json:"package"`
	Execution       ExecutionInfo     `json:"execution"`
	Slots           []ManifestSlot    `json:"slots"`
	CacheValidation map[string]any    `json:"cache_validation,omitempty"`
	Runtime         *ManifestRuntime  `json:"runtime,omitempty"`
	Workenv         *WorkenvInfo      `json:"workenv,omitempty"`
	SetupCommands   []SetupCommand    `json:"setup_commands,omitempty"`
}

// ManifestRuntime wraps the env-composition pipeline as it appears in a
// manifest (§4.7, §6).
type ManifestRuntime struct {
	Env EnvPipeline `json:"env"`
}

// ManifestSlot is one slot entry as authored in the build manifest, before
// it is resolved into a SlotMeta + SlotDescriptor pair.
type ManifestSlot struct {
	Slot        *int   `json:"slot,omitempty"` // declared position, must equal array index if present
	ID          string `json:"id"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	Operations  string `json:"operations,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	Lifecycle   string `json:"lifecycle,omitempty"`
	Permissions string `json:"permissions,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

// applyDefaults fills zero-valued manifest slot fields, matching the
// reference builder's defaults: purpose "data", lifecycle "runtime",
// operations "none", resolution "build".
func (s *ManifestSlot) applyDefaults() {
	if s.Purpose == "" {
		s.Purpose = "data"
	}
	if s.Lifecycle == "" {
		s.Lifecycle = "runtime"
	}
	if s.Operations == "" {
		s.Operations = "none"
	}
	if s.Resolution == "" {
		s.Resolution = "build"
	}
}

// ParseManifest decodes and validates a build manifest document. Each slot's
// declared position, if present, must equal its array index.
func ParseManifest(data []byte) (*BuildManifest, error) {
	var m BuildManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pspf: parse manifest: %w", err)
	}

	for i := range m.Slots {
		m.Slots[i].applyDefaults()

		if m.Slots[i].Slot != nil && *m.Slots[i].Slot != i {
			return nil, fmt.Errorf("pspf: manifest slot %d declares position %d", i, *m.Slots[i].Slot)
		}

		if _, err := ParsePurpose(m.Slots[i].Purpose); err != nil {
			return nil, fmt.Errorf("pspf: manifest slot %d: %w", i, err)
		}
		if _, err := ParseLifecycle(m.Slots[i].Lifecycle); err != nil {
			return nil, fmt.Errorf("pspf: manifest slot %d: %w", i, err)
		}
	}

	return &m, nil
}

// IsSelfRef reports whether a manifest slot is the $SELF reserved source.
func (s *ManifestSlot) IsSelfRef() bool {
	return s.Source == "$SELF"
}
