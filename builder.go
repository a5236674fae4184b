// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// DefaultBuildWriteBuffer is the default size of the pooled buffered writer
// used while streaming a package's launcher, metadata, and slot payloads.
const DefaultBuildWriteBuffer = 256 * 1024

var (
	// buildWriterPool reuses default-sized bufio writers between builds,
	// matching the teacher's pooled-writer idiom in writer.go.
	buildWriterPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(io.Discard, DefaultBuildWriteBuffer)
		},
	}
	// buildCopyBufferPool reuses slot-payload copy buffers between builds.
	buildCopyBufferPool = sync.Pool{
		New: func() any {
			buf := make([]byte, 64*1024)
			return &buf
		},
	}
)

// BuildOptions configures one call to BuildPackage.
type BuildOptions struct {
	// Launcher is the launcher binary's raw bytes. Required.
	Launcher []byte
	// Keys is explicit Ed25519 key material. If nil, Seed or an ephemeral
	// key pair is used instead (§4.4).
	Keys *KeyPair
	// Seed derives a deterministic Ed25519 key pair via KeyPairFromSeed
	// when Keys is nil.
	Seed string
	// WorkenvBase substitutes for a "{workenv}" prefix in a manifest
	// slot's source path, overriding FLAVOR_WORKENV_BASE.
	WorkenvBase string
	// SourceDateEpoch overrides build.timestamp for deterministic builds,
	// taking priority over the SOURCE_DATE_EPOCH environment variable.
	SourceDateEpoch *int64
	// WriterBufferSize overrides DefaultBuildWriteBuffer.
	WriterBufferSize int
}

func (o *BuildOptions) applyDefaults() {
	if o.WriterBufferSize <= 0 {
		o.WriterBufferSize = DefaultBuildWriteBuffer
	}
}

// BuildResult summarizes one successful build.
type BuildResult struct {
	PackageSize  int64
	SlotCount    int
	PublicKeyHex string
	// Warnings carries non-fatal issues observed while planning slots, such
	// as an unrecognized "operations" token that was skipped (§6).
	Warnings []string
}

// slotPlan is one resolved, non-self-ref manifest slot staged for writing.
type slotPlan struct {
	manifestIndex int
	id            string
	sourcePath    string
	target        string
	ops           []OpCode
	purpose       Purpose
	lifecycle     Lifecycle
	permissions   uint16
	resolution    string
}

// BuildPackage streams a new PSPF/2025 package to outPath per the ten-phase
// procedure of §4.4: launcher, reserved index scratch space, slot
// preprocessing, signed+compressed metadata, descriptor table reservation,
// slot payload streaming, descriptor back-fill, and trailer finalisation.
func BuildPackage(ctx context.Context, outPath string, manifest *BuildManifest, opts BuildOptions) (*BuildResult, error) {
	opts.applyDefaults()

	if ctx == nil {
		ctx = context.Background()
	}

	if len(opts.Launcher) == 0 {
		return nil, wrapKind(KindLaunchFailed, fmt.Errorf("pspf: no launcher binary provided"))
	}

	keys, err := resolveBuildKeys(opts)
	if err != nil {
		return nil, err
	}

	launcher, err := ProcessLauncherForPSPF(opts.Launcher)
	if err != nil {
		return nil, fmt.Errorf("pspf: process launcher: %w", err)
	}

	plans, planWarnings, err := planSlots(manifest, opts)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pspf: create package file: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	result, err := writePackage(ctx, f, launcher, manifest, plans, keys, opts)
	if err != nil {
		return nil, err
	}
	result.Warnings = planWarnings

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("pspf: sync package file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("pspf: close package file: %w", err)
	}
	f = nil

	if runtime.GOOS != "windows" {
		if err := os.Chmod(outPath, 0o700); err != nil {
			return nil, fmt.Errorf("pspf: chmod package file: %w", err)
		}
	}

	return result, nil
}

func resolveBuildKeys(opts BuildOptions) (*KeyPair, error) {
	if opts.Keys != nil {
		return opts.Keys, nil
	}
	if opts.Seed != "" {
		return KeyPairFromSeed(opts.Seed)
	}

	return GenerateEphemeralKeyPair()
}

// planSlots resolves each manifest slot's source path and operation chain,
// skipping $SELF slots. Declared `slot` positions were already checked
// against array index by ParseManifest. An unrecognized "operations" token
// is never fatal here: per §6 it is reported back as a warning and the
// slot is staged with the rest of its (possibly empty) operation chain.
func planSlots(manifest *BuildManifest, opts BuildOptions) ([]slotPlan, []string, error) {
	base := opts.WorkenvBase
	if base == "" {
		base = os.Getenv("FLAVOR_WORKENV_BASE")
	}

	var warnings []string
	plans := make([]slotPlan, 0, len(manifest.Slots))
	for i := range manifest.Slots {
		s := &manifest.Slots[i]
		if s.IsSelfRef() {
			continue
		}

		ops, opWarnings := ParseOperationsString(s.Operations)
		for _, w := range opWarnings {
			warnings = append(warnings, fmt.Sprintf("manifest slot %d: %s", i, w))
		}

		purpose, err := ParsePurpose(s.Purpose)
		if err != nil {
			return nil, nil, fmt.Errorf("pspf: manifest slot %d: %w", i, err)
		}

		lifecycle, err := ParseLifecycle(s.Lifecycle)
		if err != nil {
			return nil, nil, fmt.Errorf("pspf: manifest slot %d: %w", i, err)
		}

		var perm uint16
		if s.Permissions != "" {
			v, err := strconv.ParseUint(s.Permissions, 8, 16)
			if err != nil {
				return nil, nil, fmt.Errorf("pspf: manifest slot %d: invalid permissions %q: %w", i, s.Permissions, err)
			}
			perm = uint16(v)
		}

		plans = append(plans, slotPlan{
			manifestIndex: i,
			id:            s.ID,
			sourcePath:    expandWorkenvPlaceholder(s.Source, base),
			target:        s.Target,
			ops:           ops,
			purpose:       purpose,
			lifecycle:     lifecycle,
			permissions:   perm,
			resolution:    s.Resolution,
		})
	}

	return plans, warnings, nil
}

func expandWorkenvPlaceholder(source, base string) string {
	if base == "" {
		return source
	}

	const prefix = "{workenv}"
	if len(source) >= len(prefix) && source[:len(prefix)] == prefix {
		return base + source[len(prefix):]
	}

	return source
}

// writePackage runs phases 1-10 of §4.4.
func writePackage(ctx context.Context, f *os.File, launcher []byte, manifest *BuildManifest, plans []slotPlan, keys *KeyPair, opts BuildOptions) (*BuildResult, error) {
	w, release := acquireBuildWriter(f, opts.WriterBufferSize)
	defer release()

	// Phase 1: launcher.
	if _, err := w.Write(launcher); err != nil {
		return nil, fmt.Errorf("pspf: write launcher: %w", err)
	}
	launcherSize := int64(len(launcher))

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("pspf: flush launcher: %w", err)
	}

	// Phase 2: reserve an index-sized scratch gap after the launcher. It is
	// written as zeros and never read back; the final index block lives in
	// the trailer, appended once at the very end after package_size is
	// known (§4.4 note).
	if _, err := w.Write(make([]byte, IndexSize)); err != nil {
		return nil, fmt.Errorf("pspf: reserve index scratch space: %w", err)
	}

	// Phase 3: stage slot sources and their descriptor fields, deferring
	// the actual payload write until offsets are known (phase 7).
	staged, err := stageSlots(plans)
	if err != nil {
		return nil, err
	}

	// Phase 4-5: assemble, sign, compress, and write metadata.
	metadataOffset := launcherSize + IndexSize
	meta := buildMetadataDocument(manifest, staged, keys, opts)

	uncompressed, compressed, err := EncodeMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("pspf: encode metadata: %w", err)
	}

	sigField := keys.Sign(uncompressed)
	metadataChecksum := sha256.Sum256(compressed)

	if _, err := w.Write(compressed); err != nil {
		return nil, fmt.Errorf("pspf: write metadata: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("pspf: flush metadata: %w", err)
	}
	metadataSize := int64(len(compressed))

	// Phase 6: reserve the descriptor table, 8-byte aligned.
	pos := metadataOffset + metadataSize
	padBefore := alignPad(pos)
	if padBefore > 0 {
		if _, err := w.Write(make([]byte, padBefore)); err != nil {
			return nil, fmt.Errorf("pspf: align slot table: %w", err)
		}
	}
	slotTableOffset := pos + padBefore
	slotTableSize := int64(len(staged)) * SlotDescriptorSize

	if _, err := w.Write(make([]byte, slotTableSize)); err != nil {
		return nil, fmt.Errorf("pspf: reserve slot table: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("pspf: flush slot table reservation: %w", err)
	}

	// Phase 7: stream slot payloads, 8-byte aligned, recording offsets.
	pos = slotTableOffset + slotTableSize
	descriptors := make([]*SlotDescriptor, len(staged))

	copyBufPtr := buildCopyBufferPool.Get().(*[]byte)
	defer buildCopyBufferPool.Put(copyBufPtr)

	for i := range staged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pad := alignPad(pos)
		if pad > 0 {
			if _, err := w.Write(make([]byte, pad)); err != nil {
				return nil, fmt.Errorf("pspf: align slot %d: %w", i, err)
			}
			pos += pad
		}

		offset := pos
		written, err := copySlotPayload(w, &staged[i], *copyBufPtr)
		if err != nil {
			return nil, fmt.Errorf("pspf: write slot %d payload: %w", i, err)
		}
		pos += written

		descriptors[i] = &SlotDescriptor{
			ID:           uint64(i),
			NameHash:     NameHash64(staged[i].id),
			Offset:       uint64(offset),
			Size:         uint64(written),
			OriginalSize: uint64(staged[i].originalSize),
			Purpose:      staged[i].purpose,
			Lifecycle:    staged[i].lifecycle,
			Permissions:  staged[i].permissions,
		}
		descriptors[i].Operations, err = PackOperations(staged[i].ops)
		if err != nil {
			return nil, fmt.Errorf("pspf: pack slot %d operations: %w", i, err)
		}
		descriptors[i].Checksum = Checksum64(staged[i].storedBytes)
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("pspf: flush slot payloads: %w", err)
	}

	// Phase 8: back-fill the descriptor table.
	if _, err := f.Seek(slotTableOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("pspf: seek to slot table: %w", err)
	}
	for i, d := range descriptors {
		if _, err := f.Write(d.Pack()); err != nil {
			return nil, fmt.Errorf("pspf: patch slot descriptor %d: %w", i, err)
		}
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return nil, fmt.Errorf("pspf: seek back to end of data: %w", err)
	}

	// Phase 9: finalise the trailer.
	packageSize := pos + TrailerSize

	idx := &Index{
		FormatVersion:      FormatVersion,
		PackageSize:        uint64(packageSize),
		LauncherSize:       uint64(launcherSize),
		MetadataOffset:     uint64(metadataOffset),
		MetadataSize:       uint64(metadataSize),
		SlotTableOffset:    uint64(slotTableOffset),
		SlotTableSize:      uint64(slotTableSize),
		SlotCount:          uint32(len(staged)),
		PublicKey:          [32]byte(keys.Public),
		MetadataChecksum:   metadataChecksum,
		IntegritySignature: sigField,
	}

	if _, err := f.Write(trailerLeadSentinel); err != nil {
		return nil, fmt.Errorf("pspf: write lead sentinel: %w", err)
	}
	if _, err := f.Write(idx.Pack()); err != nil {
		return nil, fmt.Errorf("pspf: write index block: %w", err)
	}
	if _, err := f.Write(trailerTailSentinel); err != nil {
		return nil, fmt.Errorf("pspf: write tail sentinel: %w", err)
	}

	return &BuildResult{
		PackageSize:  packageSize,
		SlotCount:    len(staged),
		PublicKeyHex: hex.EncodeToString(keys.Public),
	}, nil
}

// alignPad returns the number of zero bytes needed to align pos to an
// 8-byte boundary.
func alignPad(pos int64) int64 {
	if rem := pos % 8; rem != 0 {
		return 8 - rem
	}

	return 0
}

func acquireBuildWriter(f *os.File, size int) (*bufio.Writer, func()) {
	if size == DefaultBuildWriteBuffer {
		w := buildWriterPool.Get().(*bufio.Writer)
		w.Reset(f)

		return w, func() {
			w.Reset(io.Discard)
			buildWriterPool.Put(w)
		}
	}

	return bufio.NewWriterSize(f, size), func() {}
}

// stagedSlot carries a resolved slot plan plus the bytes to be written
// (already in their on-disk, operation-chain-applied form) and the exact
// checksum input per §9's fixed semantics: checksum covers stored bytes.
type stagedSlot struct {
	slotPlan
	storedBytes       []byte
	originalSize      int64
	sourceChecksumHex string
}

// stageSlots reads each non-self-ref slot's source file and streams it
// through verbatim: per §4.4 step 7, the builder does not further compress
// or archive a slot's source — pre-compressed/pre-archived sources are
// expected, and `operations` is a pure description of the already-applied
// on-disk form (§9 open question resolution). The checksum and
// original_size both cover the source bytes exactly as stored.
func stageSlots(plans []slotPlan) ([]stagedSlot, error) {
	staged := make([]stagedSlot, len(plans))

	for i, p := range plans {
		raw, err := os.ReadFile(p.sourcePath)
		if err != nil {
			return nil, fmt.Errorf("pspf: read slot source %q: %w", p.sourcePath, err)
		}

		sourceSum := sha256.Sum256(raw)

		staged[i] = stagedSlot{
			slotPlan:          p,
			storedBytes:       raw,
			originalSize:      int64(len(raw)),
			sourceChecksumHex: hex.EncodeToString(sourceSum[:]),
		}
	}

	return staged, nil
}

func copySlotPayload(dst io.Writer, s *stagedSlot, buf []byte) (int64, error) {
	return io.CopyBuffer(dst, &byteSliceReader{data: s.storedBytes}, buf)
}

// byteSliceReader avoids an extra bytes.Reader allocation per slot in the
// hot payload-copy loop.
type byteSliceReader struct {
	data []byte
	pos  int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n

	return n, nil
}

// buildMetadataDocument assembles the gzip-compressed metadata's logical
// document from the manifest and the staged slot plan (§4.4 step 4).
func buildMetadataDocument(manifest *BuildManifest, staged []stagedSlot, keys *KeyPair, opts BuildOptions) *Metadata {
	slots := make([]SlotMeta, 0, len(manifest.Slots))

	staging := make(map[int]*stagedSlot, len(staged))
	for i := range staged {
		staging[staged[i].manifestIndex] = &staged[i]
	}

	for i := range manifest.Slots {
		s := &manifest.Slots[i]

		if s.IsSelfRef() {
			slots = append(slots, SlotMeta{
				Index:   i,
				ID:      s.ID,
				Target:  s.Target,
				SelfRef: true,
			})
			continue
		}

		st := staging[i]
		slots = append(slots, SlotMeta{
			Index:       i,
			ID:          s.ID,
			Source:      s.Source,
			Target:      s.Target,
			Operations:  OperationsString(st.ops),
			Purpose:     st.purpose.String(),
			Lifecycle:   st.lifecycle.String(),
			Permissions: s.Permissions,
			Resolution:  st.resolution,
			Checksum:    st.sourceChecksumHex,
		})
	}

	build := &BuildInfo{
		Timestamp: buildTimestamp(opts),
	}
	if host, err := os.Hostname(); err == nil && !sourceDateEpochSet(opts) {
		build.Host = host
	}

	var runtimeInfo *RuntimeInfo
	if manifest.Runtime != nil {
		runtimeInfo = &RuntimeInfo{Env: manifest.Runtime.Env}
	}

	return &Metadata{
		Format:        manifest.Format,
		FormatVersion: fmt.Sprintf("0x%08X", FormatVersion),
		Package:       manifest.Package,
		Slots:         slots,
		Execution:     manifest.Execution,
		Verification:  &VerificationInfo{PublicKeyHex: hex.EncodeToString(keys.Public)},
		Build:         build,
		Launcher:      &LauncherInfo{Kind: launcherKindName(opts.Launcher)},
		Runtime:       runtimeInfo,
		Workenv:       manifest.Workenv,
		SetupCommands: manifest.SetupCommands,
	}
}

func launcherKindName(data []byte) string {
	switch DetectLauncherKind(data) {
	case LauncherPEGo:
		return "pe-go"
	case LauncherPERust:
		return "pe-rust"
	case LauncherNotPE:
		return "non-pe"
	default:
		return "unknown"
	}
}

func sourceDateEpochSet(opts BuildOptions) bool {
	if opts.SourceDateEpoch != nil {
		return true
	}

	_, ok := os.LookupEnv("SOURCE_DATE_EPOCH")
	return ok
}

// buildTimestamp resolves build.timestamp: opts.SourceDateEpoch takes
// priority, then $SOURCE_DATE_EPOCH, then the current time (§4.4
// determinism note).
func buildTimestamp(opts BuildOptions) int64 {
	if opts.SourceDateEpoch != nil {
		return *opts.SourceDateEpoch
	}

	if v := os.Getenv("SOURCE_DATE_EPOCH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}

	return time.Now().Unix()
}

