// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExtractResult describes the outcome of ensuring a package's workenv is
// materialized on disk (§4.7).
type ExtractResult struct {
	ContentRoot string
	FromCache   bool
	Warnings    []string
}

// EnsureExtracted validates an existing workenv against r's index, or runs
// the full atomic extraction sequence (§4.7) if the cache is missing,
// stale, or being built by a concurrent peer. A zero timeout uses
// DefaultLockTimeout.
func EnsureExtracted(ctx context.Context, r *Reader, paths *WorkenvPaths, tier ValidationTier, timeout time.Duration) (*ExtractResult, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	if ok, warnings, err := checkCacheValid(paths, r.Index(), tier); err == nil && ok {
		return &ExtractResult{ContentRoot: paths.ContentRoot(), FromCache: true, Warnings: warnings}, nil
	}

	acquired, err := AcquireLock(paths)
	if err != nil {
		return nil, fmt.Errorf("pspf: acquire extraction lock: %w", err)
	}

	if !acquired {
		if err := WaitForExtraction(paths, timeout); err != nil {
			return nil, err
		}

		if ok, warnings, err := checkCacheValid(paths, r.Index(), tier); err == nil && ok {
			return &ExtractResult{ContentRoot: paths.ContentRoot(), FromCache: true, Warnings: warnings}, nil
		}

		return nil, wrapKind(KindCacheInvalid, fmt.Errorf("%w: peer extraction left cache invalid", ErrCacheInvalid))
	}

	if err := runExtraction(ctx, r, paths); err != nil {
		_ = ReleaseLock(paths)
		return nil, err
	}

	if err := ReleaseLock(paths); err != nil {
		return nil, fmt.Errorf("pspf: release extraction lock: %w", err)
	}

	return &ExtractResult{ContentRoot: paths.ContentRoot()}, nil
}

// checkCacheValid reports whether the workenv's complete marker exists and
// its persisted checksum matches the current index's checksum.
func checkCacheValid(paths *WorkenvPaths, idx *Index, tier ValidationTier) (bool, []string, error) {
	if !IsExtractionComplete(paths) {
		return false, nil, nil
	}

	cached, err := os.ReadFile(paths.ChecksumPath())
	if err != nil {
		return false, nil, nil
	}

	return VerifyCachedChecksum(tier, strings.TrimSpace(string(cached)), idx.IndexChecksum)
}

// runExtraction performs the atomic extraction sequence of §4.7 steps 1–8.
func runExtraction(ctx context.Context, r *Reader, paths *WorkenvPaths) error {
	pid := os.Getpid()
	tmpDir := paths.TmpDir(pid)

	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return wrapKind(KindExtractionFailed, fmt.Errorf("create staging dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	meta := r.Metadata()

	// Self-ref slots appear in meta.Slots but have no descriptor table entry,
	// so descriptors are consumed with their own counter (as in SlotByID).
	var initTargets []string
	slots := r.Slots()
	descriptorIdx := 0
	for i := range meta.Slots {
		slotMeta := &meta.Slots[i]
		if slotMeta.SelfRef {
			continue
		}
		if descriptorIdx >= len(slots) {
			return wrapKind(KindSlotNotFound, fmt.Errorf("%w: %q", ErrSlotNotFound, slotMeta.ID))
		}
		slot := slots[descriptorIdx]
		descriptorIdx++

		if err := r.ExtractSlot(slot, slotMeta, tmpDir); err != nil {
			return err
		}

		if slotMeta.Lifecycle == LifecycleInit.String() {
			if target, err := normalizeExtractEntryPath(stripWorkenvPrefix(slotMeta.Target)); err == nil {
				initTargets = append(initTargets, target)
			}
		}
	}

	if err := writeMetadataSnapshot(paths, meta); err != nil {
		return err
	}

	sc := &SetupContext{
		Workenv:     paths.ContentRoot(),
		PackageName: meta.Package.Name,
		Version:     meta.Package.Version,
		Cwd:         tmpDir,
		Env:         os.Environ(),
	}

	if err := RunSetupCommands(ctx, meta.SetupCommands, sc); err != nil {
		return err
	}

	for _, target := range initTargets {
		_ = os.RemoveAll(filepath.Join(tmpDir, target))
	}

	if err := atomicMoveContents(tmpDir, paths.ContentRoot()); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	if err := rewriteShebangs(paths.ContentRoot(), tmpDir); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	return persistExtractionState(paths, r.Index())
}

// stripWorkenvPrefix removes a leading "{workenv}/" token from a slot
// target, matching ExtractSlot's own handling of the placeholder.
func stripWorkenvPrefix(target string) string {
	const prefix = "{workenv}/"
	if strings.HasPrefix(target, prefix) {
		return target[len(prefix):]
	}

	return target
}

func writeMetadataSnapshot(paths *WorkenvPaths, meta *Metadata) error {
	if err := os.MkdirAll(filepath.Dir(paths.MetadataSnapshotPath()), 0o700); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return wrapKind(KindExtractionFailed, fmt.Errorf("marshal metadata snapshot: %w", err))
	}

	if err := os.WriteFile(paths.MetadataSnapshotPath(), data, 0o600); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	return nil
}

// atomicMoveContents moves every top-level entry of src into dst, removing
// any pre-existing target and falling back to copy+delete across
// filesystem boundaries where rename fails.
func atomicMoveContents(src, dst string) error {
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		_ = os.RemoveAll(dstPath)

		if err := os.Rename(srcPath, dstPath); err != nil {
			if err := copyTree(srcPath, dstPath); err != nil {
				return fmt.Errorf("move %s: %w", entry.Name(), err)
			}
			_ = os.RemoveAll(srcPath)
		}
	}

	return nil
}

func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return err
		}

		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}

		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	bufPtr := copyBufferPool.Get().(*[]byte)
	defer copyBufferPool.Put(bufPtr)

	_, err = io.CopyBuffer(out, in, *bufPtr)
	return err
}

// rewriteShebangs rewrites the shebang line of every file under
// <contentRoot>/bin, replacing the staging directory's path prefix with the
// final content root path (§4.7 step 7).
func rewriteShebangs(contentRoot, staleTmpDir string) error {
	binDir := filepath.Join(contentRoot, "bin")

	entries, err := os.ReadDir(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(binDir, entry.Name())
		if err := rewriteShebangFile(path, staleTmpDir, contentRoot); err != nil {
			return err
		}
	}

	return nil
}

func rewriteShebangFile(path, oldPrefix, newPrefix string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	firstLine, err := reader.ReadString('\n')
	rest, readErr := io.ReadAll(reader)
	_ = f.Close()
	if err != nil && err != io.EOF {
		return err
	}
	if readErr != nil {
		return readErr
	}

	if !strings.HasPrefix(firstLine, "#!") || !strings.Contains(firstLine, oldPrefix) {
		return nil
	}

	rewritten := strings.ReplaceAll(firstLine, oldPrefix, newPrefix)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(rewritten)
	buf.Write(rest)

	return os.WriteFile(path, buf.Bytes(), info.Mode())
}

// persistExtractionState writes index.json, package.checksum, and the
// completion marker (§4.7 step 8). The caller releases the lock afterward.
func persistExtractionState(paths *WorkenvPaths, idx *Index) error {
	if err := os.MkdirAll(filepath.Dir(paths.IndexSnapshotPath()), 0o700); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	snapshot := struct {
		FormatVersion  uint32 `json:"format_version"`
		PackageSize    uint64 `json:"package_size"`
		SlotCount      uint32 `json:"slot_count"`
		MetadataOffset uint64 `json:"metadata_offset"`
	}{
		FormatVersion:  idx.FormatVersion,
		PackageSize:    idx.PackageSize,
		SlotCount:      idx.SlotCount,
		MetadataOffset: idx.MetadataOffset,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	if err := os.WriteFile(paths.IndexSnapshotPath(), data, 0o600); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	if err := os.WriteFile(paths.ChecksumPath(), []byte(fmt.Sprintf("%08x", idx.IndexChecksum)), 0o600); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	if err := MarkExtractionComplete(paths); err != nil {
		return wrapKind(KindExtractionFailed, err)
	}

	return nil
}
