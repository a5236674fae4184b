// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

/*
Package pspf reads, verifies, builds, and launches PSPF/2025 packages: a
single-file container that bundles a native launcher binary with compressed
metadata and a table of addressable payload slots, terminated by a fixed
8200-byte trailer so the format stays detectable even after the host OS
strips the Mach-O/PE/ELF load commands pointing at it.

# Reading

Open a package and inspect its trailer-discovered index and metadata:

	r, err := pspf.OpenReader("app.pspf", pspf.ValidationStandard)
	if err != nil {
	    return err
	}
	defer r.Close()

	for _, meta := range r.Metadata().Slots {
	    _, slotMeta, err := r.SlotByID(meta.ID)
	    if err != nil {
	        continue
	    }
	    _ = slotMeta.Target
	}

Warnings accumulated by a relaxed validation tier are available without
failing the open:

	for _, w := range r.Warnings() {
	    log.Print(w)
	}

# Extracting

Read one slot's payload with its operation chain already reversed
(gzip inflated; a tar slot comes back as its raw ustar stream):

	data, err := r.ReadSlotPayload(slot)
	if err != nil {
	    return err
	}

Or materialize it directly under a workenv content root:

	if err := r.ExtractSlot(slot, meta, workenvRoot); err != nil {
	    return err
	}

# Launching

A full launch composes the workenv cache paths, the extraction lock, slot
materialization, declarative setup commands, and environment composition:

	res, err := pspf.Launch(ctx, "app.pspf", pspf.LaunchOptions{
	    ValidationTier: pspf.ValidationStandard,
	})
	if err != nil {
	    os.Exit(pspf.ExitCode(err))
	}
	_ = res.ExitCode

# Building

Construct a package from a manifest describing the launcher and its slots:

	manifest, err := pspf.ParseManifest(manifestJSON)
	if err != nil {
	    return err
	}
	if _, err := pspf.BuildPackage(ctx, "app.pspf", manifest, pspf.BuildOptions{
	    Launcher: launcherBytes,
	    Keys:     keyPair,
	}); err != nil {
	    return err
	}

# Validation tiers

ValidationTier gates which checks are fatal versus advisory. The metadata
checksum is always fatal regardless of tier; index checksum, signature, and
cached-checksum mismatches are gated by tier (none/minimal/relaxed/standard/strict).
*/
package pspf
