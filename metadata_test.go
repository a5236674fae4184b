// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"bytes"
	"errors"
	"testing"
)

func sampleMetadata() *Metadata {
	return &Metadata{
		Format:        "pspf",
		FormatVersion: "0x20250001",
		Package:       PackageInfo{Name: "demo", Version: "1.0.0"},
		Slots: []SlotMeta{
			{Index: 0, ID: "runtime", Target: "bin/runtime", Operations: "gzip", Purpose: "runtime", Lifecycle: "cache"},
			{Index: 1, ID: "assets", Target: "assets.tar", Operations: "tgz", Purpose: "data", Lifecycle: "runtime"},
		},
		Execution: ExecutionInfo{Command: "{workenv}/bin/runtime"},
	}
}

func TestEncodeDecodeMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	m := sampleMetadata()
	uncompressed, compressed, err := EncodeMetadata(m)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	if len(uncompressed) == 0 || len(compressed) == 0 {
		t.Fatal("EncodeMetadata returned empty output")
	}

	checksum := hashCompressed(compressed)

	got, gotUncompressed, err := DecodeMetadata(compressed, checksum)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if got.Package.Name != m.Package.Name {
		t.Fatalf("Package.Name = %q, want %q", got.Package.Name, m.Package.Name)
	}
	if len(got.Slots) != len(m.Slots) {
		t.Fatalf("Slots len = %d, want %d", len(got.Slots), len(m.Slots))
	}
	if string(gotUncompressed) != string(uncompressed) {
		t.Fatal("DecodeMetadata's uncompressed bytes did not match EncodeMetadata's")
	}
}

func TestDecodeMetadataChecksumMismatch(t *testing.T) {
	t.Parallel()

	m := sampleMetadata()
	_, compressed, err := EncodeMetadata(m)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}

	var wrongChecksum [32]byte
	wrongChecksum[0] = 0xFF

	_, _, err = DecodeMetadata(compressed, wrongChecksum)
	if !errors.Is(err, ErrMetadataChecksumMismatch) {
		t.Fatalf("DecodeMetadata err = %v, want ErrMetadataChecksumMismatch", err)
	}
}

func TestDecodeMetadataCorruptGzip(t *testing.T) {
	t.Parallel()

	garbage := []byte("not gzip data")
	checksum := hashCompressed(garbage)

	_, _, err := DecodeMetadata(garbage, checksum)
	if !errors.Is(err, ErrMetadataCorrupt) {
		t.Fatalf("DecodeMetadata err = %v, want ErrMetadataCorrupt", err)
	}
}

func TestDecodeMetadataRejectsMisindexedSlots(t *testing.T) {
	t.Parallel()

	m := sampleMetadata()
	m.Slots[1].Index = 5 // no longer matches its array position

	_, compressed, err := EncodeMetadata(m)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}

	checksum := hashCompressed(compressed)

	_, _, err = DecodeMetadata(compressed, checksum)
	if !errors.Is(err, ErrMetadataCorrupt) {
		t.Fatalf("DecodeMetadata err = %v, want ErrMetadataCorrupt for a misindexed slot", err)
	}
}

// hashCompressed is the SHA-256 of compressed metadata bytes, matching what
// the builder stores as Index.MetadataChecksum.
func hashCompressed(data []byte) [32]byte {
	sum, err := hashReaderSHA256(bytes.NewReader(data))
	if err != nil {
		panic(err)
	}

	return sum
}
