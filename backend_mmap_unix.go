// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

//go:build unix

package pspf

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapBackend serves reads from a memory-mapped view of the whole file, for
// files over MmapThreshold on POSIX platforms.
type mmapBackend struct {
	f    *os.File
	data []byte
}

func newMmapBackend(f *os.File, size int64) (*mmapBackend, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	return &mmapBackend{f: f, data: data}, nil
}

func (b *mmapBackend) ReadAt(off, length int64) ([]byte, error) {
	if off < 0 || length < 0 || off+length > int64(len(b.data)) {
		return nil, ErrInvalidExtractPath
	}

	out := make([]byte, length)
	copy(out, b.data[off:off+length])

	return out, nil
}

func (b *mmapBackend) ReadSlot(d *SlotDescriptor) ([]byte, error) {
	return b.ReadAt(int64(d.Offset), int64(d.Size))
}

func (b *mmapBackend) Size() int64 { return int64(len(b.data)) }

func (b *mmapBackend) Close() error {
	if err := unix.Munmap(b.data); err != nil {
		return err
	}

	return b.f.Close()
}
