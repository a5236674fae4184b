// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Backend thresholds (§4.6); overridable so tests can exercise every
// implementation against small fixtures.
var (
	MmapThreshold     int64 = 1 << 20   // 1 MiB
	StreamingThreshold int64 = 100 << 20 // 100 MiB
	streamChunkSize          = 64 * 1024
)

// Backend is the uniform random-access interface over a package file,
// hiding whether reads are served by pread, mmap, or chunked streaming.
type Backend interface {
	ReadAt(off, length int64) ([]byte, error)
	ReadSlot(d *SlotDescriptor) ([]byte, error)
	Size() int64
	Close() error
}

// OpenBackend opens path and selects an implementation by file size:
// (a) plain pread-style file backend for small files, (b) mmap for files
// over MmapThreshold, (c) chunked streaming for files over
// StreamingThreshold, wrapped in all cases by a small LRU cache over
// (offset, length) reads of the hot index/descriptor region.
func OpenBackend(path string) (Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pspf: open backend: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("pspf: stat backend: %w", err)
	}

	size := info.Size()

	var backend Backend
	switch {
	case size > StreamingThreshold:
		backend = newStreamBackend(f, size)
	case size > MmapThreshold:
		mb, err := newMmapBackend(f, size)
		if err != nil {
			// Graceful degradation to the plain file backend, matching the
			// teacher's fall-back-on-failure style for optional fast paths.
			backend = newFileBackend(f, size)
		} else {
			backend = mb
		}
	default:
		backend = newFileBackend(f, size)
	}

	return newCachedBackend(backend), nil
}

// fileBackend is the plain pread-style backend used for small files and as
// a fallback when mmap is unavailable.
type fileBackend struct {
	f    *os.File
	size int64
	mu   sync.Mutex
}

func newFileBackend(f *os.File, size int64) *fileBackend {
	return &fileBackend{f: f, size: size}
}

func (b *fileBackend) ReadAt(off, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := b.f.ReadAt(buf, off); err != nil {
		return nil, err
	}

	return buf, nil
}

func (b *fileBackend) ReadSlot(d *SlotDescriptor) ([]byte, error) {
	return b.ReadAt(int64(d.Offset), int64(d.Size))
}

func (b *fileBackend) Size() int64 { return b.size }

func (b *fileBackend) Close() error { return b.f.Close() }

// streamBackend serves reads from chunked sequential reads for very large
// files, to avoid both full-file mmaps and unbounded random pread spans.
type streamBackend struct {
	f    *os.File
	size int64
	mu   sync.Mutex
}

func newStreamBackend(f *os.File, size int64) *streamBackend {
	return &streamBackend{f: f, size: size}
}

func (b *streamBackend) ReadAt(off, length int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, length)
	var read int64
	for read < length {
		chunk := int64(streamChunkSize)
		if remaining := length - read; remaining < chunk {
			chunk = remaining
		}

		n, err := b.f.ReadAt(buf[read:read+chunk], off+read)
		read += int64(n)
		if err != nil && !(err == io.EOF && read == length) {
			return nil, err
		}
	}

	return buf, nil
}

func (b *streamBackend) ReadSlot(d *SlotDescriptor) ([]byte, error) {
	return b.ReadAt(int64(d.Offset), int64(d.Size))
}

func (b *streamBackend) Size() int64 { return b.size }

func (b *streamBackend) Close() error { return b.f.Close() }

// cachedBackend wraps another Backend with a small LRU cache over
// (offset, length) reads, accelerating the repeated tiny reads of the index
// and descriptor table that happen during Reader.Open and slot listing.
type cachedBackend struct {
	inner Backend
	mu    sync.Mutex
	cache map[uint64][]byte
	order []uint64
}

const cachedBackendCapacity = 64

func newCachedBackend(inner Backend) *cachedBackend {
	return &cachedBackend{
		inner: inner,
		cache: make(map[uint64][]byte, cachedBackendCapacity),
	}
}

func cacheKey(off, length int64) uint64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(off >> (8 * i))
		buf[8+i] = byte(length >> (8 * i))
	}

	return xxhash.Sum64(buf[:])
}

func (b *cachedBackend) ReadAt(off, length int64) ([]byte, error) {
	key := cacheKey(off, length)

	b.mu.Lock()
	if cached, ok := b.cache[key]; ok {
		// Move the hit to the most-recently-used end of the eviction order.
		for i, k := range b.order {
			if k == key {
				b.order = append(append(b.order[:i:i], b.order[i+1:]...), key)
				break
			}
		}
		b.mu.Unlock()
		out := make([]byte, len(cached))
		copy(out, cached)
		return out, nil
	}
	b.mu.Unlock()

	data, err := b.inner.ReadAt(off, length)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if len(b.order) >= cachedBackendCapacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.cache, oldest)
	}
	b.cache[key] = data
	b.order = append(b.order, key)
	b.mu.Unlock()

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

func (b *cachedBackend) ReadSlot(d *SlotDescriptor) ([]byte, error) {
	return b.inner.ReadSlot(d)
}

func (b *cachedBackend) Size() int64 { return b.inner.Size() }

func (b *cachedBackend) Close() error { return b.inner.Close() }
