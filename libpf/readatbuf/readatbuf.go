// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package readatbuf adds a page cache in front of an io.ReaderAt.
//
// Object files are parsed through many small header and symbol table reads;
// serving those from whole cached pages keeps the number of reads against a
// memory view or a remote process low.
package readatbuf // import "go.opentelemetry.io/ebpf-symbolizer/libpf/readatbuf"

import (
	"errors"
	"fmt"
	"io"
	"sync"

	lru "github.com/elastic/go-freelru"

	"go.opentelemetry.io/ebpf-symbolizer/libpf/hash"
)

// page is a cached region of the underlying reader.
type page struct {
	data []byte
	// eof is set when the page was cut short by the end of the underlying data.
	eof bool
}

// Statistics contains statistics about cache efficiency.
type Statistics struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Reader implements buffering for random access reads via the io.ReaderAt
// interface. It is safe for concurrent use.
type Reader struct {
	inner    io.ReaderAt
	pageSize uint

	mu           sync.Mutex
	cache        *lru.LRU[uint, page]
	stats        Statistics
	sparePageBuf []byte
}

var _ io.ReaderAt = &Reader{}

// HashUInt is the cache key hash for page indices.
func HashUInt(v uint) uint32 {
	return hash.Uint64To32(uint64(v))
}

// New creates a new buffered reader. pageSize is the size of each cached
// region and cacheSize is the maximum number of pages kept.
func New(inner io.ReaderAt, pageSize, cacheSize uint) (*Reader, error) {
	if pageSize == 0 {
		return nil, errors.New("pageSize cannot be zero")
	}
	if cacheSize == 0 {
		return nil, errors.New("cacheSize cannot be zero")
	}

	reader := &Reader{
		inner:    inner,
		pageSize: pageSize,
	}

	cache, err := lru.New[uint, page](uint32(cacheSize), HashUInt)
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	cache.SetOnEvict(func(_ uint, evicted page) {
		reader.stats.Evictions++
		// EOF pages may have been truncated, but every buffer was allocated
		// with pageSize capacity and can be grown back.
		reader.sparePageBuf = evicted.data[:pageSize]
	})
	reader.cache = cache

	return reader, nil
}

// InvalidateCache drops all cached pages and resets the statistics.
func (reader *Reader) InvalidateCache() {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.cache.Purge()
	reader.stats = Statistics{}
}

// Statistics returns statistics about cache efficiency.
func (reader *Reader) Statistics() Statistics {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.stats
}

// ReadAt implements io.ReaderAt.
func (reader *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset value %d given", off)
	}

	// Large reads bypass the cache so a single section load does not evict
	// every cached header page.
	if uint(len(p)) > reader.pageSize*3/2 {
		return reader.inner.ReadAt(p, off)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()

	written := uint(0)
	remaining := uint(len(p))
	skip := uint(off) % reader.pageSize
	pageIdx := uint(off) / reader.pageSize

	for remaining > 0 {
		data, eof, err := reader.getOrReadPage(pageIdx)
		if err != nil {
			return int(written), err
		}
		if skip > uint(len(data)) {
			return int(written), io.EOF
		}

		n := min(remaining, uint(len(data))-skip)
		copy(p[written:][:n], data[skip:][:n])

		skip = 0
		pageIdx++
		written += n
		remaining -= n

		if eof {
			if remaining == 0 {
				break
			}
			return int(written), io.EOF
		}
	}

	return int(written), nil
}

// getOrReadPage must be called with reader.mu held.
func (reader *Reader) getOrReadPage(pageIdx uint) (data []byte, eof bool, err error) {
	if cached, ok := reader.cache.Get(pageIdx); ok {
		reader.stats.Hits++
		return cached.data, cached.eof, nil
	}
	reader.stats.Misses++

	buffer := reader.sparePageBuf
	reader.sparePageBuf = nil
	if buffer == nil {
		buffer = make([]byte, reader.pageSize)
	}

	n, err := reader.inner.ReadAt(buffer, int64(pageIdx*reader.pageSize))
	if err != nil {
		// Reading a whole page overshoots the caller's request, so EOF is
		// expected near the end of the data.
		if !errors.Is(err, io.EOF) {
			return nil, false, err
		}
		buffer = buffer[:n]
		eof = true
	}

	if !eof && uint(n) < reader.pageSize {
		return nil, false, errors.New("failed to read whole page")
	}

	reader.cache.Add(pageIdx, page{data: buffer, eof: eof})
	return buffer, eof, nil
}
