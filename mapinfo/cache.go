// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo // import "go.opentelemetry.io/ebpf-symbolizer/mapinfo"

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/ebpf-symbolizer/libpf"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/freelru"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/xsync"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
)

// cacheKey identifies an object by the contents of its file and the file
// offset of the mapping it was resolved for.
type cacheKey struct {
	fileID libpf.FileID
	offset uint64
}

func (k cacheKey) hash32() uint32 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], k.fileID.Hi())
	binary.LittleEndian.PutUint64(buf[8:], k.fileID.Lo())
	binary.LittleEndian.PutUint64(buf[16:], k.offset)
	return uint32(xxh3.Hash(buf[:]))
}

// cacheEntry is an object together with the offsets the mapping that
// created it computed for it.
type cacheEntry struct {
	object       objectfile.Object
	objectOffset uint64
	startOffset  uint64
}

// ObjectCache shares resolved objects between mappings of the same file,
// including mappings of different processes and snapshots. It is safe for
// concurrent use.
type ObjectCache struct {
	lru xsync.RWMutex[*freelru.LRU[cacheKey, cacheEntry]]
}

// NewObjectCache creates a cache holding up to size objects.
func NewObjectCache(size uint32) (*ObjectCache, error) {
	lru, err := freelru.New[cacheKey, cacheEntry](size, cacheKey.hash32)
	if err != nil {
		return nil, err
	}
	return &ObjectCache{lru: xsync.NewRWMutex(lru)}, nil
}

func (c *ObjectCache) lookup(key cacheKey) (cacheEntry, bool) {
	// Get updates the recency list, so it needs the write lock.
	lru := c.lru.WLock()
	defer c.lru.WUnlock(&lru)
	return (*lru).Get(key)
}

// publish stores entry unless the key is already present, and returns the
// entry that is cached for key afterwards.
func (c *ObjectCache) publish(key cacheKey, entry cacheEntry) (cacheEntry, bool) {
	lru := c.lru.WLock()
	defer c.lru.WUnlock(&lru)
	return (*lru).AddIfAbsent(key, entry)
}

// Len returns the number of cached objects.
func (c *ObjectCache) Len() int {
	lru := c.lru.RLock()
	defer c.lru.RUnlock(&lru)
	return (*lru).Len()
}

// Purge drops all cached objects. Mappings that already adopted an object
// keep it.
func (c *ObjectCache) Purge() {
	lru := c.lru.WLock()
	defer c.lru.WUnlock(&lru)
	(*lru).Purge()
}

// Statistics returns the usage counters of the cache.
func (c *ObjectCache) Statistics() freelru.Statistics {
	lru := c.lru.RLock()
	defer c.lru.RUnlock(&lru)
	return (*lru).Statistics()
}
