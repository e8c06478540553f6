// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package freelru wraps go-freelru.LRU with usage counters and a
// first-writer-wins insert.
//
// Like go-freelru.LRU it is not safe for concurrent use; callers guard it with their own lock.
package freelru // import "go.opentelemetry.io/ebpf-symbolizer/libpf/freelru"

import (
	"sync/atomic"

	lru "github.com/elastic/go-freelru"
)

// LRU is a go-freelru.LRU that counts its hits, misses, insertions and
// evictions.
type LRU[K comparable, V any] struct {
	lru *lru.LRU[K, V]

	hit     atomic.Uint64
	miss    atomic.Uint64
	added   atomic.Uint64
	evicted atomic.Uint64
}

type Statistics struct {
	// Hit counts lookups that found an entry.
	Hit uint64
	// Miss counts lookups that found nothing.
	Miss uint64
	// Added counts inserted entries.
	Added uint64
	// Evicted counts entries dropped for capacity or by Purge.
	Evicted uint64
}

func New[K comparable, V any](capacity uint32, hash lru.HashKeyCallback[K]) (*LRU[K, V], error) {
	cache, err := lru.New[K, V](capacity, hash)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{
		lru: cache,
	}, nil
}

func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	value, ok = c.lru.Get(key)
	if ok {
		c.hit.Add(1)
	} else {
		c.miss.Add(1)
	}
	return value, ok
}

// AddIfAbsent inserts value unless key is already present. It returns the
// value cached for key afterwards and whether it is the one passed in. The
// presence check is not counted as a lookup.
func (c *LRU[K, V]) AddIfAbsent(key K, value V) (V, bool) {
	if existing, ok := c.lru.Peek(key); ok {
		return existing, false
	}
	if c.lru.Add(key, value) {
		c.evicted.Add(1)
	}
	c.added.Add(1)
	return value, true
}

func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

func (c *LRU[K, V]) Purge() {
	c.evicted.Add(uint64(c.lru.Len()))
	c.lru.Purge()
}

// Statistics returns the counters accumulated since New.
func (c *LRU[K, V]) Statistics() Statistics {
	return Statistics{
		Hit:     c.hit.Load(),
		Miss:    c.miss.Load(),
		Added:   c.added.Load(),
		Evicted: c.evicted.Load(),
	}
}
