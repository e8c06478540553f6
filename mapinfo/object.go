// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo // import "go.opentelemetry.io/ebpf-symbolizer/mapinfo"

import (
	"debug/elf"
	"io"

	"go.opentelemetry.io/ebpf-symbolizer/internal/log"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
)

// ResolveObject returns the object backing the mapping, building it on the
// first call. The object is built at most once per mapping, concurrent
// callers wait for it. A mapping that cannot be resolved gets an invalid
// object, which is kept and never retried. Objects of another architecture
// than expectedMachine are invalidated.
//
// processMemory is used when the backing file is not available and may be
// nil.
func (mi *MapInfo) ResolveObject(processMemory io.ReaderAt, expectedMachine elf.Machine) objectfile.Object {
	fields := mi.objectFields()
	if obj := fields.object.Get(); obj != nil {
		return *obj
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if obj := fields.object.Get(); obj != nil {
		return *obj
	}

	obj, cached := mi.buildObject(processMemory, expectedMachine)
	if !cached && obj.Valid() {
		obj = mi.shareWithPrevious(obj)
	}
	p, _ := fields.object.Publish(obj)
	return *p
}

// buildObject constructs the object, or takes it from the object cache.
// Called with mi.mu held.
func (mi *MapInfo) buildObject(processMemory io.ReaderAt,
	expectedMachine elf.Machine) (obj objectfile.Object, cached bool) {
	cache := mi.maps.cfg.Cache
	var key cacheKey
	if cache != nil {
		id, err := mi.FileID()
		if err != nil {
			log.Debugf("Not caching object of %s: %v", mi.name, err)
			cache = nil
		} else {
			key = cacheKey{fileID: id, offset: mi.offset}
		}
	}

	if cache != nil {
		if entry, ok := cache.lookup(key); ok {
			mi.objectOffset.Store(entry.objectOffset)
			mi.objectStartOffset.Store(entry.startOffset)
			mi.memoryBacked.Store(false)
			return entry.object, true
		}
	}

	l := mi.createMemory(processMemory)
	mi.apply(&l)

	if cache != nil && !l.memoryBacked && l.startOffset != mi.offset {
		// The mapping holding the start of the object may have built it.
		startKey := cacheKey{fileID: key.fileID, offset: l.startOffset}
		if entry, ok := cache.lookup(startKey); ok {
			l.close()
			entry.objectOffset = l.objectOffset
			entry.startOffset = l.startOffset
			shared, _ := cache.publish(key, entry)
			return shared.object, true
		}
	}

	obj = mi.maps.cfg.NewObject(l.view)
	if !obj.Init() {
		log.Debugf("No valid object for %s at 0x%x", mi.name, mi.offset)
	} else if obj.Machine() != expectedMachine {
		log.Debugf("Object of %s is for %v, expected %v", mi.name, obj.Machine(), expectedMachine)
		obj.Invalidate()
	}
	if !obj.Valid() {
		l.startOffset = mi.offset
		mi.objectStartOffset.Store(mi.offset)
	}

	if cache == nil || l.memoryBacked {
		return obj, false
	}
	entry := cacheEntry{
		object:       obj,
		objectOffset: l.objectOffset,
		startOffset:  l.startOffset,
	}
	// adopted: another object is returned. stored: obj is in the cache and
	// its view must stay open.
	adopted, stored := false, false
	if l.startOffset != mi.offset {
		// The mapping holding the start of the object finds it under its own
		// offset, whichever half of the object is resolved first.
		startKey := cacheKey{fileID: key.fileID, offset: l.startOffset}
		var start cacheEntry
		start, stored = cache.publish(startKey, cacheEntry{
			object:      obj,
			startOffset: l.startOffset,
		})
		if !stored {
			entry.object = start.object
			adopted = true
		}
	}
	if shared, ok := cache.publish(key, entry); !ok {
		entry = shared
		adopted = true
	}
	if !adopted {
		return obj, false
	}
	log.Debugf("Adopting cached object of %s at 0x%x", mi.name, mi.offset)
	if !stored {
		l.close()
	}
	mi.objectOffset.Store(entry.objectOffset)
	mi.objectStartOffset.Store(entry.startOffset)
	return entry.object, true
}

// shareWithPrevious makes the read-only and the executable mapping of a split
// object use the same object. If the preceding mapping has no object yet, obj
// is installed there, otherwise its object replaces obj. Called with mi.mu
// held, and takes the lock of the preceding mapping.
func (mi *MapInfo) shareWithPrevious(obj objectfile.Object) objectfile.Object {
	start := mi.objectStartOffset.Load()
	prev := mi.PrevRealMap()
	if prev == nil || start == mi.offset || prev.offset != start || prev.name != mi.name {
		return obj
	}

	prev.mu.Lock()
	defer prev.mu.Unlock()
	prevFields := prev.objectFields()
	installed, stored := prevFields.object.Publish(obj)
	if stored {
		prev.objectStartOffset.Store(start)
		prev.memoryBacked.Store(mi.memoryBacked.Load())
		return obj
	}
	log.Debugf("Using object of preceding mapping for %s at 0x%x", mi.name, mi.offset)
	return *installed
}
