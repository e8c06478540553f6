// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package mapinfo resolves the binary object behind a memory mapping of a
// process and answers symbol, load bias and build ID queries for it.
//
// A snapshot of the mappings of one process is a Maps. Each MapInfo in it
// resolves its object lazily and at most once, recombining binaries that
// the loader split over two adjacent mappings, and optionally sharing
// objects with other mappings through an ObjectCache.
package mapinfo // import "go.opentelemetry.io/ebpf-symbolizer/mapinfo"

import (
	"debug/elf"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/ebpf-symbolizer/libpf"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/xsync"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
)

var errNoBackingFile = errors.New("mapping has no backing file")

// objectFields holds the lazily computed state of a mapping. It is only
// allocated for mappings that are queried.
type objectFields struct {
	object   xsync.Cell[objectfile.Object]
	loadBias xsync.Cell[int64]
	buildID  xsync.Cell[string]
}

// MapInfo is one mapping of a process snapshot.
//
// The geometry is immutable. The object, load bias and build ID are each
// published once and never change afterwards. All methods are safe for
// concurrent use.
type MapInfo struct {
	maps *Maps
	// Indices into maps of the neighbouring real mappings, -1 if none.
	prevReal int
	nextReal int

	start     uint64
	end       uint64
	offset    uint64
	flags     elf.ProgFlag
	name      string
	deviceMap bool
	anonymous bool

	objectOffset      atomic.Uint64
	objectStartOffset atomic.Uint64
	memoryBacked      atomic.Bool

	// mu serializes object construction for this mapping.
	mu     sync.Mutex
	fields xsync.Cell[objectFields]
}

func newMapInfo(ms *Maps, desc *Descriptor) *MapInfo {
	return &MapInfo{
		maps:      ms,
		prevReal:  -1,
		nextReal:  -1,
		start:     desc.Start,
		end:       desc.End,
		offset:    desc.Offset,
		flags:     desc.Flags,
		name:      desc.Path,
		deviceMap: desc.DeviceMap,
		anonymous: desc.Anonymous || desc.Path == "",
	}
}

func (mi *MapInfo) isReal() bool {
	return mi.end > mi.start && !mi.anonymous
}

func (mi *MapInfo) objectFields() *objectFields {
	return mi.fields.GetOrPublish(func() *objectFields {
		return &objectFields{}
	})
}

// Start is the first address of the mapping.
func (mi *MapInfo) Start() uint64 {
	return mi.start
}

// End is the first address after the mapping.
func (mi *MapInfo) End() uint64 {
	return mi.end
}

// Offset is the file offset mapped at Start.
func (mi *MapInfo) Offset() uint64 {
	return mi.offset
}

// Flags are the access permissions of the mapping.
func (mi *MapInfo) Flags() elf.ProgFlag {
	return mi.flags
}

// Name is the path of the backing file or the name of a special mapping.
// It is empty for anonymous memory.
func (mi *MapInfo) Name() string {
	return mi.name
}

// IsDeviceMap reports whether the mapping maps a device. Device mappings
// are never read.
func (mi *MapInfo) IsDeviceMap() bool {
	return mi.deviceMap
}

// FileID returns the content hash of the backing file. It is computed once
// per path and snapshot.
func (mi *MapInfo) FileID() (libpf.FileID, error) {
	if mi.anonymous || mi.deviceMap {
		return libpf.FileID{}, errNoBackingFile
	}
	return mi.maps.fileID(mi.name)
}

// PrevRealMap returns the closest preceding mapping that is neither empty
// nor anonymous.
func (mi *MapInfo) PrevRealMap() *MapInfo {
	return mi.maps.at(mi.prevReal)
}

// NextRealMap returns the closest following mapping that is neither empty
// nor anonymous.
func (mi *MapInfo) NextRealMap() *MapInfo {
	return mi.maps.at(mi.nextReal)
}

// ObjectOffset is the offset into the object that corresponds to Offset.
func (mi *MapInfo) ObjectOffset() uint64 {
	return mi.objectOffset.Load()
}

// ObjectStartOffset is the file offset at which the object starts.
func (mi *MapInfo) ObjectStartOffset() uint64 {
	return mi.objectStartOffset.Load()
}

// MemoryBackedObject reports whether the object was read from process
// memory instead of the backing file.
func (mi *MapInfo) MemoryBackedObject() bool {
	return mi.memoryBacked.Load()
}

// Object returns the resolved object without resolving it, or nil.
func (mi *MapInfo) Object() objectfile.Object {
	f := mi.fields.Get()
	if f == nil {
		return nil
	}
	if obj := f.object.Get(); obj != nil {
		return *obj
	}
	return nil
}
