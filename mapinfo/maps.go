// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo // import "go.opentelemetry.io/ebpf-symbolizer/mapinfo"

import (
	"cmp"
	"debug/elf"
	"io"
	"slices"
	"sort"

	"go.opentelemetry.io/ebpf-symbolizer/internal/log"
	"go.opentelemetry.io/ebpf-symbolizer/libpf"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/xsync"
	"go.opentelemetry.io/ebpf-symbolizer/memview"
	"go.opentelemetry.io/ebpf-symbolizer/process"
)

// Descriptor describes one mapping of a process.
type Descriptor struct {
	Start  uint64
	End    uint64
	Offset uint64
	Flags  elf.ProgFlag
	Path   string
	Device uint64
	Inode  uint64
	// DeviceMap marks mappings of device files, which are never read.
	DeviceMap bool
	// Anonymous marks named mappings without a file, such as memfd. They
	// are never neighbours of a split object.
	Anonymous bool
}

// DescriptorsFromMappings converts the mappings read from /proc.
func DescriptorsFromMappings(mappings []process.Mapping) []Descriptor {
	descs := make([]Descriptor, 0, len(mappings))
	for i := range mappings {
		m := &mappings[i]
		descs = append(descs, Descriptor{
			Start:     m.Vaddr,
			End:       m.End(),
			Offset:    m.FileOffset,
			Flags:     m.Flags,
			Path:      m.Path,
			Device:    m.Device,
			Inode:     m.Inode,
			DeviceMap: m.IsDevice(),
			Anonymous: m.IsAnonymous(),
		})
	}
	return descs
}

// Maps is a snapshot of the mappings of one process, ordered by address.
// It owns its MapInfo instances, which refer to their neighbours by index.
type Maps struct {
	cfg  Config
	maps []*MapInfo

	// fileIDs memoizes the content hash of the backing files, keyed by path.
	fileIDs xsync.RWMutex[map[string]libpf.FileID]
}

// NewMaps creates a snapshot from descs.
func NewMaps(cfg Config, descs []Descriptor) (*Maps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	descs = slices.Clone(descs)
	slices.SortStableFunc(descs, func(a, b Descriptor) int {
		return cmp.Compare(a.Start, b.Start)
	})

	ms := &Maps{
		cfg:     cfg.withDefaults(),
		maps:    make([]*MapInfo, len(descs)),
		fileIDs: xsync.NewRWMutex(make(map[string]libpf.FileID)),
	}
	for i := range descs {
		ms.maps[i] = newMapInfo(ms, &descs[i])
	}
	ms.link()
	return ms, nil
}

// link computes the previous and next real mapping of every mapping. Empty
// and anonymous mappings never count as real neighbours.
func (ms *Maps) link() {
	prev := -1
	for i, mi := range ms.maps {
		mi.prevReal = prev
		if mi.isReal() {
			prev = i
		}
	}
	next := -1
	for i := len(ms.maps) - 1; i >= 0; i-- {
		mi := ms.maps[i]
		mi.nextReal = next
		if mi.isReal() {
			next = i
		}
	}
}

func (ms *Maps) at(idx int) *MapInfo {
	if idx < 0 {
		return nil
	}
	return ms.maps[idx]
}

// Len returns the number of mappings.
func (ms *Maps) Len() int {
	return len(ms.maps)
}

// Get returns the mapping at index idx in address order.
func (ms *Maps) Get(idx int) *MapInfo {
	return ms.maps[idx]
}

// All returns the mappings in address order.
func (ms *Maps) All() []*MapInfo {
	return slices.Clone(ms.maps)
}

// Find returns the mapping containing pc, or nil.
func (ms *Maps) Find(pc uint64) *MapInfo {
	idx := sort.Search(len(ms.maps), func(i int) bool {
		return ms.maps[i].end > pc
	})
	if idx < len(ms.maps) && ms.maps[idx].start <= pc {
		return ms.maps[idx]
	}
	return nil
}

// fileID returns the content hash of the file at path.
func (ms *Maps) fileID(path string) (libpf.FileID, error) {
	ids := ms.fileIDs.RLock()
	id, ok := (*ids)[path]
	ms.fileIDs.RUnlock(&ids)
	if ok {
		return id, nil
	}

	id, err := hashFile(ms.cfg.Opener, path)
	if err != nil {
		return libpf.FileID{}, err
	}
	ids = ms.fileIDs.WLock()
	(*ids)[path] = id
	ms.fileIDs.WUnlock(&ids)
	return id, nil
}

func hashFile(opener memview.FileOpener, path string) (libpf.FileID, error) {
	f, err := opener.Open(path)
	if err != nil {
		return libpf.FileID{}, err
	}
	defer f.Close()
	return libpf.FileIDFromExecutableReader(f)
}

// Frame is the result of symbolizing one address.
type Frame struct {
	PC uint64
	// RelPC is PC translated to the virtual address space of the object.
	RelPC uint64
	// Map is the mapping containing PC.
	Map *MapInfo
	// Function is empty if no symbol covers PC.
	Function       string
	FunctionOffset uint64
}

// Symbolize finds the mapping containing pc, resolves its object and looks
// up the function covering pc. It returns false if no mapping contains pc.
func (ms *Maps) Symbolize(pc uint64, processMemory io.ReaderAt, machine elf.Machine) (Frame, bool) {
	mi := ms.Find(pc)
	if mi == nil {
		return Frame{PC: pc}, false
	}
	frame := Frame{PC: pc, Map: mi}
	obj := mi.ResolveObject(processMemory, machine)
	if obj == nil || !obj.Valid() {
		return frame, true
	}
	frame.RelPC = mi.RelPC(pc, processMemory)
	name, offset, ok := mi.GetFunctionName(frame.RelPC)
	if !ok {
		log.Debugf("No symbol for 0x%x in %s", frame.RelPC, mi.name)
		return frame, true
	}
	frame.Function = name
	frame.FunctionOffset = offset
	return frame, true
}
