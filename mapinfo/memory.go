// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo // import "go.opentelemetry.io/ebpf-symbolizer/mapinfo"

import (
	"debug/elf"
	"io"

	"go.opentelemetry.io/ebpf-symbolizer/internal/log"
	"go.opentelemetry.io/ebpf-symbolizer/memview"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
)

// layout is a memory view for the object of a mapping together with the
// offsets found while building it. It is applied to the mapping only when
// the object is resolved, so probing queries have no side effects.
type layout struct {
	view         memview.View
	objectOffset uint64
	startOffset  uint64
	memoryBacked bool
}

func (l *layout) close() {
	if l.view != nil {
		_ = l.view.Close()
	}
}

func (mi *MapInfo) apply(l *layout) {
	mi.objectOffset.Store(l.objectOffset)
	mi.objectStartOffset.Store(l.startOffset)
	mi.memoryBacked.Store(l.memoryBacked)
}

func (mi *MapInfo) openFile(offset, size uint64) memview.View {
	view, err := memview.OpenFile(mi.maps.cfg.Opener, mi.name, offset, size)
	if err != nil {
		log.Debugf("Failed to open %s at 0x%x: %v", mi.name, offset, err)
		return nil
	}
	return view
}

// createMemory builds the view of the object backing the mapping, from the
// backing file if possible and from process memory otherwise.
func (mi *MapInfo) createMemory(processMemory io.ReaderAt) layout {
	l := layout{startOffset: mi.objectStartOffset.Load()}
	if mi.end <= mi.start || mi.deviceMap {
		return l
	}

	if mi.name != "" {
		if mi.fileMemory(&l); l.view != nil {
			return l
		}
	}
	if processMemory == nil {
		return l
	}

	r, err := memview.NewRange(processMemory, mi.start, mi.end-mi.start, 0)
	if err != nil {
		return l
	}

	// Only part of the object may be mapped here. With the linker option
	// -z separate-code the headers live in a read-only mapping, and the
	// executable code in the following one.
	if objectfile.IsValidELF(r) {
		l.memoryBacked = true
		l.startOffset = mi.offset
		next := mi.NextRealMap()
		if mi.offset != 0 || mi.name == "" || next == nil ||
			mi.offset >= next.offset || next.name != mi.name {
			l.view = r
			return l
		}
		// The next mapping may already have built the same object. That is
		// rare enough to just redo the work.
		view, err := processRanges(processMemory, mi, 0, next, next.offset-mi.offset)
		if err != nil {
			log.Debugf("Failed to combine %s with the following mapping: %v", mi.name, err)
			view = r
		}
		l.view = view
		return l
	}

	prev := mi.PrevRealMap()
	if mi.offset == 0 || mi.name == "" || prev == nil ||
		prev.name != mi.name || prev.offset >= mi.offset {
		return l
	}
	view, err := processRanges(processMemory, prev, 0, mi, mi.offset-prev.offset)
	if err != nil {
		log.Debugf("Failed to combine %s with the preceding mapping: %v", mi.name, err)
		return l
	}
	// Relative PCs of this mapping need to be corrected by the distance to
	// the start of the object.
	l.objectOffset = mi.offset - prev.offset
	l.startOffset = prev.offset
	l.memoryBacked = true
	l.view = view
	return l
}

// processRanges presents the process memory of two mappings as one object
// image, with second placed secondOffset bytes after the start of first.
func processRanges(processMemory io.ReaderAt, first *MapInfo, firstOffset uint64,
	second *MapInfo, secondOffset uint64) (memview.View, error) {
	r1, err := memview.NewRange(processMemory, first.start, first.end-first.start, firstOffset)
	if err != nil {
		return nil, err
	}
	r2, err := memview.NewRange(processMemory, second.start, second.end-second.start,
		secondOffset)
	if err != nil {
		return nil, err
	}
	return memview.NewRanges(r1, r2)
}

// fileMemory maps the part of the backing file holding the object. For a
// non-zero offset the object is looked for, in order:
//   - embedded in the file, starting at the offset
//   - at the start of the file, with the offset pointing into it
//   - starting at the offset of the preceding read-only mapping
//
// If none of these is an object, the mapped range itself is used.
func (mi *MapInfo) fileMemory(l *layout) {
	if mi.offset == 0 {
		l.view = mi.openFile(0, 0)
		return
	}

	mapSize := mi.end - mi.start
	view := mi.openFile(mi.offset, mapSize)
	if view == nil {
		return
	}

	if maxSize, ok := objectfile.GetInfo(view); ok {
		l.startOffset = mi.offset
		// The loader maps only the loaded segments, never the section
		// headers and symbol tables after them.
		if maxSize > mapSize {
			if full := mi.openFile(mi.offset, maxSize); full != nil {
				_ = view.Close()
				view = full
			}
		}
		l.view = view
		return
	}

	if whole := mi.openFile(0, 0); whole != nil {
		if objectfile.IsValidELF(whole) {
			_ = view.Close()
			l.objectOffset = mi.offset
			// The executable half of a read-only/executable pair starts at
			// the read-only mapping.
			prev := mi.PrevRealMap()
			if prev == nil || prev.offset != 0 || prev.flags != elf.PF_R || prev.name != mi.name {
				l.startOffset = mi.offset
			}
			l.view = whole
			return
		}
		_ = whole.Close()
	}

	if mi.fileMemoryFromPreviousReadOnlyMap(l) {
		_ = view.Close()
		return
	}
	l.view = view
}

// fileMemoryFromPreviousReadOnlyMap maps the object if it starts in the
// preceding read-only mapping of the same file and stretches across this
// one.
func (mi *MapInfo) fileMemoryFromPreviousReadOnlyMap(l *layout) bool {
	prev := mi.PrevRealMap()
	if prev == nil || prev.flags != elf.PF_R || prev.name != mi.name ||
		prev.offset >= mi.offset || prev.end >= mi.end {
		return false
	}

	mapSize := mi.end - prev.end
	view := mi.openFile(prev.offset, mapSize)
	if view == nil {
		return false
	}
	maxSize, ok := objectfile.GetInfo(view)
	_ = view.Close()
	if !ok || maxSize < mapSize {
		return false
	}

	view = mi.openFile(prev.offset, maxSize)
	if view == nil {
		return false
	}
	l.objectOffset = mi.offset - prev.offset
	l.startOffset = prev.offset
	l.view = view
	return true
}
