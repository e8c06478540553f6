// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"

import (
	"debug/elf"
	"fmt"
	"unsafe"

	"go.opentelemetry.io/ebpf-symbolizer/libpf"
)

// SymbolFilter decides whether a symbol table entry is kept.
type SymbolFilter func(sym *elf.Sym64) bool

// AllSymbols keeps every named symbol.
func AllSymbols(*elf.Sym64) bool { return true }

// FunctionSymbols keeps defined functions with a non-zero size.
func FunctionSymbols(sym *elf.Sym64) bool {
	return elf.ST_TYPE(sym.Info) == elf.STT_FUNC &&
		sym.Size != 0 &&
		elf.SectionIndex(sym.Shndx) != elf.SHN_UNDEF
}

// symbolsFromTable decodes the raw contents of a symbol table section.
func symbolsFromTable(syms, strs []byte, keep SymbolFilter) *libpf.SymbolMap {
	symSz := int(unsafe.Sizeof(elf.Sym64{}))
	symMap := libpf.NewSymbolMap(len(syms) / symSz)
	for i := 0; i+symSz <= len(syms); i += symSz {
		sym := (*elf.Sym64)(unsafe.Pointer(&syms[i]))
		if !keep(sym) {
			continue
		}
		name, ok := getString(strs, int(sym.Name))
		if !ok || name == "" {
			continue
		}
		symMap.Add(libpf.Symbol{
			Name:    libpf.SymbolName(name),
			Address: libpf.SymbolValue(sym.Value),
			Size:    sym.Size,
		})
	}
	symMap.Finalize()
	return symMap
}

// loadSymbolTable reads given symbol table
func (f *File) loadSymbolTable(name string, keep SymbolFilter) (*libpf.SymbolMap, error) {
	symTab := f.Section(name)
	if symTab == nil {
		return nil, fmt.Errorf("failed to read %v: %w", name, ErrNoSymbols)
	}
	if symTab.Link >= uint32(len(f.Sections)) {
		return nil, fmt.Errorf("failed to read %v strtab: link %v out of range",
			name, symTab.Link)
	}
	strTab := &f.Sections[symTab.Link]
	strs, err := strTab.Data(maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %v", strTab.Name, err)
	}
	syms, err := symTab.Data(maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %v", name, err)
	}
	return symbolsFromTable(syms, strs, keep), nil
}

// ReadSymbols reads the full symbol table from the ELF
func (f *File) ReadSymbols(keep SymbolFilter) (*libpf.SymbolMap, error) {
	return f.loadSymbolTable(".symtab", keep)
}

// ReadDynamicSymbols reads the full dynamic symbol table from the ELF
func (f *File) ReadDynamicSymbols(keep SymbolFilter) (*libpf.SymbolMap, error) {
	return f.loadSymbolTable(".dynsym", keep)
}

// ReadDynamicTableSymbols reads the symbol table referenced by the
// PT_DYNAMIC segment. It works on images without section headers, such as
// an object reconstructed from process memory. The number of symbols is
// derived from the DT_HASH or DT_GNU_HASH tables.
func (f *File) ReadDynamicTableSymbols(keep SymbolFilter) (*libpf.SymbolMap, error) {
	if f.symbolsAddr == 0 || f.stringsAddr == 0 || f.stringsSize <= 0 {
		return nil, fmt.Errorf("dynamic symbol table: %w", ErrNoSymbols)
	}
	if f.stringsSize > maxBytesLargeSection {
		return nil, fmt.Errorf("dynamic string table too big (%d bytes)", f.stringsSize)
	}
	count, err := f.dynamicSymbolCount()
	if err != nil {
		return nil, err
	}
	symSz := uint64(unsafe.Sizeof(elf.Sym64{}))
	if uint64(count)*symSz > maxBytesLargeSection {
		return nil, fmt.Errorf("dynamic symbol table too big (%d symbols)", count)
	}

	strs := make([]byte, f.stringsSize)
	if _, err = f.ReadVirtualMemory(strs, f.stringsAddr); err != nil {
		return nil, fmt.Errorf("failed to read dynamic string table: %w", err)
	}
	syms := make([]byte, uint64(count)*symSz)
	if _, err = f.ReadVirtualMemory(syms, f.symbolsAddr); err != nil {
		return nil, fmt.Errorf("failed to read dynamic symbol table: %w", err)
	}
	return symbolsFromTable(syms, strs, keep), nil
}

// dynamicSymbolCount returns the number of entries in the dynamic symbol
// table. DT_HASH stores it directly. For DT_GNU_HASH it is one past the
// highest symbol index reachable from the buckets.
func (f *File) dynamicSymbolCount() (uint32, error) {
	if f.sysvHash.addr != 0 {
		if err := f.loadSysvHashHeader(); err != nil {
			return 0, err
		}
		return f.sysvHash.header.numSymbols, nil
	}
	if f.gnuHash.addr == 0 {
		return 0, fmt.Errorf("symbol hash: %w", ErrNoSymbols)
	}
	if err := f.loadGNUHashHeader(); err != nil {
		return 0, err
	}
	hdr := &f.gnuHash.header

	buckets := make([]uint32, hdr.numBuckets)
	offs := f.gnuHash.addr + int64(unsafe.Sizeof(gnuHashHeader{})) + 8*int64(hdr.bloomSize)
	if _, err := f.ReadVirtualMemory(libpf.SliceOf(buckets), offs); err != nil {
		return 0, err
	}
	last := uint32(0)
	for _, b := range buckets {
		last = max(last, b)
	}
	if last < hdr.symbolOffset {
		return hdr.symbolOffset, nil
	}

	// Walk the chain of the last bucket until its terminating entry.
	chain := offs + 4*int64(hdr.numBuckets)
	for {
		var h uint32
		if _, err := f.ReadVirtualMemory(libpf.SliceFrom(&h),
			chain+4*int64(last-hdr.symbolOffset)); err != nil {
			return 0, err
		}
		last++
		if h&1 != 0 {
			return last, nil
		}
	}
}
