// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/ebpf-symbolizer/libpf"

import (
	"cmp"
	"slices"
	"strings"
)

// SymbolValue is the link time virtual address of a symbol.
type SymbolValue uint64

// SymbolName is the raw, possibly mangled, name of a symbol.
type SymbolName string

// Symbol is a named address range of an object.
type Symbol struct {
	Name    SymbolName
	Address SymbolValue
	Size    uint64
}

// SymbolMap maps addresses of one object back to the symbols containing
// them. Symbols are added with Add, then Finalize must be called once. The
// map is read-only afterwards and safe for concurrent lookups.
type SymbolMap struct {
	symbols []Symbol
}

func NewSymbolMap(capacity int) *SymbolMap {
	return &SymbolMap{
		symbols: make([]Symbol, 0, capacity),
	}
}

// Add a symbol to the map
func (symmap *SymbolMap) Add(s Symbol) {
	symmap.symbols = append(symmap.symbols, s)
}

// Finalize sorts the symbols by address. Of several aliases sharing an
// address only the largest one is kept, ties going to the smallest name.
func (symmap *SymbolMap) Finalize() {
	slices.SortFunc(symmap.symbols, func(a, b Symbol) int {
		if c := cmp.Compare(a.Address, b.Address); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return strings.Compare(string(a.Name), string(b.Name))
	})
	symmap.symbols = slices.Clip(slices.CompactFunc(symmap.symbols,
		func(a, b Symbol) bool {
			return a.Address == b.Address
		}))
}

// LookupByAddress returns the symbol containing val and the offset of val
// into it. A symbol without size extends up to the next symbol.
func (symmap *SymbolMap) LookupByAddress(val SymbolValue) (SymbolName, uint64, bool) {
	i, found := slices.BinarySearchFunc(symmap.symbols, val,
		func(s Symbol, v SymbolValue) int {
			return cmp.Compare(s.Address, v)
		})
	if !found {
		i--
	}
	if i < 0 {
		return "", 0, false
	}
	s := &symmap.symbols[i]
	offset := uint64(val - s.Address)
	if s.Size != 0 && offset >= s.Size {
		return "", 0, false
	}
	return s.Name, offset, true
}

// Len returns the number of elements in the map.
func (symmap *SymbolMap) Len() int {
	return len(symmap.symbols)
}
