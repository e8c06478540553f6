// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package objectfile // import "go.opentelemetry.io/ebpf-symbolizer/objectfile"

import (
	"debug/elf"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/ebpf-symbolizer/internal/log"
	"go.opentelemetry.io/ebpf-symbolizer/libpf"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/readatbuf"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/xsync"
	"go.opentelemetry.io/ebpf-symbolizer/memview"
)

const (
	// pageCacheSize and pageCacheCount size the read cache in front of the
	// view while headers and symbol tables are parsed.
	pageCacheSize  = 4096
	pageCacheCount = 16
)

// Option configures an ELF object.
type Option func(*ELF)

// WithDemangle demangles function names using mode.
func WithDemangle(mode DemangleMode) Option {
	return func(e *ELF) {
		e.demangle = mode
	}
}

// ELF is the Object implementation for ELF binaries.
type ELF struct {
	view     memview.View
	demangle DemangleMode

	valid   atomic.Bool
	machine elf.Machine
	bias    int64

	// mu serializes access to file, pfelf.File is not safe for concurrent use.
	mu   sync.Mutex
	file *pfelf.File

	symbols xsync.Once[libpf.SymbolMap]
	buildID xsync.Once[string]
}

var _ Object = &ELF{}

// NewELF creates an uninitialized ELF object over view.
func NewELF(view memview.View, opts ...Option) *ELF {
	e := &ELF{view: view}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ELFConstructor returns a Constructor creating ELF objects with opts.
func ELFConstructor(opts ...Option) Constructor {
	return func(view memview.View) Object {
		return NewELF(view, opts...)
	}
}

// Init implements Object. It must be called once, before any query.
func (e *ELF) Init() bool {
	if e.view == nil {
		return false
	}
	buffered, err := readatbuf.New(e.view, pageCacheSize, pageCacheCount)
	if err != nil {
		log.Debugf("Failed to create read cache: %v", err)
		return false
	}
	file, err := pfelf.NewFile(buffered)
	if err != nil {
		log.Debugf("Failed to parse ELF (%d bytes): %v", e.view.Size(), err)
		return false
	}

	e.file = file
	e.machine = file.Machine
	e.bias = file.LoadBias()
	e.valid.Store(true)
	return true
}

// Valid implements Object.
func (e *ELF) Valid() bool {
	return e.valid.Load()
}

// Invalidate implements Object.
func (e *ELF) Invalidate() {
	e.valid.Store(false)
}

// Machine implements Object.
func (e *ELF) Machine() elf.Machine {
	return e.machine
}

// LoadBias implements Object.
func (e *ELF) LoadBias() int64 {
	if !e.Valid() {
		return 0
	}
	return e.bias
}

// View implements Object.
func (e *ELF) View() memview.View {
	return e.view
}

// BuildID implements Object.
func (e *ELF) BuildID() string {
	if !e.Valid() {
		return ""
	}
	id, err := e.buildID.GetOrInit(func() (string, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		raw, err := e.file.GetBuildIDBytes()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})
	if err != nil {
		return ""
	}
	return *id
}

// FunctionName implements Object. Symbols are loaded on first use from
// .symtab, then .dynsym, then the dynamic symbol table referenced by
// PT_DYNAMIC.
func (e *ELF) FunctionName(vaddr uint64) (string, uint64, bool) {
	if !e.Valid() {
		return "", 0, false
	}
	symbols, err := e.symbols.GetOrInit(e.loadSymbols)
	if err != nil {
		return "", 0, false
	}
	name, offset, ok := symbols.LookupByAddress(libpf.SymbolValue(vaddr))
	if !ok {
		return "", 0, false
	}
	return e.demangle.Demangle(string(name)), uint64(offset), true
}

func (e *ELF) loadSymbols() (libpf.SymbolMap, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, read := range []func(pfelf.SymbolFilter) (*libpf.SymbolMap, error){
		e.file.ReadSymbols,
		e.file.ReadDynamicSymbols,
		e.file.ReadDynamicTableSymbols,
	} {
		symbols, err := read(pfelf.FunctionSymbols)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if symbols.Len() != 0 {
			return *symbols, nil
		}
	}
	err := errors.Join(errs...)
	log.Debugf("No function symbols found: %v", err)
	if err == nil {
		err = pfelf.ErrNoSymbols
	}
	return libpf.SymbolMap{}, err
}
