// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport // import "go.opentelemetry.io/ebpf-symbolizer/testsupport"

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
)

type memoryRegion struct {
	addr uint64
	data []byte
}

// FakeMemory emulates the address space of a process. Reads are served from
// byte slices placed at fixed addresses and may span adjacent regions.
type FakeMemory struct {
	mu      sync.Mutex
	regions []memoryRegion
	reads   int
}

// Map places data at addr.
func (m *FakeMemory) Map(addr uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions, memoryRegion{addr: addr, data: data})
	slices.SortFunc(m.regions, func(a, b memoryRegion) int {
		switch {
		case a.addr < b.addr:
			return -1
		case a.addr > b.addr:
			return 1
		}
		return 0
	})
}

// Reads returns the number of ReadAt calls served so far.
func (m *FakeMemory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// ReadAt implements io.ReaderAt over the fake address space.
func (m *FakeMemory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	addr := uint64(off)
	n := 0
	for _, r := range m.regions {
		if n == len(p) {
			break
		}
		end := r.addr + uint64(len(r.data))
		if addr < r.addr || addr >= end {
			continue
		}
		c := copy(p[n:], r.data[addr-r.addr:])
		n += c
		addr += uint64(c)
	}
	if n == 0 && len(p) != 0 {
		return 0, fmt.Errorf("address 0x%x is not mapped", uint64(off))
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// CountingOpener opens files from the file system and counts the opens per
// path.
type CountingOpener struct {
	// FailAfter, if non-zero, makes every open of a path after the first
	// FailAfter ones fail.
	FailAfter int

	mu    sync.Mutex
	opens map[string]int
}

// Open implements memview.FileOpener.
func (o *CountingOpener) Open(path string) (*os.File, error) {
	o.mu.Lock()
	if o.opens == nil {
		o.opens = make(map[string]int)
	}
	o.opens[path]++
	n := o.opens[path]
	o.mu.Unlock()
	if o.FailAfter != 0 && n > o.FailAfter {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrPermission}
	}
	return os.Open(path)
}

// Opens returns how often path was opened.
func (o *CountingOpener) Opens(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[path]
}

// Total returns the number of opens across all paths.
func (o *CountingOpener) Total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, n := range o.opens {
		total += n
	}
	return total
}
