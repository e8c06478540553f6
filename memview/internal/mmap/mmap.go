// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package mmap is inspired by golang.org/x/exp/mmap with support for mapping
// a window of a file at an arbitrary offset.
package mmap // import "go.opentelemetry.io/ebpf-symbolizer/memview/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var pageMask = int64(os.Getpagesize()) - 1

// ReaderAt reads a memory-mapped window of a file.
//
// Like any io.ReaderAt, clients can execute parallel ReadAt calls, but it is
// not safe to call Close and reading methods concurrently.
type ReaderAt struct {
	// mapping is the page aligned region returned by mmap.
	mapping []byte
	// data is the requested window inside mapping.
	data []byte
}

// Close closes the reader.
func (r *ReaderAt) Close() error {
	if r.data == nil {
		return nil
	}
	mapping := r.mapping
	r.data = nil
	r.mapping = nil
	if len(mapping) == 0 {
		return nil
	}
	runtime.SetFinalizer(r, nil)
	return unix.Munmap(mapping)
}

// Len returns the length of the mapped window.
func (r *ReaderAt) Len() int {
	return len(r.data)
}

// ReadAt implements the io.ReaderAt interface.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, errors.New("mmap: closed")
	}
	if off < 0 || int64(len(r.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Map memory-maps length bytes of f starting at offset for reading. The
// offset need not be page aligned.
func Map(f *os.File, offset int64, length int) (*ReaderAt, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("mmap: invalid window %d+%d", offset, length)
	}
	if length == 0 {
		// "man 2 mmap" says "the length... must be greater than 0", so an
		// empty window needs neither the syscall nor a finalizer.
		return &ReaderAt{data: make([]byte, 0)}, nil
	}

	aligned := offset &^ pageMask
	delta := int(offset - aligned)
	mapping, err := unix.Mmap(int(f.Fd()), aligned, length+delta,
		unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, os.NewSyscallError("mmap", err)
	}
	r := &ReaderAt{
		mapping: mapping,
		data:    mapping[delta : delta+length],
	}

	runtime.SetFinalizer(r, (*ReaderAt).Close)
	return r, nil
}
