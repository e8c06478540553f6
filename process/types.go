// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file defines the interface to access a Process state.

package process // import "go.opentelemetry.io/ebpf-symbolizer/process"

import (
	"debug/elf"
	"io"
	"strings"

	"go.opentelemetry.io/ebpf-symbolizer/libpf"
	"go.opentelemetry.io/ebpf-symbolizer/memview"
	"go.opentelemetry.io/ebpf-symbolizer/remotememory"
)

// Mapping contains information about a memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr uint64
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start
	FileOffset uint64
	// Device holds the device ID where the file is located
	Device uint64
	// Inode holds the mapped file's inode number
	Inode uint64
	// Path contains the file name for file backed mappings, or the name of a
	// special mapping such as [vdso] or [heap].
	Path string
}

// End returns the first address after the mapping.
func (m *Mapping) End() uint64 {
	return m.Vaddr + m.Length
}

// IsAnonymous reports whether the mapping has no backing file that could be
// opened by path. memfd mappings are named but have no such file.
func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

// IsDevice reports whether the mapping maps a device file. Reading such a
// mapping can have side effects, so nothing is ever read from it. Android
// shared memory is an exception as it behaves like a regular file.
func (m *Mapping) IsDevice() bool {
	return strings.HasPrefix(m.Path, "/dev/") && !strings.HasPrefix(m.Path, "/dev/ashmem")
}

// Process is the interface to inspect a live process.
// GetMappings must not be called concurrently with itself. The returned
// RemoteMemory and FileOpener are safe for concurrent use.
type Process interface {
	// PID returns the process identifier
	PID() libpf.PID

	// GetMappings reads and parses process memory mappings. The second
	// return value is the number of lines that could not be parsed.
	GetMappings() ([]Mapping, uint32, error)

	// GetRemoteMemory returns a remote memory reader accessing the target process
	GetRemoteMemory() remotememory.RemoteMemory

	// FileOpener returns an opener resolving mapping paths inside the
	// mount namespace of the process.
	FileOpener() memview.FileOpener

	io.Closer
}
