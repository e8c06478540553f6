// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotememory provides access to the memory space of a live process.
// The io.ReaderAt interface is used for the basic access, with offsets being
// virtual addresses of the target process.
package remotememory // import "go.opentelemetry.io/ebpf-symbolizer/remotememory"

import (
	"io"

	"go.opentelemetry.io/ebpf-symbolizer/libpf"
)

// RemoteMemory is the memory of another process.
type RemoteMemory struct {
	io.ReaderAt
}

// Valid determines if this RemoteMemory instance contains a valid reference to target process
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// ProcessVirtualMemory reads the memory of a process with the
// process_vm_readv syscall.
type ProcessVirtualMemory struct {
	pid libpf.PID
}

// NewProcessVirtualMemory returns a RemoteMemory backed by process_vm_readv.
func NewProcessVirtualMemory(pid libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: ProcessVirtualMemory{pid}}
}
