//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "go.opentelemetry.io/ebpf-symbolizer/remotememory"

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// pageSize is the granularity at which remote reads are split, so that a
// read crossing into an unmapped page still returns the readable prefix.
var pageSize = uint64(unix.Getpagesize())

// ReadAt reads len(p) bytes at the virtual address off of the process. On a
// short read n is the length of the readable prefix.
func (vm ProcessVirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))

	addr := uint64(off)
	remote := make([]unix.RemoteIovec, 0, uint64(len(p))/pageSize+2)
	for done := uint64(0); done < uint64(len(p)); {
		chunk := min(pageSize-(addr+done)%pageSize, uint64(len(p))-done)
		remote = append(remote, unix.RemoteIovec{Base: uintptr(addr + done), Len: int(chunk)})
		done += chunk
	}

	n, err := unix.ProcessVMReadv(int(vm.pid), local, remote, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID %v at 0x%x: %w", vm.pid, addr, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("failed to read PID %v at 0x%x: got only %d of %d: %w",
			vm.pid, addr, n, len(p), io.ErrUnexpectedEOF)
	}
	return n, nil
}
