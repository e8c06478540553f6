// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/ebpf-symbolizer/libpf"

import "unsafe"

// SliceFrom returns the memory of *p as a byte slice, so that a fixed layout
// structure can be read into directly.
func SliceFrom[T any](p *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), unsafe.Sizeof(*p))
}

// SliceOf returns the backing array of s as a byte slice.
func SliceOf[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))),
		uintptr(len(s))*unsafe.Sizeof(s[0]))
}
