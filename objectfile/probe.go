// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package objectfile // import "go.opentelemetry.io/ebpf-symbolizer/objectfile"

import (
	"io"

	"go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"
)

// The probes below read one property of an ELF image without building an
// Object. They only touch the headers, so they are cheap enough to run on a
// view that is discarded afterwards.

// IsValidELF reports whether r starts with a supported ELF header.
func IsValidELF(r io.ReaderAt) bool {
	if r == nil {
		return false
	}
	return pfelf.IsValid(r)
}

// GetInfo reports whether r holds a supported ELF image and the image size
// declared by its headers.
func GetInfo(r io.ReaderAt) (size uint64, ok bool) {
	if r == nil {
		return 0, false
	}
	file, err := pfelf.NewFile(r)
	if err != nil {
		return 0, false
	}
	return file.DeclaredSize(), true
}

// GetLoadBias returns the load bias of the ELF image in r, or 0.
func GetLoadBias(r io.ReaderAt) int64 {
	if r == nil {
		return 0
	}
	file, err := pfelf.NewFile(r)
	if err != nil {
		return 0
	}
	return file.LoadBias()
}

// GetBuildID returns the raw build ID of the ELF image in r, or an empty
// string.
func GetBuildID(r io.ReaderAt) string {
	if r == nil {
		return ""
	}
	file, err := pfelf.NewFile(r)
	if err != nil {
		return ""
	}
	raw, err := file.GetBuildIDBytes()
	if err != nil {
		return ""
	}
	return string(raw)
}
