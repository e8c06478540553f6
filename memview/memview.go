// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package memview provides byte addressable views of the memory backing a
// mapping: a window of a file, a range of live process memory, or several
// process memory ranges stitched into one logical address space.
package memview // import "go.opentelemetry.io/ebpf-symbolizer/memview"

import (
	"errors"
	"io"
)

var (
	// ErrOutOfRange is returned when a file window starts beyond the end of
	// the file.
	ErrOutOfRange = errors.New("offset beyond end of file")

	// ErrEmptyRange is returned when a range of zero length is requested.
	ErrEmptyRange = errors.New("empty range")
)

// View is a read-only, randomly addressable byte range. Offsets passed to
// ReadAt are relative to the start of the view.
type View interface {
	io.ReaderAt
	io.Closer

	// Size returns the logical size of the view.
	Size() uint64
}
