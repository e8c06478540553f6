// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package memview // import "go.opentelemetry.io/ebpf-symbolizer/memview"

import (
	"fmt"
	"os"

	"go.opentelemetry.io/ebpf-symbolizer/memview/internal/mmap"
)

// FileOpener opens mapping backing files for reading.
//
// Implementations must be safe to be called from different goroutines
// simultaneously.
type FileOpener interface {
	Open(path string) (*os.File, error)
}

type systemOpener struct{}

func (systemOpener) Open(path string) (*os.File, error) {
	return os.Open(path)
}

// SystemOpener opens files from the local file system.
var SystemOpener FileOpener = systemOpener{}

// fileView is a memory mapped window of a file.
type fileView struct {
	*mmap.ReaderAt
	size uint64
}

var _ View = &fileView{}

func (v *fileView) Size() uint64 {
	return v.size
}

// OpenFile maps the window [offset, offset+size) of the file at path. A size
// of zero maps everything up to the end of the file, and a window reaching
// past the end of the file is truncated. Opening fails if offset is not
// inside the file.
func OpenFile(opener FileOpener, path string, offset, size uint64) (View, error) {
	if opener == nil {
		opener = SystemOpener
	}
	f, err := opener.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := uint64(fi.Size())
	if offset >= fileSize {
		return nil, fmt.Errorf("%s at 0x%x (size 0x%x): %w",
			path, offset, fileSize, ErrOutOfRange)
	}

	available := fileSize - offset
	if size == 0 || size > available {
		size = available
	}
	if size != uint64(int(size)) {
		return nil, fmt.Errorf("%s: window of 0x%x bytes is too large", path, size)
	}

	r, err := mmap.Map(f, int64(offset), int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return &fileView{ReaderAt: r, size: size}, nil
}
