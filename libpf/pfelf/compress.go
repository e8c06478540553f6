// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"unsafe"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"go.opentelemetry.io/ebpf-symbolizer/libpf"
)

// decompressSection inflates the data of a SHF_COMPRESSED section. The data
// starts with an Elf64_Chdr naming the algorithm and the uncompressed size.
func decompressSection(data []byte, maxSize uint) ([]byte, error) {
	var chdr elf.Chdr64
	hdrLen := int(unsafe.Sizeof(chdr))
	if len(data) < hdrLen {
		return nil, fmt.Errorf("compressed section too short (%d bytes)", len(data))
	}
	copy(libpf.SliceFrom(&chdr), data[:hdrLen])
	if chdr.Size > uint64(maxSize) {
		return nil, fmt.Errorf("uncompressed section size %d is too large", chdr.Size)
	}

	var rdr io.Reader
	compressed := bytes.NewReader(data[hdrLen:])
	switch elf.CompressionType(chdr.Type) {
	case elf.COMPRESS_ZLIB:
		zr, err := zlib.NewReader(compressed)
		if err != nil {
			return nil, fmt.Errorf("failed to open zlib section: %w", err)
		}
		defer zr.Close()
		rdr = zr
	case elf.COMPRESS_ZSTD:
		zr, err := zstd.NewReader(compressed, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd section: %w", err)
		}
		defer zr.Close()
		rdr = zr
	default:
		return nil, fmt.Errorf("unsupported section compression %d", chdr.Type)
	}

	out := make([]byte, chdr.Size)
	if _, err := io.ReadFull(rdr, out); err != nil {
		return nil, fmt.Errorf("failed to decompress section: %w", err)
	}
	return out, nil
}
