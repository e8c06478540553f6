// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildNote(name string, noteType uint32, desc []byte) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)+1))
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(desc)))
	_ = binary.Write(buf, binary.LittleEndian, noteType)
	buf.WriteString(name)
	buf.WriteByte(0)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(desc)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func TestBuildIDFromNotes(t *testing.T) {
	id := []byte("_notorious_build_id_")
	notes := append(buildNote("Go", 0x4, []byte("go-build-id")),
		buildNote("GNU", buildIDNoteType, id)...)

	raw, err := getBuildIDBytesFromNotes(notes)
	require.NoError(t, err)
	assert.Equal(t, id, raw)

	printable, err := getBuildIDFromNotes(notes)
	require.NoError(t, err)
	assert.Equal(t, "5f6e6f746f72696f75735f6275696c645f69645f", printable)

	_, err = getBuildIDBytesFromNotes(buildNote("Go", 0x4, []byte("go-build-id")))
	require.ErrorIs(t, err, ErrNoBuildID)

	_, err = getBuildIDBytesFromNotes(buildNote("GNU", buildIDNoteType, make([]byte, 100)))
	require.Error(t, err)
}

func compressedSection(t *testing.T, typ elf.CompressionType, payload []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, elf.Chdr64{
		Type:      uint32(typ),
		Size:      uint64(len(payload)),
		Addralign: 1,
	}))
	switch typ {
	case elf.COMPRESS_ZLIB:
		w := zlib.NewWriter(buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case elf.COMPRESS_ZSTD:
		w, err := zstd.NewWriter(buf)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.Write(payload)
	}
	return buf.Bytes()
}

func TestDecompressSection(t *testing.T) {
	payload := bytes.Repeat([]byte("symbol\x00"), 300)

	for name, typ := range map[string]elf.CompressionType{
		"zlib": elf.COMPRESS_ZLIB,
		"zstd": elf.COMPRESS_ZSTD,
	} {
		t.Run(name, func(t *testing.T) {
			data := compressedSection(t, typ, payload)
			out, err := decompressSection(data, maxBytesLargeSection)
			require.NoError(t, err)
			assert.Equal(t, payload, out)

			_, err = decompressSection(data, 16)
			require.Error(t, err)
		})
	}

	_, err := decompressSection(compressedSection(t, elf.CompressionType(42), payload),
		maxBytesLargeSection)
	require.Error(t, err)

	_, err = decompressSection([]byte{1, 2, 3}, maxBytesLargeSection)
	require.Error(t, err)
}
