// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/ebpf-symbolizer/libpf"

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	sha256 "github.com/minio/sha256-simd"
)

const (
	// fileIDSampleSize is the number of bytes hashed from each end of a file.
	fileIDSampleSize = 4096
)

// FileID identifies the contents of a backing file independently of its path.
// Two mappings of the same file, or of the same file reached through
// different paths, have equal FileIDs.
type FileID struct {
	hi uint64
	lo uint64
}

func NewFileID(hi, lo uint64) FileID {
	return FileID{hi: hi, lo: lo}
}

// FileIDFromBytes reads a FileID from its 16 byte big-endian form.
func FileIDFromBytes(b []byte) (FileID, error) {
	if len(b) != 16 {
		return FileID{}, fmt.Errorf("invalid length for file ID bytes: %d", len(b))
	}
	return FileID{
		hi: binary.BigEndian.Uint64(b[0:8]),
		lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// FileIDFromString parses the hexadecimal or UUID form of a FileID.
func FileIDFromString(s string) (FileID, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "0x"), "-", "")
	if len(s) != 32 {
		return FileID{}, fmt.Errorf("invalid length for file ID '%s': %d", s, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return FileID{}, err
	}
	return FileIDFromBytes(b)
}

func (f FileID) Hi() uint64 {
	return f.hi
}

func (f FileID) Lo() uint64 {
	return f.lo
}

// Bytes returns the 16 byte big-endian form.
func (f FileID) Bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], f.hi)
	binary.BigEndian.PutUint64(b[8:16], f.lo)
	return b
}

// String returns the 32 digit lowercase hexadecimal form.
func (f FileID) String() string {
	return hex.EncodeToString(f.Bytes())
}

// ToUUIDString returns the FileID formatted as a UUID.
func (f FileID) ToUUIDString() string {
	// FromBytes only fails on a length mismatch.
	id, _ := uuid.FromBytes(f.Bytes())
	return id.String()
}

// FileIDFromExecutableReader computes the FileID of an executable. The
// SHA-256 covers the first and last 4 KiB, which hold the ELF headers and the
// section header table, followed by the big-endian file size. Files shorter
// than 8 KiB have parts of their contents hashed twice.
func FileIDFromExecutableReader(reader io.ReadSeeker) (FileID, error) {
	h := sha256.New()

	if _, err := io.Copy(h, io.LimitReader(reader, fileIDSampleSize)); err != nil {
		return FileID{}, fmt.Errorf("failed to hash file header: %v", err)
	}

	size, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return FileID{}, fmt.Errorf("failed to seek end of file: %v", err)
	}
	if _, err = reader.Seek(-min(size, fileIDSampleSize), io.SeekEnd); err != nil {
		return FileID{}, fmt.Errorf("failed to seek file trailer: %v", err)
	}
	if _, err = io.Copy(h, reader); err != nil {
		return FileID{}, fmt.Errorf("failed to hash file trailer: %v", err)
	}

	_, _ = h.Write(binary.BigEndian.AppendUint64(nil, uint64(size)))

	return FileIDFromBytes(h.Sum(nil)[0:16])
}
