// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file contains helpers for ELF notes.

package pfelf // import "go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// buildIDNoteType is NT_GNU_BUILD_ID.
const buildIDNoteType = 0x3

// maxNoteDescSize bounds the note payloads we accept. SHA-1 build IDs are 20
// bytes, but some toolchains emit longer hashes.
const maxNoteDescSize = 84

var ErrNoBuildID = errors.New("no build ID")

// getBuildIDBytesFromNotes returns the raw build ID from ELF notes data.
func getBuildIDBytesFromNotes(notes []byte) ([]byte, error) {
	buildID, found, err := getNoteDescBytes(notes, "GNU", buildIDNoteType)
	if err != nil {
		return nil, fmt.Errorf("could not determine BuildID: %v", err)
	}
	if !found || len(buildID) == 0 {
		return nil, ErrNoBuildID
	}
	return bytes.Clone(buildID), nil
}

// getBuildIDFromNotes returns the build ID from ELF notes data as hex string.
func getBuildIDFromNotes(notes []byte) (string, error) {
	buildID, err := getBuildIDBytesFromNotes(notes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buildID), nil
}

// getNoteDescBytes returns the bytes contents of an ELF note from a note section, as described
// in the ELF standard in Figure 2-3.
func getNoteDescBytes(sectionBytes []byte, name string, noteType uint32) (
	noteBytes []byte, found bool, err error) {
	// The data stored inside ELF notes is made of one or multiple structs, containing the
	// following fields:
	// 	- namesz	// 32-bit, size of "name"
	// 	- descsz	// 32-bit, size of "desc"
	// 	- type		// 32-bit - 0x3 in case of a BuildID
	// 	- name		// namesz bytes, null terminated
	// 	- desc		// descsz bytes, binary data: the actual contents of the note

	noteHeader := binary.LittleEndian.AppendUint32(nil, noteType)
	noteHeader = append(noteHeader, name...)
	noteHeader = append(noteHeader, 0)

	idx := bytes.Index(sectionBytes, noteHeader)
	if idx == -1 {
		return nil, false, nil
	}
	if idx < 4 { // there needs to be room for descsz
		return nil, false, errors.New("could not read note data size")
	}

	idxDataStart := idx + len(noteHeader)
	idxDataStart += (4 - (idxDataStart & 3)) & 3 // data is 32bit-aligned, round up

	dataSize := binary.LittleEndian.Uint32(sectionBytes[idx-4 : idx])
	idxDataEnd := uint64(idxDataStart) + uint64(dataSize)

	if idxDataEnd > uint64(len(sectionBytes)) || dataSize > maxNoteDescSize {
		return nil, false, fmt.Errorf(
			"non-sensical note: %d start index: %d, %v end index %d, size %d, section size %d",
			idx, idxDataStart, noteHeader, idxDataEnd, dataSize, len(sectionBytes))
	}
	return sectionBytes[idxDataStart:idxDataEnd], true, nil
}
