// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceFrom(t *testing.T) {
	var hdr struct {
		Magic uint32
		Count uint32
	}
	copy(SliceFrom(&hdr), []byte{1, 0, 0, 0, 7, 0, 0, 0})
	assert.Equal(t, uint32(1), hdr.Magic)
	assert.Equal(t, uint32(7), hdr.Count)
	assert.Len(t, SliceFrom(&hdr), 8)
}

func TestSliceOf(t *testing.T) {
	words := make([]uint32, 3)
	b := SliceOf(words)
	assert.Len(t, b, 12)
	binary.LittleEndian.PutUint32(b[4:], 0xcafe)
	assert.Equal(t, uint32(0xcafe), words[1])

	assert.Nil(t, SliceOf([]uint64{}))
}
