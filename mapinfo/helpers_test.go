// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo_test

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/ebpf-symbolizer/mapinfo"
	"go.opentelemetry.io/ebpf-symbolizer/testsupport"
)

const machine = elf.EM_X86_64

var (
	buildID = []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	textSymbols = []testsupport.ELFSymbol{
		{Name: "main", Value: 0x1000, Size: 0x40},
		{Name: "helper", Value: 0x1040, Size: 0x40},
	}
)

// sharedObject is a regular shared library: a read-only first page holding
// the headers and the code in the second page.
func sharedObject() []byte {
	return testsupport.ELFBuilder{
		BuildID: buildID,
		Symbols: textSymbols,
	}.Build()
}

func newMaps(t *testing.T, cfg mapinfo.Config, descs ...mapinfo.Descriptor) *mapinfo.Maps {
	t.Helper()
	maps, err := mapinfo.NewMaps(cfg, descs)
	require.NoError(t, err)
	return maps
}

// splitDescriptors describes a binary mapped as read-only header page and
// executable code page.
func splitDescriptors(path string, base uint64) (ro, rx mapinfo.Descriptor) {
	ro = mapinfo.Descriptor{
		Start: base, End: base + 0x1000, Offset: 0,
		Flags: elf.PF_R, Path: path,
	}
	rx = mapinfo.Descriptor{
		Start: base + 0x1000, End: base + 0x2000, Offset: 0x1000,
		Flags: elf.PF_R | elf.PF_X, Path: path,
	}
	return ro, rx
}
