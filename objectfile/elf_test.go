// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package objectfile_test

import (
	"debug/elf"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/ebpf-symbolizer/memview"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
	"go.opentelemetry.io/ebpf-symbolizer/testsupport"
)

var buildID = []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0x10, 0x32}

func openView(t *testing.T, image []byte) memview.View {
	t.Helper()
	path := testsupport.WriteFile(t, "libtest.so", image)
	view, err := memview.OpenFile(nil, path, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = view.Close() })
	return view
}

func TestELFObject(t *testing.T) {
	view := openView(t, testsupport.ELFBuilder{
		Machine:   elf.EM_AARCH64,
		BuildID:   buildID,
		TextVaddr: 0x11000,
		Symbols: []testsupport.ELFSymbol{
			{Name: "_ZN3foo3barEv", Value: 0x11000, Size: 0x100},
			{Name: "plain_c", Value: 0x11100, Size: 0x80},
		},
	}.Build())

	obj := objectfile.NewELF(view, objectfile.WithDemangle(objectfile.DemangleFull))
	require.True(t, obj.Init())
	assert.True(t, obj.Valid())
	assert.Equal(t, elf.EM_AARCH64, obj.Machine())
	assert.Equal(t, int64(0x10000), obj.LoadBias())
	assert.Equal(t, string(buildID), obj.BuildID())
	assert.Same(t, view, obj.View())

	name, offset, ok := obj.FunctionName(0x11010)
	require.True(t, ok)
	assert.Equal(t, "foo::bar()", name)
	assert.Equal(t, uint64(0x10), offset)

	name, offset, ok = obj.FunctionName(0x1117f)
	require.True(t, ok)
	assert.Equal(t, "plain_c", name)
	assert.Equal(t, uint64(0x7f), offset)

	_, _, ok = obj.FunctionName(0x11180)
	assert.False(t, ok)

	obj.Invalidate()
	assert.False(t, obj.Valid())
	assert.Equal(t, int64(0), obj.LoadBias())
	assert.Empty(t, obj.BuildID())
	_, _, ok = obj.FunctionName(0x11010)
	assert.False(t, ok)
}

func TestELFObjectDynamicSymbolsOnly(t *testing.T) {
	view := openView(t, testsupport.ELFBuilder{
		Dynamic:      true,
		OmitSections: true,
		Symbols: []testsupport.ELFSymbol{
			{Name: "exported", Value: 0x1000, Size: 0x10},
		},
	}.Build())

	obj := objectfile.NewELF(view)
	require.True(t, obj.Init())
	name, offset, ok := obj.FunctionName(0x1008)
	require.True(t, ok)
	assert.Equal(t, "exported", name)
	assert.Equal(t, uint64(8), offset)
}

func TestELFObjectWithoutSymbols(t *testing.T) {
	obj := objectfile.NewELF(openView(t, testsupport.ELFBuilder{}.Build()))
	require.True(t, obj.Init())
	_, _, ok := obj.FunctionName(0x1000)
	assert.False(t, ok)
	assert.Empty(t, obj.BuildID())
}

func TestELFObjectInvalid(t *testing.T) {
	obj := objectfile.NewELF(openView(t, testsupport.GenerateTestInputFile(100, 4096)))
	assert.False(t, obj.Init())
	assert.False(t, obj.Valid())

	constructor := objectfile.ELFConstructor()
	nilObj := constructor(nil)
	assert.False(t, nilObj.Init())
	assert.Nil(t, nilObj.View())
}

func TestELFObjectConcurrentLookups(t *testing.T) {
	symbols := make([]testsupport.ELFSymbol, 0, 16)
	for i := range 16 {
		symbols = append(symbols, testsupport.ELFSymbol{
			Name:  "func" + string(rune('a'+i)),
			Value: 0x1000 + uint64(i)*0x10,
			Size:  0x10,
		})
	}
	obj := objectfile.NewELF(openView(t, testsupport.ELFBuilder{
		BuildID: buildID,
		Symbols: symbols,
	}.Build()))
	require.True(t, obj.Init())

	wg := sync.WaitGroup{}
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx := i % 16
			name, offset, ok := obj.FunctionName(0x1000 + uint64(idx)*0x10 + 3)
			assert.True(t, ok)
			assert.Equal(t, "func"+string(rune('a'+idx)), name)
			assert.Equal(t, uint64(3), offset)
			assert.Equal(t, string(buildID), obj.BuildID())
		}()
	}
	wg.Wait()
}

func TestProbes(t *testing.T) {
	image := testsupport.ELFBuilder{
		BuildID:   buildID,
		TextVaddr: 0x201000,
		TextSize:  0x3000,
	}.Build()
	view := openView(t, image)

	assert.True(t, objectfile.IsValidELF(view))
	size, ok := objectfile.GetInfo(view)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x4000), size)
	assert.Equal(t, int64(0x200000), objectfile.GetLoadBias(view))
	assert.Equal(t, string(buildID), objectfile.GetBuildID(view))

	junk := openView(t, testsupport.GenerateTestInputFile(7, 512))
	assert.False(t, objectfile.IsValidELF(junk))
	_, ok = objectfile.GetInfo(junk)
	assert.False(t, ok)
	assert.Equal(t, int64(0), objectfile.GetLoadBias(junk))
	assert.Empty(t, objectfile.GetBuildID(junk))
	assert.False(t, objectfile.IsValidELF(nil))
}

func TestDemangleModes(t *testing.T) {
	const mangled = "_ZN3foo3barEv"
	for mode, expected := range map[objectfile.DemangleMode]string{
		objectfile.DemangleNone:       mangled,
		objectfile.DemangleFull:       "foo::bar()",
		objectfile.DemangleTemplates:  "foo::bar",
		objectfile.DemangleSimplified: "foo::bar",
	} {
		assert.Equal(t, expected, mode.Demangle(mangled), string(mode))
	}
	assert.Equal(t, "main", objectfile.DemangleFull.Demangle("main"))

	mode, err := objectfile.ParseDemangleMode("FULL")
	require.NoError(t, err)
	assert.Equal(t, objectfile.DemangleFull, mode)
	_, err = objectfile.ParseDemangleMode("pretty")
	require.Error(t, err)
}
