// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo_test

import (
	"debug/elf"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/ebpf-symbolizer/mapinfo"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
	"go.opentelemetry.io/ebpf-symbolizer/testsupport"
)

func TestResolveObjectConcurrently(t *testing.T) {
	path := testsupport.WriteFile(t, "libfoo.so", sharedObject())
	opener := &testsupport.CountingOpener{}
	maps := newMaps(t, mapinfo.Config{Opener: opener}, mapinfo.Descriptor{
		Start: 0x10000, End: 0x12000, Flags: elf.PF_R | elf.PF_X, Path: path,
	})
	mi := maps.Get(0)

	objects := make([]objectfile.Object, 32)
	wg := sync.WaitGroup{}
	for i := range objects {
		wg.Add(1)
		go func() {
			defer wg.Done()
			objects[i] = mi.ResolveObject(nil, machine)
		}()
	}
	wg.Wait()

	require.NotNil(t, objects[0])
	assert.True(t, objects[0].Valid())
	for _, obj := range objects {
		assert.Same(t, objects[0], obj)
	}
	assert.Same(t, objects[0], mi.Object())
	assert.Equal(t, 1, opener.Opens(path))
	assert.False(t, mi.MemoryBackedObject())
}

func TestResolveSplitObjectFromFile(t *testing.T) {
	for name, order := range map[string][]int{
		"executable first": {1, 0},
		"read-only first":  {0, 1},
	} {
		t.Run(name, func(t *testing.T) {
			path := testsupport.WriteFile(t, "libsplit.so", sharedObject())
			ro, rx := splitDescriptors(path, 0x400000)
			maps := newMaps(t, mapinfo.Config{}, ro, rx)

			objects := make([]objectfile.Object, 2)
			for _, idx := range order {
				objects[idx] = maps.Get(idx).ResolveObject(nil, machine)
			}
			require.True(t, objects[0].Valid())
			assert.Same(t, objects[0], objects[1])

			roMap, rxMap := maps.Get(0), maps.Get(1)
			assert.Equal(t, uint64(0x1000), rxMap.ObjectOffset())
			assert.Equal(t, uint64(0), rxMap.ObjectStartOffset())
			assert.Equal(t, uint64(0), roMap.ObjectOffset())
			assert.Equal(t, uint64(0), roMap.ObjectStartOffset())

			frame, ok := maps.Symbolize(0x401050, nil, machine)
			require.True(t, ok)
			assert.Same(t, rxMap, frame.Map)
			assert.Equal(t, uint64(0x1050), frame.RelPC)
			assert.Equal(t, "helper", frame.Function)
			assert.Equal(t, uint64(0x10), frame.FunctionOffset)
		})
	}
}

func TestResolveSplitObjectConcurrently(t *testing.T) {
	for name, withCache := range map[string]bool{
		"uncached": false,
		"cached":   true,
	} {
		t.Run(name, func(t *testing.T) {
			path := testsupport.WriteFile(t, "libsplit.so", sharedObject())
			cfg := mapinfo.Config{}
			if withCache {
				cfg.Cache = newCache(t)
			}

			for i := range 20 {
				ro, rx := splitDescriptors(path, uint64(i+1)<<24)
				maps := newMaps(t, cfg, ro, rx)

				objects := make([]objectfile.Object, 8)
				g := errgroup.Group{}
				for j := range objects {
					g.Go(func() error {
						objects[j] = maps.Get(j%2).ResolveObject(nil, machine)
						return nil
					})
				}
				require.NoError(t, g.Wait())

				require.True(t, objects[0].Valid())
				for _, obj := range objects {
					assert.Same(t, objects[0], obj)
				}
				assert.Equal(t, uint64(0x1000), maps.Get(1).ObjectOffset())
				assert.Equal(t, uint64(0), maps.Get(1).ObjectStartOffset())
			}
		})
	}
}

// Scenario: the read-only and the executable half of a binary are only
// available from process memory, the file does not exist.
func TestResolveSplitObjectFromProcessMemory(t *testing.T) {
	image := sharedObject()
	mem := &testsupport.FakeMemory{}
	mem.Map(0x70000000, image[:0x1000])
	mem.Map(0x70001000, image[0x1000:])

	for name, order := range map[string][]int{
		"executable first": {1, 0},
		"read-only first":  {0, 1},
	} {
		t.Run(name, func(t *testing.T) {
			opener := &testsupport.CountingOpener{}
			ro, rx := splitDescriptors("/lib/libbar.so", 0x70000000)
			maps := newMaps(t, mapinfo.Config{Opener: opener}, ro, rx)

			objects := make([]objectfile.Object, 2)
			for _, idx := range order {
				objects[idx] = maps.Get(idx).ResolveObject(mem, machine)
			}
			require.True(t, objects[0].Valid())
			assert.Same(t, objects[0], objects[1])

			roMap, rxMap := maps.Get(0), maps.Get(1)
			assert.Equal(t, uint64(0x1000), rxMap.ObjectOffset())
			assert.Equal(t, uint64(0), rxMap.ObjectStartOffset())
			assert.True(t, rxMap.MemoryBackedObject())
			assert.True(t, roMap.MemoryBackedObject())
			assert.Equal(t, uint64(0x2000), objects[0].View().Size())

			name, offset, ok := rxMap.GetFunctionName(0x1004)
			require.True(t, ok)
			assert.Equal(t, "main", name)
			assert.Equal(t, uint64(4), offset)
			assert.Equal(t, string(buildID), rxMap.GetBuildID())
			assert.Positive(t, opener.Total())
		})
	}
}

// Scenario: a mapping at offset 0 whose file holds a bigger object than
// the mapping covers gets the whole object.
func TestResolveRemapsToDeclaredSize(t *testing.T) {
	path := testsupport.WriteFile(t, "libfoo.so", sharedObject())
	maps := newMaps(t, mapinfo.Config{}, mapinfo.Descriptor{
		Start: 0x10000, End: 0x11000, Flags: elf.PF_R | elf.PF_X, Path: path,
	})
	mi := maps.Get(0)

	obj := mi.ResolveObject(nil, machine)
	require.True(t, obj.Valid())
	assert.Equal(t, uint64(0x2000), obj.View().Size())
	assert.Equal(t, uint64(0), mi.ObjectStartOffset())
	assert.Equal(t, uint64(0), mi.ObjectOffset())
}

func TestResolveKeepsMappedSizeWhenRemapFails(t *testing.T) {
	const embedAt = 0x3000
	file := slices.Concat(make([]byte, embedAt), sharedObject())
	path := testsupport.WriteFile(t, "base.apk", file)
	// Only the window of the mapping itself can be opened.
	opener := &testsupport.CountingOpener{FailAfter: 1}
	maps := newMaps(t, mapinfo.Config{Opener: opener}, mapinfo.Descriptor{
		Start: 0x20000, End: 0x21000, Offset: embedAt, Flags: elf.PF_R, Path: path,
	})
	mi := maps.Get(0)

	obj := mi.ResolveObject(nil, machine)
	require.NotNil(t, obj.View())
	assert.Equal(t, uint64(0x1000), obj.View().Size())
	assert.Equal(t, uint64(embedAt), mi.ObjectStartOffset())
	assert.Equal(t, 2, opener.Opens(path))
}

func TestResolveEmbeddedObject(t *testing.T) {
	const embedAt = 0x3000
	file := slices.Concat(make([]byte, embedAt), sharedObject(),
		testsupport.GenerateTestInputFile(3, 0x1000))
	path := testsupport.WriteFile(t, "base.apk", file)
	maps := newMaps(t, mapinfo.Config{}, mapinfo.Descriptor{
		Start: 0x20000, End: 0x21000, Offset: embedAt, Flags: elf.PF_R, Path: path,
	})
	mi := maps.Get(0)

	obj := mi.ResolveObject(nil, machine)
	require.True(t, obj.Valid())
	assert.Equal(t, uint64(0x2000), obj.View().Size())
	assert.Equal(t, uint64(embedAt), mi.ObjectStartOffset())
	assert.Equal(t, uint64(0), mi.ObjectOffset())
	assert.Equal(t, string(buildID), obj.BuildID())
}

func TestResolveObjectStartingInPreviousMapping(t *testing.T) {
	// The executable mapping offset points into the middle of an object that
	// is neither embedded there nor at the start of the file.
	const objectAt = 0x1000
	file := slices.Concat(testsupport.GenerateTestInputFile(5, objectAt), sharedObject())
	path := testsupport.WriteFile(t, "libembedded.so", file)
	maps := newMaps(t, mapinfo.Config{},
		mapinfo.Descriptor{
			Start: 0x50000, End: 0x51000, Offset: objectAt, Flags: elf.PF_R, Path: path,
		},
		mapinfo.Descriptor{
			Start: 0x51000, End: 0x52000, Offset: objectAt + 0x1000,
			Flags: elf.PF_R | elf.PF_X, Path: path,
		})
	rxMap := maps.Get(1)

	obj := rxMap.ResolveObject(nil, machine)
	require.True(t, obj.Valid())
	assert.Equal(t, uint64(0x1000), rxMap.ObjectOffset())
	assert.Equal(t, uint64(objectAt), rxMap.ObjectStartOffset())
	roMap := maps.Get(0)
	assert.Same(t, obj, roMap.Object())
	assert.Equal(t, uint64(objectAt), roMap.ObjectStartOffset())
	assert.Equal(t, uint64(0), roMap.ObjectOffset())
}

func TestResolveInvalidObjectOnce(t *testing.T) {
	path := testsupport.WriteFile(t, "garbage.so", testsupport.GenerateTestInputFile(11, 0x3000))
	opener := &testsupport.CountingOpener{}
	maps := newMaps(t, mapinfo.Config{Opener: opener}, mapinfo.Descriptor{
		Start: 0x30000, End: 0x31000, Offset: 0x1000, Flags: elf.PF_R | elf.PF_X, Path: path,
	})
	mi := maps.Get(0)

	obj := mi.ResolveObject(nil, machine)
	require.NotNil(t, obj)
	assert.False(t, obj.Valid())
	assert.Equal(t, uint64(0x1000), mi.ObjectStartOffset())
	opens := opener.Opens(path)
	assert.Positive(t, opens)

	for range 3 {
		assert.Same(t, obj, mi.ResolveObject(nil, machine))
	}
	assert.Equal(t, int64(0), mi.GetLoadBias(nil))
	assert.Empty(t, mi.GetBuildID())
	_, _, ok := mi.GetFunctionName(0x1000)
	assert.False(t, ok)
	assert.Equal(t, opens, opener.Opens(path))
}

func TestResolveWrongMachine(t *testing.T) {
	path := testsupport.WriteFile(t, "libarm.so", testsupport.ELFBuilder{
		Machine: elf.EM_AARCH64,
		Symbols: textSymbols,
	}.Build())
	maps := newMaps(t, mapinfo.Config{}, mapinfo.Descriptor{
		Start: 0x10000, End: 0x12000, Flags: elf.PF_R | elf.PF_X, Path: path,
	})

	obj := maps.Get(0).ResolveObject(nil, machine)
	assert.False(t, obj.Valid())
	assert.Equal(t, elf.EM_AARCH64, obj.Machine())
	frame, ok := maps.Symbolize(0x11000, nil, machine)
	assert.True(t, ok)
	assert.Empty(t, frame.Function)
}

func TestResolveDeviceMapping(t *testing.T) {
	opener := &testsupport.CountingOpener{}
	mem := &testsupport.FakeMemory{}
	mem.Map(0x60000000, sharedObject())
	maps := newMaps(t, mapinfo.Config{Opener: opener}, mapinfo.Descriptor{
		Start: 0x60000000, End: 0x60002000, Flags: elf.PF_R,
		Path: "/dev/dri/card0", DeviceMap: true,
	})

	obj := maps.Get(0).ResolveObject(mem, machine)
	assert.False(t, obj.Valid())
	assert.Zero(t, opener.Total())
	assert.Zero(t, mem.Reads())
}

func TestResolveAnonymousFromProcessMemory(t *testing.T) {
	mem := &testsupport.FakeMemory{}
	mem.Map(0x7f000000, sharedObject())
	maps := newMaps(t, mapinfo.Config{}, mapinfo.Descriptor{
		Start: 0x7f000000, End: 0x7f002000, Flags: elf.PF_R | elf.PF_X,
	})
	mi := maps.Get(0)

	obj := mi.ResolveObject(mem, machine)
	require.True(t, obj.Valid())
	assert.True(t, mi.MemoryBackedObject())

	assert.Same(t, obj, mi.ResolveObject(nil, machine))
	frame, ok := maps.Symbolize(0x7f001044, mem, machine)
	require.True(t, ok)
	assert.Equal(t, "helper", frame.Function)
	assert.Equal(t, uint64(4), frame.FunctionOffset)
}

// The executable mapping claims a file offset inside the read-only one, so
// the two cannot be stitched and the read-only range is used alone.
func TestResolveOverlappingHalvesFromProcessMemory(t *testing.T) {
	const base = 0x70000000
	mem := &testsupport.FakeMemory{}
	mem.Map(base, sharedObject())
	maps := newMaps(t, mapinfo.Config{},
		mapinfo.Descriptor{
			Start: base, End: base + 0x2000, Flags: elf.PF_R, Path: "/lib/liboverlap.so",
		},
		mapinfo.Descriptor{
			Start: base + 0x2000, End: base + 0x4000, Offset: 0x1000,
			Flags: elf.PF_R | elf.PF_X, Path: "/lib/liboverlap.so",
		})
	roMap := maps.Get(0)

	obj := roMap.ResolveObject(mem, machine)
	require.True(t, obj.Valid())
	assert.True(t, roMap.MemoryBackedObject())
	assert.Equal(t, uint64(0x2000), obj.View().Size())
	name, _, ok := roMap.GetFunctionName(0x1044)
	require.True(t, ok)
	assert.Equal(t, "helper", name)
}

func TestResolveWithoutBackingData(t *testing.T) {
	maps := newMaps(t, mapinfo.Config{}, mapinfo.Descriptor{
		Start: 0x7f000000, End: 0x7f001000, Flags: elf.PF_R | elf.PF_X,
	})
	mi := maps.Get(0)

	obj := mi.ResolveObject(nil, machine)
	assert.False(t, obj.Valid())
	assert.Nil(t, obj.View())
	assert.False(t, mi.MemoryBackedObject())
}
