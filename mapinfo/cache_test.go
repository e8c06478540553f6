// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo_test

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/ebpf-symbolizer/mapinfo"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
	"go.opentelemetry.io/ebpf-symbolizer/testsupport"
)

func newCache(t *testing.T) *mapinfo.ObjectCache {
	t.Helper()
	cache, err := mapinfo.NewObjectCache(16)
	require.NoError(t, err)
	return cache
}

func TestObjectCacheSharesAcrossSnapshots(t *testing.T) {
	path := testsupport.WriteFile(t, "libfoo.so", sharedObject())
	opener := &testsupport.CountingOpener{}
	cfg := mapinfo.Config{Cache: newCache(t), Opener: opener}

	first := newMaps(t, cfg, mapinfo.Descriptor{
		Start: 0x10000, End: 0x12000, Flags: elf.PF_R | elf.PF_X, Path: path,
	})
	second := newMaps(t, cfg, mapinfo.Descriptor{
		Start: 0x7f0000, End: 0x7f2000, Flags: elf.PF_R | elf.PF_X, Path: path,
	})

	obj := first.Get(0).ResolveObject(nil, machine)
	require.True(t, obj.Valid())
	opens := opener.Opens(path)

	assert.Same(t, obj, second.Get(0).ResolveObject(nil, machine))
	// Only the content hash is computed for the second snapshot.
	assert.Equal(t, opens+1, opener.Opens(path))
	assert.Equal(t, 1, cfg.Cache.Len())
	assert.Equal(t, uint64(1), cfg.Cache.Statistics().Hit)

	frame, ok := second.Symbolize(0x7f1044, nil, machine)
	require.True(t, ok)
	assert.Equal(t, "helper", frame.Function)
}

func TestObjectCacheConcurrentSnapshots(t *testing.T) {
	path := testsupport.WriteFile(t, "libfoo.so", sharedObject())
	cfg := mapinfo.Config{Cache: newCache(t)}

	snapshots := make([]*mapinfo.Maps, 16)
	for i := range snapshots {
		base := uint64(i+1) << 24
		snapshots[i] = newMaps(t, cfg, mapinfo.Descriptor{
			Start: base, End: base + 0x2000, Flags: elf.PF_R | elf.PF_X, Path: path,
		})
	}

	objects := make([]objectfile.Object, len(snapshots))
	g := errgroup.Group{}
	for i, maps := range snapshots {
		g.Go(func() error {
			objects[i] = maps.Get(0).ResolveObject(nil, machine)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, obj := range objects {
		assert.Same(t, objects[0], obj)
	}
	assert.Equal(t, 1, cfg.Cache.Len())
}

func TestObjectCacheSplitObject(t *testing.T) {
	path := testsupport.WriteFile(t, "libsplit.so", sharedObject())
	cfg := mapinfo.Config{Cache: newCache(t)}

	ro, rx := splitDescriptors(path, 0x400000)
	first := newMaps(t, cfg, ro, rx)
	obj := first.Get(0).ResolveObject(nil, machine)
	require.True(t, obj.Valid())

	// The executable half of another snapshot finds the object through the
	// read-only half, which starts the object.
	ro, rx = splitDescriptors(path, 0x900000)
	second := newMaps(t, cfg, ro, rx)
	rxMap := second.Get(1)
	assert.Same(t, obj, rxMap.ResolveObject(nil, machine))
	assert.Equal(t, uint64(0x1000), rxMap.ObjectOffset())
	assert.Equal(t, uint64(0), rxMap.ObjectStartOffset())
	assert.Same(t, obj, first.Get(1).ResolveObject(nil, machine))
}

func TestObjectCacheSplitObjectExecutableFirst(t *testing.T) {
	path := testsupport.WriteFile(t, "libsplit.so", sharedObject())
	cfg := mapinfo.Config{Cache: newCache(t)}

	ro, rx := splitDescriptors(path, 0x400000)
	first := newMaps(t, cfg, ro, rx)
	obj := first.Get(1).ResolveObject(nil, machine)
	require.True(t, obj.Valid())
	assert.Same(t, obj, first.Get(0).ResolveObject(nil, machine))

	// The read-only half of another snapshot starts the object and must find
	// the one built through the executable half.
	ro, rx = splitDescriptors(path, 0x900000)
	second := newMaps(t, cfg, ro, rx)
	roMap, rxMap := second.Get(0), second.Get(1)
	assert.Same(t, obj, roMap.ResolveObject(nil, machine))
	assert.Equal(t, uint64(0), roMap.ObjectOffset())
	assert.Equal(t, uint64(0), roMap.ObjectStartOffset())
	assert.Same(t, obj, rxMap.ResolveObject(nil, machine))
	assert.Equal(t, uint64(0x1000), rxMap.ObjectOffset())
	assert.Equal(t, 2, cfg.Cache.Len())
}

func TestObjectCacheSplitObjectConcurrentHalves(t *testing.T) {
	path := testsupport.WriteFile(t, "libsplit.so", sharedObject())

	for i := range 50 {
		cfg := mapinfo.Config{Cache: newCache(t)}
		ro, rx := splitDescriptors(path, 0x400000)
		first := newMaps(t, cfg, ro, rx)

		objects := make([]objectfile.Object, 2)
		g := errgroup.Group{}
		for idx := range objects {
			g.Go(func() error {
				objects[idx] = first.Get(idx).ResolveObject(nil, machine)
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.Same(t, objects[0], objects[1], "iteration %d", i)

		ro, rx = splitDescriptors(path, 0x900000)
		second := newMaps(t, cfg, ro, rx)
		assert.Same(t, objects[0], second.Get(0).ResolveObject(nil, machine))
		assert.Same(t, objects[0], second.Get(1).ResolveObject(nil, machine))
	}
}

func TestObjectCacheInvalidObject(t *testing.T) {
	path := testsupport.WriteFile(t, "garbage.so", testsupport.GenerateTestInputFile(13, 0x2000))
	opener := &testsupport.CountingOpener{}
	cfg := mapinfo.Config{Cache: newCache(t), Opener: opener}

	desc := mapinfo.Descriptor{
		Start: 0x10000, End: 0x11000, Offset: 0x1000, Flags: elf.PF_R | elf.PF_X, Path: path,
	}
	first := newMaps(t, cfg, desc)
	obj := first.Get(0).ResolveObject(nil, machine)
	assert.False(t, obj.Valid())

	second := newMaps(t, cfg, desc)
	assert.Same(t, obj, second.Get(0).ResolveObject(nil, machine))
	assert.Equal(t, uint64(0x1000), second.Get(0).ObjectStartOffset())
}

func TestObjectCacheMemoryBackedObjectsAreNotShared(t *testing.T) {
	// The file is too short to contain the mapped offset, so the object is
	// read from process memory.
	path := testsupport.WriteFile(t, "jit.cache", testsupport.GenerateTestInputFile(7, 0x100))
	mem := &testsupport.FakeMemory{}
	mem.Map(0x7f000000, sharedObject())
	cfg := mapinfo.Config{Cache: newCache(t)}
	desc := mapinfo.Descriptor{
		Start: 0x7f000000, End: 0x7f002000, Offset: 0x1000, Flags: elf.PF_R | elf.PF_X, Path: path,
	}

	firstMap := newMaps(t, cfg, desc).Get(0)
	first := firstMap.ResolveObject(mem, machine)
	second := newMaps(t, cfg, desc).Get(0).ResolveObject(mem, machine)
	assert.True(t, first.Valid())
	assert.True(t, second.Valid())
	assert.True(t, firstMap.MemoryBackedObject())
	assert.NotSame(t, first, second)
	assert.Zero(t, cfg.Cache.Len())
}

func TestObjectCacheZeroSize(t *testing.T) {
	_, err := mapinfo.NewObjectCache(0)
	require.Error(t, err)
}
