// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo // import "go.opentelemetry.io/ebpf-symbolizer/mapinfo"

import (
	"encoding/hex"
	"io"

	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
)

// GetLoadBias returns the load bias of the object backing the mapping. If
// the object is not resolved yet, only the headers are read to compute it.
// Mappings without a valid object have a load bias of 0.
func (mi *MapInfo) GetLoadBias(processMemory io.ReaderAt) int64 {
	fields := mi.objectFields()
	if bias := fields.loadBias.Get(); bias != nil {
		return *bias
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if bias := fields.loadBias.Get(); bias != nil {
		return *bias
	}

	var bias int64
	if obj := fields.object.Get(); obj != nil {
		if (*obj).Valid() {
			bias = (*obj).LoadBias()
		}
	} else {
		l := mi.createMemory(processMemory)
		bias = objectfile.GetLoadBias(l.view)
		l.close()
	}
	p, _ := fields.loadBias.Publish(bias)
	return *p
}

// GetBuildID returns the raw build ID of the object backing the mapping, or
// an empty string. If the object is not resolved yet, the build ID note is
// read from the backing file. The first computed value is kept.
func (mi *MapInfo) GetBuildID() string {
	fields := mi.objectFields()
	if id := fields.buildID.Get(); id != nil {
		return *id
	}

	var id string
	if obj := fields.object.Get(); obj != nil {
		id = (*obj).BuildID()
	} else {
		id = mi.readBuildID(fields)
	}
	p, _ := fields.buildID.Publish(id)
	return *p
}

func (mi *MapInfo) readBuildID(fields *objectFields) string {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if obj := fields.object.Get(); obj != nil {
		return (*obj).BuildID()
	}
	if mi.name == "" || mi.deviceMap || mi.end <= mi.start {
		return ""
	}
	var l layout
	mi.fileMemory(&l)
	defer l.close()
	return objectfile.GetBuildID(l.view)
}

// GetPrintableBuildID returns the build ID as lowercase hex string.
func (mi *MapInfo) GetPrintableBuildID() string {
	return hex.EncodeToString([]byte(mi.GetBuildID()))
}

// GetFunctionName returns the name of the function containing the object
// relative address addr and the offset of addr into it. It never resolves
// the object: without a resolved object the lookup fails.
func (mi *MapInfo) GetFunctionName(addr uint64) (name string, offset uint64, ok bool) {
	obj := mi.Object()
	if obj == nil {
		return "", 0, false
	}
	return obj.FunctionName(addr)
}

// RelPC translates pc to the virtual address space of the object.
func (mi *MapInfo) RelPC(pc uint64, processMemory io.ReaderAt) uint64 {
	return pc - mi.start + mi.ObjectOffset() + uint64(mi.GetLoadBias(processMemory))
}
