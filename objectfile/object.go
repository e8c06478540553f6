// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectfile provides the parsed representation of the binary that
// backs a mapping, and a few lightweight probes that read single properties
// of a binary without building the full representation.
package objectfile // import "go.opentelemetry.io/ebpf-symbolizer/objectfile"

import (
	"debug/elf"

	"go.opentelemetry.io/ebpf-symbolizer/memview"
)

// Object is a parsed binary.
//
// An Object is created over a memory view and initialized once with Init.
// Its validity is fixed afterwards except for Invalidate, which permanently
// turns a valid object invalid. An invalid object answers every query with
// an empty result. All methods are safe for concurrent use.
type Object interface {
	// Init parses the headers and reports whether the object is valid.
	Init() bool
	// Valid reports whether Init succeeded and the object was not invalidated.
	Valid() bool
	// Invalidate marks the object as permanently invalid.
	Invalidate()
	// Machine returns the architecture found by Init.
	Machine() elf.Machine
	// FunctionName returns the function containing the object relative
	// virtual address vaddr and the offset of vaddr into it.
	FunctionName(vaddr uint64) (name string, offset uint64, ok bool)
	// LoadBias returns the difference between the link time virtual address
	// and file offset of the executable segment.
	LoadBias() int64
	// BuildID returns the raw build ID bytes, or an empty string.
	BuildID() string
	// View returns the memory the object was built from.
	View() memview.View
}

// Constructor creates an uninitialized Object over a view. The view may be
// nil, in which case Init must fail.
type Constructor func(view memview.View) Object
