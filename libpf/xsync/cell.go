// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/ebpf-symbolizer/libpf/xsync"

import "sync/atomic"

// Cell holds a value that is published at most once.
//
// A candidate value is built by the caller without holding any lock and
// then offered with Publish. The first Publish wins; every later Publish
// discards its candidate and hands back the stored value. Readers never
// block.
//
// Does not need explicit construction: simply do Cell[MyType]{}.
type Cell[T any] struct {
	p atomic.Pointer[T]
}

// Get returns the published value, or nil if nothing was published yet.
func (c *Cell[T]) Get() *T {
	return c.p.Load()
}

// Publish stores v unless another value was published before. It returns
// the value now held by the cell and whether v was the one stored.
func (c *Cell[T]) Publish(v T) (*T, bool) {
	return c.PublishPointer(&v)
}

// PublishPointer is Publish for values that must not be copied. The cell
// takes ownership of candidate if it is stored.
func (c *Cell[T]) PublishPointer(candidate *T) (*T, bool) {
	if c.p.CompareAndSwap(nil, candidate) {
		return candidate, true
	}
	return c.p.Load(), false
}

// GetOrPublish returns the published value, building and publishing one
// with build if the cell is still empty. build may run concurrently in
// several goroutines; only one result is kept. Like PublishPointer, the
// built value is never copied.
func (c *Cell[T]) GetOrPublish(build func() *T) *T {
	if p := c.p.Load(); p != nil {
		return p
	}
	p, _ := c.PublishPointer(build())
	return p
}
