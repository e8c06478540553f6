// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/ebpf-symbolizer/libpf/xsync"

import (
	"sync"
	"sync/atomic"
)

// NOTE: synchronization logic closely borrowed from sync.Once

// Once is a lock that ensures that some data is computed exactly once.
//
// Unlike sync.OnceValues the outcome, including a failure, is kept and
// returned to every later caller: a failed computation is never retried.
//
// Does not need explicit construction: simply do Once[MyType]{}.
type Once[T any] struct {
	done atomic.Bool
	mu   sync.Mutex
	data T
	err  error
}

// GetOrInit returns the data protected by this lock, running init on the
// first call. Only one goroutine will ever call init; contending callers
// block until it has returned.
func (l *Once[T]) GetOrInit(init func() (T, error)) (*T, error) {
	if !l.done.Load() {
		// Outlined slow-path to allow inlining of the fast-path.
		return l.initSlow(init)
	}
	return l.result()
}

func (l *Once[T]) initSlow(init func() (T, error)) (*T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Contending call might have initialized while we waited for the lock.
	if !l.done.Load() {
		l.data, l.err = init()
		l.done.Store(true)
	}
	return l.result()
}

func (l *Once[T]) result() (*T, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &l.data, nil
}

// Get the previously initialized value.
//
// If the Once is not yet initialized, or initialization failed, nil is returned.
func (l *Once[T]) Get() *T {
	if !l.done.Load() || l.err != nil {
		return nil
	}
	return &l.data
}
