// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash provides cheap integer mixing functions for cache bucket selection.
package hash // import "go.opentelemetry.io/ebpf-symbolizer/libpf/hash"

// Uint64 computes a hash of a 64-bit uint using the finalizer function for Murmur3
// Via https://lemire.me/blog/2018/08/15/fast-strongly-universal-64-bit-hashing-everywhere/
func Uint64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Uint64To32 folds the Murmur3 finalizer result of x into 32 bits, the key
// width used by the LRU caches.
func Uint64To32(x uint64) uint32 {
	h := Uint64(x)
	return uint32(h ^ h>>32)
}
