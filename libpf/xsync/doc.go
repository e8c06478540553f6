// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package xsync provides thin wrappers around locking and publication primitives
// that make the relationship between shared state and its synchronization explicit.
package xsync // import "go.opentelemetry.io/ebpf-symbolizer/libpf/xsync"
