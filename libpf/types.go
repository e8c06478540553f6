// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/ebpf-symbolizer/libpf"

// Address is a virtual address in the address space of a process.
type Address uint64

// PID is a Unix process ID (pid_t).
type PID uint32
