//go:build !amd64 && !arm64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"

import "debug/elf"

// CurrentMachine is the ELF machine of the running process.
const CurrentMachine = elf.EM_NONE
