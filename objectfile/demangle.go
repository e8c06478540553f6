// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package objectfile // import "go.opentelemetry.io/ebpf-symbolizer/objectfile"

import (
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// DemangleMode selects how much of a demangled C++ or Rust name is kept.
type DemangleMode string

const (
	DemangleNone       DemangleMode = "none"
	DemangleSimplified DemangleMode = "simplified"
	DemangleTemplates  DemangleMode = "templates"
	DemangleFull       DemangleMode = "full"
)

// ParseDemangleMode converts a user supplied mode name.
func ParseDemangleMode(s string) (DemangleMode, error) {
	switch m := DemangleMode(strings.ToLower(s)); m {
	case "", DemangleNone:
		return DemangleNone, nil
	case DemangleSimplified, DemangleTemplates, DemangleFull:
		return m, nil
	}
	return DemangleNone, fmt.Errorf("unknown demangle mode %q", s)
}

func (m DemangleMode) options() []demangle.Option {
	switch m {
	case DemangleSimplified:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams,
			demangle.NoTemplateParams}
	case DemangleTemplates:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	default:
		return []demangle.Option{demangle.NoClones}
	}
}

// Demangle returns the demangled form of name, or name itself if it is not
// a mangled symbol or the mode is DemangleNone.
func (m DemangleMode) Demangle(name string) string {
	if m == DemangleNone || m == "" {
		return name
	}
	return demangle.Filter(name, m.options()...)
}
