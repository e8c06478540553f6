// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mapinfo // import "go.opentelemetry.io/ebpf-symbolizer/mapinfo"

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/ebpf-symbolizer/memview"
	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
)

// Config configures how the mappings of a snapshot resolve their objects.
type Config struct {
	// Cache shares objects between mappings of all snapshots using it.
	// A nil Cache disables sharing.
	Cache *ObjectCache
	// Demangle selects how symbol names of the default ELF objects are
	// demangled.
	Demangle objectfile.DemangleMode
	// Opener opens the backing files. Nil opens from the local file system.
	Opener memview.FileOpener
	// NewObject creates objects over memory views. Nil creates ELF objects.
	NewObject objectfile.Constructor
}

// Validate checks the configuration for values that cannot work.
func (cfg *Config) Validate() error {
	mode, err := objectfile.ParseDemangleMode(string(cfg.Demangle))
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.NewObject != nil && mode != objectfile.DemangleNone {
		return errors.New("invalid configuration: Demangle has no effect with a custom NewObject")
	}
	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.Opener == nil {
		cfg.Opener = memview.SystemOpener
	}
	if cfg.NewObject == nil {
		mode, _ := objectfile.ParseDemangleMode(string(cfg.Demangle))
		cfg.NewObject = objectfile.ELFConstructor(objectfile.WithDemangle(mode))
	}
	return cfg
}
