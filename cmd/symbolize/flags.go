// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/ebpf-symbolizer/objectfile"
)

const (
	// Default values for CLI flags
	defaultArgCacheSize = 1024
	defaultArgDemangle  = string(objectfile.DemangleFull)
	defaultArgLogLevel  = "info"
	defaultArgParallel  = 4
)

// Help strings for command line arguments
var (
	pidHelp       = "PID of the process whose addresses are symbolized."
	addrsHelp     = "Comma-separated list of hexadecimal addresses to symbolize."
	cacheSizeHelp = "Number of parsed objects shared between mappings. 0 disables sharing."
	configHelp    = "Path of a configuration file with one 'flag value' pair per line."
	demangleHelp  = "Demangling of C++ and Rust symbols: none, simplified, templates or full."
	logLevelHelp  = "Log level: debug, info, warn or error."
	parallelHelp  = "Number of addresses symbolized concurrently."
	verboseHelp   = "Enable verbose logging. Same as -log-level=debug."
	versionHelp   = "Show version."
)

type arguments struct {
	pid       uint
	addrs     string
	cacheSize uint
	demangle  string
	logLevel  string
	parallel  int
	verbose   bool
	version   bool

	addresses    []uint64
	demangleMode objectfile.DemangleMode
}

func parseArgs(args []string) (*arguments, error) {
	var a arguments

	fs := flag.NewFlagSet("symbolize", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&a.addrs, "addrs", "", addrsHelp)
	fs.UintVar(&a.cacheSize, "cache-size", defaultArgCacheSize, cacheSizeHelp)
	fs.String("config", "", configHelp)
	fs.StringVar(&a.demangle, "demangle", defaultArgDemangle, demangleHelp)
	fs.StringVar(&a.logLevel, "log-level", defaultArgLogLevel, logLevelHelp)
	fs.IntVar(&a.parallel, "parallel", defaultArgParallel, parallelHelp)
	fs.UintVar(&a.pid, "pid", 0, pidHelp)
	fs.BoolVar(&a.verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&a.verbose, "verbose", false, verboseHelp)
	fs.BoolVar(&a.version, "version", false, versionHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("SYMBOLIZE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	); err != nil {
		return nil, err
	}
	return &a, a.validate()
}

func (a *arguments) validate() error {
	if a.version {
		return nil
	}
	if a.pid == 0 {
		return errors.New("-pid is required")
	}
	if a.parallel < 1 {
		return fmt.Errorf("-parallel must be at least 1, got %d", a.parallel)
	}
	if a.cacheSize > 1<<20 {
		return fmt.Errorf("-cache-size %d is too large", a.cacheSize)
	}
	mode, err := objectfile.ParseDemangleMode(a.demangle)
	if err != nil {
		return err
	}
	a.demangleMode = mode
	a.addresses, err = parseAddresses(a.addrs)
	return err
}

// parseAddresses parses a comma separated list of hexadecimal addresses,
// with or without 0x prefix.
func parseAddresses(s string) ([]uint64, error) {
	var addrs []uint64
	for field := range strings.SplitSeq(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		field = strings.TrimPrefix(strings.ToLower(field), "0x")
		addr, err := strconv.ParseUint(field, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", field, err)
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, errors.New("-addrs is required")
	}
	return addrs, nil
}
