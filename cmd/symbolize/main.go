// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// symbolize resolves addresses of a running process to function names,
// using the mappings and binaries of the process.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ebpf-symbolizer/internal/log"
	"go.opentelemetry.io/ebpf-symbolizer/libpf"
	"go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"
	"go.opentelemetry.io/ebpf-symbolizer/mapinfo"
	"go.opentelemetry.io/ebpf-symbolizer/process"
	"go.opentelemetry.io/ebpf-symbolizer/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failure to parse arguments: %v\n", err)
		return exitParseError
	}

	if args.version {
		fmt.Println(vc.String())
		return exitSuccess
	}

	if args.verbose {
		log.SetDebugLogger()
	} else if err = log.SetLevel(args.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failure to parse arguments: %v\n", err)
		return exitParseError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	if err = run(ctx, args, os.Stdout); err != nil {
		log.Errorf("%v", err)
		return exitFailure
	}
	return exitSuccess
}

func run(ctx context.Context, args *arguments, out io.Writer) error {
	proc := process.New(libpf.PID(args.pid))
	defer proc.Close()

	mappings, numParseErrors, err := proc.GetMappings()
	if err != nil {
		return fmt.Errorf("failed to read mappings of PID %d: %w", args.pid, err)
	}
	if numParseErrors != 0 {
		log.Warnf("Skipped %d malformed mappings of PID %d", numParseErrors, args.pid)
	}

	cfg := mapinfo.Config{
		Demangle: args.demangleMode,
		Opener:   proc.FileOpener(),
	}
	if args.cacheSize != 0 {
		if cfg.Cache, err = mapinfo.NewObjectCache(uint32(args.cacheSize)); err != nil {
			return err
		}
	}
	maps, err := mapinfo.NewMaps(cfg, mapinfo.DescriptorsFromMappings(mappings))
	if err != nil {
		return err
	}
	log.Debugf("symbolize %s: PID %d has %d mappings", vc.Version(), args.pid, maps.Len())

	var processMemory io.ReaderAt
	if rm := proc.GetRemoteMemory(); rm.Valid() {
		processMemory = rm
	}
	frames, err := symbolizeAll(ctx, maps, processMemory, args.addresses, args.parallel)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		fmt.Fprintln(out, formatFrame(frame))
	}
	return nil
}

// symbolizeAll symbolizes addrs with up to parallel goroutines, returning
// the frames in the order of addrs.
func symbolizeAll(ctx context.Context, maps *mapinfo.Maps, processMemory io.ReaderAt,
	addrs []uint64, parallel int) ([]mapinfo.Frame, error) {
	frames := make([]mapinfo.Frame, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, addr := range addrs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frames[i], _ = maps.Symbolize(addr, processMemory, pfelf.CurrentMachine)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("symbolization interrupted: %w", err)
	}
	return frames, nil
}

func formatFrame(frame mapinfo.Frame) string {
	mi := frame.Map
	if mi == nil {
		return fmt.Sprintf("0x%x ??", frame.PC)
	}
	function := "??"
	if frame.Function != "" {
		function = fmt.Sprintf("%s+0x%x", frame.Function, frame.FunctionOffset)
	}
	buildID := mi.GetPrintableBuildID()
	if buildID == "" {
		buildID = "-"
	}
	return fmt.Sprintf("0x%x %s+0x%x %s %s %d %s", frame.PC, mappingName(mi),
		frame.PC-mi.Start()+mi.Offset(), function, buildID, mi.GetLoadBias(nil),
		fileID(mi))
}

func mappingName(mi *mapinfo.MapInfo) string {
	if mi.Name() == "" {
		return "[anon]"
	}
	return mi.Name()
}

func fileID(mi *mapinfo.MapInfo) string {
	if mi.MemoryBackedObject() {
		return "-"
	}
	id, err := mi.FileID()
	if err != nil {
		log.Debugf("No file ID for %s: %v", mappingName(mi), err)
		return "-"
	}
	return id.ToUUIDString()
}
