// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ebpf-symbolizer/process"

import (
	"bufio"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/ebpf-symbolizer/internal/log"
	"go.opentelemetry.io/ebpf-symbolizer/libpf"
	"go.opentelemetry.io/ebpf-symbolizer/memview"
	"go.opentelemetry.io/ebpf-symbolizer/remotememory"
)

// GetMappings returns this error when no mappings can be extracted.
var ErrNoMappings = errors.New("no mappings")

// errMalformed is counted, not returned, by parseMappings.
var errMalformed = errors.New("malformed maps line")

// systemProcess provides an implementation of the Process interface for a
// process that is currently running on this machine.
type systemProcess struct {
	pid          libpf.PID
	remoteMemory remotememory.RemoteMemory
}

var _ Process = &systemProcess{}

var bufPool sync.Pool

// mappingParseBufferSize defines the initial buffer size used to store lines from
// /proc/PID/maps during parsing of mappings.
const mappingParseBufferSize = 256

func init() {
	bufPool = sync.Pool{
		New: func() any {
			buf := make([]byte, mappingParseBufferSize)
			return &buf
		},
	}
}

// New returns an object with Process interface accessing it
func New(pid libpf.PID) Process {
	return &systemProcess{
		pid:          pid,
		remoteMemory: remotememory.NewProcessVirtualMemory(pid),
	}
}

func (sp *systemProcess) PID() libpf.PID {
	return sp.pid
}

func trimMappingPath(path string) string {
	// Trim the deleted indication from the path.
	// See path_with_deleted in linux/fs/d_path.c
	path = strings.TrimSuffix(path, " (deleted)")
	if path == "/dev/zero" {
		// Some JIT engines map JIT area from /dev/zero
		// make it anonymous.
		return ""
	}
	return path
}

// nextField returns the first whitespace separated field of s and the
// remainder of s after it.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

func parseHex(s, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return v, nil
}

// parseMappingLine parses one line of /proc/PID/maps. The keep result is
// false for mappings that are neither readable nor executable.
func parseMappingLine(line string) (m Mapping, keep bool, err error) {
	var addrs, perms, offset, dev, inode string
	addrs, line = nextField(line)
	perms, line = nextField(line)
	offset, line = nextField(line)
	dev, line = nextField(line)
	inode, line = nextField(line)
	if inode == "" {
		return m, false, errMalformed
	}
	if len(perms) < 3 {
		return m, false, fmt.Errorf("flags %q: %w", perms, errMalformed)
	}

	if perms[0] == 'r' {
		m.Flags |= elf.PF_R
	}
	if perms[1] == 'w' {
		m.Flags |= elf.PF_W
	}
	if perms[2] == 'x' {
		m.Flags |= elf.PF_X
	}
	// Ignore non-readable and non-executable mappings
	if m.Flags&(elf.PF_R|elf.PF_X) == 0 {
		return m, false, nil
	}

	start, end, ok := strings.Cut(addrs, "-")
	if !ok {
		return m, false, fmt.Errorf("address range %q: %w", addrs, errMalformed)
	}
	major, minor, ok := strings.Cut(dev, ":")
	if !ok {
		return m, false, fmt.Errorf("device %q: %w", dev, errMalformed)
	}

	if m.Inode, err = strconv.ParseUint(inode, 10, 64); err != nil {
		return m, false, fmt.Errorf("inode: %w", err)
	}
	devMajor, err := parseHex(major, "major device")
	if err != nil {
		return m, false, err
	}
	devMinor, err := parseHex(minor, "minor device")
	if err != nil {
		return m, false, err
	}
	m.Device = devMajor<<8 + devMinor
	if m.Vaddr, err = parseHex(start, "vaddr"); err != nil {
		return m, false, err
	}
	vend, err := parseHex(end, "vend")
	if err != nil {
		return m, false, err
	}
	if vend < m.Vaddr {
		return m, false, fmt.Errorf("range %q: %w", addrs, errMalformed)
	}
	m.Length = vend - m.Vaddr
	if m.FileOffset, err = parseHex(offset, "fileOffset"); err != nil {
		return m, false, err
	}

	m.Path = trimMappingPath(strings.TrimLeft(line, " \t"))
	return m, true, nil
}

// parseMappings parses the contents of a /proc/PID/maps file. Anonymous
// mappings and special mappings like [vdso] are kept, since the mapping
// list must describe the full address space for neighbour lookups.
func parseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	numParseErrors := uint32(0)
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanBuf := bufPool.Get().(*[]byte)
	defer bufPool.Put(scanBuf)

	scanner.Buffer(*scanBuf, 8192)
	for scanner.Scan() {
		m, keep, err := parseMappingLine(scanner.Text())
		if err != nil {
			log.Debugf("Failed to parse mapping: %v", err)
			numParseErrors++
			continue
		}
		if keep {
			mappings = append(mappings, m)
		}
	}
	return mappings, numParseErrors, scanner.Err()
}

// GetMappings will process the mappings file from proc.
func (sp *systemProcess) GetMappings() ([]Mapping, uint32, error) {
	mapsFile, err := os.Open(fmt.Sprintf("/proc/%d/maps", sp.pid))
	if err != nil {
		return nil, 0, err
	}
	defer mapsFile.Close()

	mappings, numParseErrors, err := parseMappings(mapsFile)
	if err != nil {
		return mappings, numParseErrors, err
	}
	if len(mappings) == 0 {
		return mappings, numParseErrors, ErrNoMappings
	}
	return mappings, numParseErrors, nil
}

func (sp *systemProcess) Close() error {
	return nil
}

func (sp *systemProcess) GetRemoteMemory() remotememory.RemoteMemory {
	return sp.remoteMemory
}

// rootOpener opens files relative to the root directory of a process, so
// that paths from a container's mount namespace resolve to the right file.
type rootOpener struct {
	root string
}

func (o rootOpener) Open(name string) (*os.File, error) {
	return os.Open(path.Join(o.root, name))
}

func (sp *systemProcess) FileOpener() memview.FileOpener {
	return rootOpener{root: path.Join("/proc", strconv.Itoa(int(sp.pid)), "root")}
}
