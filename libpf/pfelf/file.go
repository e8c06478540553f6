// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pfelf implements an ELF parser tailored for symbolization. Unlike
// debug/elf it:
//   - supports only 64-bit little-endian objects
//   - loads only the portions of the ELF that are actually accessed
//   - handles partial images such as a mapping read from process memory,
//     where section headers or whole segments may be missing
//   - sizes the dynamic symbol table from the gnu/sysv hash tables, so
//     symbols can be read from images without section headers
//
// The Executable and Linking Format (ELF) specification is available at:
//   https://refspecs.linuxfoundation.org/elf/elf.pdf
//
// Other extensions we support are not well documented, but the following
// blog post contains useful information:
//   - DT_GNU_HASH symbol index:  https://flapenguin.me/elf-dt-gnu-hash
package pfelf // import "go.opentelemetry.io/ebpf-symbolizer/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"syscall"

	"go.opentelemetry.io/ebpf-symbolizer/libpf"
)

const (
	// maxBytesSmallSection is the maximum section size for small parsed
	// sections (e.g. notes)
	maxBytesSmallSection = 4 * 1024

	// maxBytesLargeSection is the maximum section size for large parsed
	// sections (e.g. symbol tables and string tables; libxul has about
	// 4MB .dynstr)
	maxBytesLargeSection = 16 * 1024 * 1024
)

// ErrNotELF is returned when the file is not an ELF
var ErrNotELF = errors.New("not an ELF file")

// ErrNoSymbols is returned when the ELF carries no usable symbol table
var ErrNoSymbols = errors.New("no symbol table")

// File represents an open ELF file
type File struct {
	// elfReader is the ReadAt implementation used for this File
	elfReader io.ReaderAt

	// Progs contains the program header
	Progs []Prog

	// Sections contains the program sections if loaded
	Sections []Section

	// sectionsFailed is set when section headers could not be loaded, which
	// is common for images read from process memory.
	sectionsFailed bool

	// elfHeader is the ELF file header
	elfHeader elf.Header64

	// gnuHash contains the DT_GNU_HASH header address and data
	gnuHash struct {
		addr   int64
		header gnuHashHeader
	}

	// sysvHash contains the DT_HASH (SYS-V hash) header address and data
	sysvHash struct {
		addr   int64
		header sysvHashHeader
	}

	// stringsAddr is the virtual address for string table from the Dynamic section
	stringsAddr int64

	// stringsSize is DT_STRSZ
	stringsSize int64

	// symbolsAddr is the virtual address for symbol table from the Dynamic section
	symbolsAddr int64

	// Fields to mimic elf.debug
	Type    elf.Type
	Machine elf.Machine
	Entry   uint64
}

// sysvHashHeader is the ELF DT_HASH section header
type sysvHashHeader struct {
	numBuckets uint32
	numSymbols uint32
}

// gnuHashHeader is the ELF DT_GNU_HASH section header
type gnuHashHeader struct {
	numBuckets   uint32
	symbolOffset uint32
	bloomSize    uint32
	bloomShift   uint32
}

// Prog represents a program header, and data associated with it
type Prog struct {
	elf.ProgHeader

	// elfReader is the same ReadAt as used for the File
	elfReader io.ReaderAt
}

// Section represents a section header, and data associated with it
type Section struct {
	elf.SectionHeader

	// Embed ReaderAt for ReadAt method.
	io.ReaderAt
}

// NewFile creates a new ELF file object that borrows the given reader.
func NewFile(r io.ReaderAt) (*File, error) {
	f := &File{elfReader: r}
	if err := f.readHeaders(); err != nil {
		return nil, err
	}
	return f, nil
}

// readHeader reads and validates the ELF header at offset 0 of r.
func readHeader(r io.ReaderAt, hdr *elf.Header64) error {
	if _, err := r.ReadAt(libpf.SliceFrom(hdr), 0); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrNotELF
		}
		return err
	}
	if !bytes.Equal(hdr.Ident[0:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return ErrNotELF
	}
	if elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64 ||
		elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB ||
		elf.Version(hdr.Ident[elf.EI_VERSION]) != elf.EV_CURRENT {
		return fmt.Errorf("unsupported ELF file: %v", hdr.Ident)
	}
	return nil
}

// IsValid reports whether r starts with a supported ELF header.
func IsValid(r io.ReaderAt) bool {
	var hdr elf.Header64
	return readHeader(r, &hdr) == nil
}

// readHeaders loads the file and program headers and the PT_DYNAMIC
// entries needed to locate the dynamic symbol table.
func (f *File) readHeaders() error {
	r := f.elfReader
	hdr := &f.elfHeader
	if err := readHeader(r, hdr); err != nil {
		return err
	}

	// fill the Machine and Type fields
	f.Machine = elf.Machine(hdr.Machine)
	f.Type = elf.Type(hdr.Type)
	f.Entry = hdr.Entry

	// if number of program headers is 0 this is likely not the ELF file we
	// are interested in
	if hdr.Phnum == 0 {
		return fmt.Errorf("ELF with zero Program headers (type: %v)", hdr.Type)
	}

	progs := make([]elf.Prog64, hdr.Phnum)
	if _, err := r.ReadAt(libpf.SliceOf(progs), int64(hdr.Phoff)); err != nil {
		return err
	}

	f.Progs = make([]Prog, hdr.Phnum)
	for i, ph := range progs {
		p := &f.Progs[i]
		p.ProgHeader = elf.ProgHeader{
			Type:   elf.ProgType(ph.Type),
			Flags:  elf.ProgFlag(ph.Flags),
			Off:    ph.Off,
			Vaddr:  ph.Vaddr,
			Paddr:  ph.Paddr,
			Filesz: ph.Filesz,
			Memsz:  ph.Memsz,
			Align:  ph.Align,
		}
		p.elfReader = r
	}

	for i := range f.Progs {
		p := &f.Progs[i]
		if p.Type != elf.PT_DYNAMIC || p.Filesz == 0 {
			continue
		}
		rdr, err := p.DataReader(maxBytesLargeSection)
		if err != nil {
			continue
		}
		var dyn elf.Dyn64
		for {
			if _, err := rdr.Read(libpf.SliceFrom(&dyn)); err != nil {
				break
			}
			switch elf.DynTag(dyn.Tag) {
			case elf.DT_HASH:
				f.sysvHash.addr = int64(dyn.Val)
			case elf.DT_STRTAB:
				f.stringsAddr = int64(dyn.Val)
			case elf.DT_STRSZ:
				f.stringsSize = int64(dyn.Val)
			case elf.DT_SYMTAB:
				f.symbolsAddr = int64(dyn.Val)
			case elf.DT_GNU_HASH:
				f.gnuHash.addr = int64(dyn.Val)
			}
		}
	}
	return nil
}

// getString extracts a null terminated string from an ELF string table
func getString(section []byte, start int) (string, bool) {
	if start < 0 || start >= len(section) {
		return "", false
	}
	slen := bytes.IndexByte(section[start:], 0)
	if slen < 0 {
		return "", false
	}
	return string(section[start : start+slen]), true
}

// LoadSections loads the ELF file sections
func (f *File) LoadSections() error {
	if f.sectionsFailed {
		return errors.New("section headers are not available")
	}
	if f.Sections != nil {
		// Already loaded.
		return nil
	}

	hdr := &f.elfHeader
	if hdr.Shnum == 0 {
		// No sections. Nothing to do.
		return nil
	}
	if hdr.Shstrndx >= hdr.Shnum {
		return fmt.Errorf("invalid ELF section string table index (%d / %d)",
			hdr.Shstrndx, hdr.Shnum)
	}

	// Load section headers
	sections := make([]elf.Section64, hdr.Shnum)
	if _, err := f.elfReader.ReadAt(libpf.SliceOf(sections), int64(hdr.Shoff)); err != nil {
		return err
	}

	loaded := make([]Section, hdr.Shnum)
	for i, sh := range sections {
		s := &loaded[i]
		s.SectionHeader = elf.SectionHeader{
			Type:      elf.SectionType(sh.Type),
			Flags:     elf.SectionFlag(sh.Flags),
			Addr:      sh.Addr,
			Offset:    sh.Off,
			Size:      sh.Size,
			Link:      sh.Link,
			Info:      sh.Info,
			Addralign: sh.Addralign,
			Entsize:   sh.Entsize,
			FileSize:  sh.Size,
		}
		s.ReaderAt = io.NewSectionReader(f.elfReader, int64(s.Offset), int64(s.FileSize))
	}

	// Load the section name string table
	strsh := &loaded[hdr.Shstrndx]
	if strsh.FileSize >= 1024*1024 {
		return fmt.Errorf("section headers string table too large (%d)",
			strsh.FileSize)
	}
	strtab, err := strsh.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}
	for i := range loaded {
		sh := &loaded[i]
		var ok bool
		sh.Name, ok = getString(strtab, int(sections[i].Name))
		if !ok {
			return fmt.Errorf("bad section name index (section %d, index %d/%d)",
				i, sections[i].Name, len(strtab))
		}
	}
	f.Sections = loaded

	return nil
}

// Section returns a section with the given name, or nil if no such section exists.
func (f *File) Section(name string) *Section {
	if err := f.LoadSections(); err != nil {
		f.sectionsFailed = true
		return nil
	}
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ReadVirtualMemory reads bytes from given virtual address
func (f *File) ReadVirtualMemory(p []byte, addr int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for _, ph := range f.Progs {
		// Search for the Program header that contains the start address.
		// ReadVirtualMemory() supports ReadAt() style indication of reading
		// less bytes then requested, so addr+len(p) can be an address beyond
		// the segment and ReadAt() will give short read.
		if ph.Type == elf.PT_LOAD && uint64(addr) >= ph.Vaddr &&
			uint64(addr) < ph.Vaddr+ph.Memsz {
			return ph.ReadAt(p, addr-int64(ph.Vaddr))
		}
	}
	return 0, fmt.Errorf("no matching segment for 0x%x", uint64(addr))
}

// ReadAt reads bytes from given virtual address
func (f *File) ReadAt(p []byte, addr int64) (int, error) {
	return f.ReadVirtualMemory(p, addr)
}

// LoadBias returns the load bias of the ELF: the difference between the
// virtual address and the file offset of the first executable PT_LOAD
// segment. Zero is returned if there is no executable segment.
func (f *File) LoadBias() int64 {
	for i := range f.Progs {
		ph := &f.Progs[i]
		if ph.Type == elf.PT_LOAD && ph.Flags&elf.PF_X != 0 {
			return int64(ph.Vaddr) - int64(ph.Off)
		}
	}
	return 0
}

// DeclaredSize returns the size of the ELF image as described by its own
// headers: the end of the section header table or of the last segment's file
// contents, whichever is larger.
func (f *File) DeclaredSize() uint64 {
	hdr := &f.elfHeader
	size := uint64(0)
	if hdr.Shnum != 0 {
		size = hdr.Shoff + uint64(hdr.Shentsize)*uint64(hdr.Shnum)
	}
	for i := range f.Progs {
		ph := &f.Progs[i]
		if ph.Type != elf.PT_LOAD {
			continue
		}
		size = max(size, ph.Off+ph.Filesz)
	}
	return size
}

// GetBuildID returns the ELF BuildID as hex string if present
func (f *File) GetBuildID() (string, error) {
	data, err := f.buildIDNotes()
	if err != nil {
		return "", err
	}
	return getBuildIDFromNotes(data)
}

// GetBuildIDBytes returns the raw ELF BuildID bytes if present
func (f *File) GetBuildIDBytes() ([]byte, error) {
	data, err := f.buildIDNotes()
	if err != nil {
		return nil, err
	}
	return getBuildIDBytesFromNotes(data)
}

// buildIDNotes returns the contents of the note section or segment that
// holds the GNU build ID. Section headers are preferred, and PT_NOTE
// segments serve images where the section headers are not mapped.
func (f *File) buildIDNotes() ([]byte, error) {
	s := f.Section(".note.gnu.build-id")
	if s == nil {
		s = f.Section(".notes")
	}
	if s != nil {
		return s.Data(maxBytesSmallSection)
	}
	for i := range f.Progs {
		ph := &f.Progs[i]
		if ph.Type != elf.PT_NOTE {
			continue
		}
		data, err := ph.Data(maxBytesSmallSection)
		if err != nil {
			continue
		}
		if _, found, _ := getNoteDescBytes(data, "GNU", buildIDNoteType); found {
			return data, nil
		}
	}
	return nil, ErrNoBuildID
}

// ReadAt implements the io.ReaderAt interface
func (ph *Prog) ReadAt(p []byte, off int64) (n int, err error) {
	// First load as much as possible from the disk
	if uint64(off) < ph.Filesz {
		end := int(min(int64(len(p)), int64(ph.Filesz)-off))
		n, err = ph.elfReader.ReadAt(p[0:end], int64(ph.Off)+off)
		if n == 0 && errors.Is(err, syscall.EFAULT) {
			// Read zeroes from sparse file holes
			clear(p[0:end])
			n = end
			err = nil
		}
		if n != end || err != nil {
			return n, err
		}
		off += int64(n)
	}

	// The gap between Filesz and Memsz is allocated by dynamic loader as
	// anonymous pages, and zero initialized. Read zeroes from this area.
	if n < len(p) && uint64(off) < ph.Memsz {
		end := int(min(int64(len(p)-n), int64(ph.Memsz)-off))
		clear(p[n : n+end])
		n += end
	}

	if n != len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Data loads the whole program header referenced data, and returns it as slice.
func (ph *Prog) Data(maxSize uint) ([]byte, error) {
	if ph.Filesz > uint64(maxSize) {
		return nil, fmt.Errorf("segment size %d is too large", ph.Filesz)
	}
	p := make([]byte, ph.Filesz)
	_, err := ph.ReadAt(p, 0)
	return p, err
}

// DataReader loads the whole program header referenced data, and returns reader to it.
func (ph *Prog) DataReader(maxSize uint) (io.Reader, error) {
	p, err := ph.Data(maxSize)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(p), nil
}

// Data loads the whole section header referenced data, and returns it as a
// slice. Compressed sections are transparently decompressed.
func (sh *Section) Data(maxSize uint) ([]byte, error) {
	if sh.Type == elf.SHT_NOBITS {
		return nil, fmt.Errorf("section %s has no data", sh.Name)
	}
	if sh.FileSize > uint64(maxSize) {
		return nil, fmt.Errorf("section size %d is too large", sh.FileSize)
	}
	p := make([]byte, sh.FileSize)
	if _, err := sh.ReadAt(p, 0); err != nil {
		return nil, err
	}
	if sh.Flags&elf.SHF_COMPRESSED != 0 {
		return decompressSection(p, maxSize)
	}
	return p, nil
}

// loadGNUHashHeader reads the DT_GNU_HASH header on first use.
func (f *File) loadGNUHashHeader() error {
	hdr := &f.gnuHash.header
	if hdr.numBuckets != 0 {
		return nil
	}
	if _, err := f.ReadVirtualMemory(libpf.SliceFrom(hdr), f.gnuHash.addr); err != nil {
		return err
	}
	if hdr.numBuckets == 0 || hdr.bloomSize == 0 {
		return errors.New("DT_GNU_HASH corrupt")
	}
	return nil
}

// loadSysvHashHeader reads the DT_HASH header on first use.
func (f *File) loadSysvHashHeader() error {
	hdr := &f.sysvHash.header
	if hdr.numBuckets != 0 {
		return nil
	}
	if _, err := f.ReadVirtualMemory(libpf.SliceFrom(hdr), f.sysvHash.addr); err != nil {
		return err
	}
	if hdr.numBuckets == 0 {
		return errors.New("DT_HASH corrupt")
	}
	return nil
}
