// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport // import "go.opentelemetry.io/ebpf-symbolizer/testsupport"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// ELFSymbol describes a symbol emitted by ELFBuilder.
type ELFSymbol struct {
	Name  string
	Value uint64
	Size  uint64
	// Data marks the symbol as STT_OBJECT instead of STT_FUNC.
	Data bool
}

// ELFBuilder produces small, valid ELF64 little-endian images.
//
// The image has a read-only PT_LOAD segment covering [0, TextOffset) at
// virtual address 0 and a read-execute PT_LOAD segment covering
// [TextOffset, TextOffset+TextSize) at TextVaddr. All metadata (notes,
// symbol tables, dynamic section, section headers) is placed in the first
// segment, so it is readable both from the file and from process memory.
type ELFBuilder struct {
	// Machine defaults to EM_X86_64.
	Machine elf.Machine
	// BuildID is emitted as a GNU build ID note, both as section and PT_NOTE.
	BuildID []byte
	// Symbols are emitted in the symbol table.
	Symbols []ELFSymbol
	// SymbolSection names the symbol table section, ".symtab" by default.
	SymbolSection string
	// Dynamic adds a PT_DYNAMIC segment with DT_HASH describing the symbols.
	Dynamic bool
	// OmitSections leaves the section header table out.
	OmitSections bool
	// TextOffset defaults to 0x1000.
	TextOffset uint64
	// TextVaddr defaults to TextOffset.
	TextVaddr uint64
	// TextSize defaults to 0x1000.
	TextSize uint64
	// Size pads the image up to the given size.
	Size uint64
}

const (
	elfHeaderSize  = 64
	progHeaderSize = 56
	sectHeaderSize = 64
	symbolSize     = 24
	metadataStart  = 0x200
)

func align(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

// Build returns the ELF image. It panics if the metadata does not fit in
// front of TextOffset.
func (b ELFBuilder) Build() []byte {
	if b.Machine == elf.EM_NONE {
		b.Machine = elf.EM_X86_64
	}
	if b.TextOffset == 0 {
		b.TextOffset = 0x1000
	}
	if b.TextVaddr == 0 {
		b.TextVaddr = b.TextOffset
	}
	if b.TextSize == 0 {
		b.TextSize = 0x1000
	}
	if b.SymbolSection == "" {
		b.SymbolSection = ".symtab"
	}

	meta := &bytes.Buffer{}
	meta.Write(make([]byte, metadataStart))
	pos := func() uint64 { return uint64(meta.Len()) }
	pad := func(a uint64) { meta.Write(make([]byte, align(pos(), a)-pos())) }
	le := binary.LittleEndian

	// GNU build ID note.
	var noteOff, noteSize uint64
	if len(b.BuildID) != 0 {
		pad(4)
		noteOff = pos()
		_ = binary.Write(meta, le, uint32(4))
		_ = binary.Write(meta, le, uint32(len(b.BuildID)))
		_ = binary.Write(meta, le, uint32(3))
		meta.WriteString("GNU\x00")
		meta.Write(b.BuildID)
		pad(4)
		noteSize = pos() - noteOff
	}

	// Symbol string table.
	strtab := []byte{0}
	nameIdx := make([]uint32, len(b.Symbols))
	for i, s := range b.Symbols {
		nameIdx[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	strOff := pos()
	meta.Write(strtab)

	// Symbol table, entry 0 is the null symbol.
	const textSectionIdx = 2
	pad(8)
	symOff := pos()
	meta.Write(make([]byte, symbolSize))
	for i, s := range b.Symbols {
		typ := elf.STT_FUNC
		if s.Data {
			typ = elf.STT_OBJECT
		}
		_ = binary.Write(meta, le, elf.Sym64{
			Name:  nameIdx[i],
			Info:  elf.ST_INFO(elf.STB_GLOBAL, typ),
			Shndx: textSectionIdx,
			Value: s.Value,
			Size:  s.Size,
		})
	}
	numSyms := uint64(len(b.Symbols) + 1)
	symSize := numSyms * symbolSize

	// DT_HASH with a single bucket chaining all symbols, and the dynamic array.
	var dynOff, dynSize uint64
	if b.Dynamic {
		pad(8)
		hashOff := pos()
		_ = binary.Write(meta, le, uint32(1))
		_ = binary.Write(meta, le, uint32(numSyms))
		first := uint32(0)
		if numSyms > 1 {
			first = 1
		}
		_ = binary.Write(meta, le, first)
		for i := range uint32(numSyms) {
			next := i + 1
			if i == 0 || uint64(next) >= numSyms {
				next = 0
			}
			_ = binary.Write(meta, le, next)
		}
		pad(8)
		dynOff = pos()
		for _, d := range []elf.Dyn64{
			{Tag: int64(elf.DT_HASH), Val: hashOff},
			{Tag: int64(elf.DT_STRTAB), Val: strOff},
			{Tag: int64(elf.DT_STRSZ), Val: uint64(len(strtab))},
			{Tag: int64(elf.DT_SYMTAB), Val: symOff},
			{Tag: int64(elf.DT_SYMENT), Val: symbolSize},
			{Tag: int64(elf.DT_NULL)},
		} {
			_ = binary.Write(meta, le, d)
		}
		dynSize = pos() - dynOff
	}

	// Section headers.
	type section struct {
		name string
		hdr  elf.Section64
	}
	var shoff uint64
	var shnum, shstrndx uint16
	if !b.OmitSections {
		symType := elf.SHT_SYMTAB
		if b.SymbolSection == ".dynsym" {
			symType = elf.SHT_DYNSYM
		}
		sections := []section{
			{name: ""},
			{name: ".strtab", hdr: elf.Section64{Type: uint32(elf.SHT_STRTAB),
				Off: strOff, Addr: strOff, Size: uint64(len(strtab)), Addralign: 1}},
			{name: ".text", hdr: elf.Section64{Type: uint32(elf.SHT_PROGBITS),
				Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
				Off:   b.TextOffset, Addr: b.TextVaddr, Size: b.TextSize, Addralign: 16}},
			{name: b.SymbolSection, hdr: elf.Section64{Type: uint32(symType),
				Off: symOff, Addr: symOff, Size: symSize, Link: 1, Info: 1,
				Addralign: 8, Entsize: symbolSize}},
		}
		if noteSize != 0 {
			sections = append(sections, section{name: ".note.gnu.build-id",
				hdr: elf.Section64{Type: uint32(elf.SHT_NOTE), Flags: uint64(elf.SHF_ALLOC),
					Off: noteOff, Addr: noteOff, Size: noteSize, Addralign: 4}})
		}
		sections = append(sections, section{name: ".shstrtab",
			hdr: elf.Section64{Type: uint32(elf.SHT_STRTAB), Addralign: 1}})

		shstrtab := []byte{0}
		for i := range sections {
			if sections[i].name == "" {
				continue
			}
			sections[i].hdr.Name = uint32(len(shstrtab))
			shstrtab = append(shstrtab, sections[i].name...)
			shstrtab = append(shstrtab, 0)
		}
		last := &sections[len(sections)-1]
		last.hdr.Off = pos()
		last.hdr.Size = uint64(len(shstrtab))
		meta.Write(shstrtab)

		pad(8)
		shoff = pos()
		for _, s := range sections {
			_ = binary.Write(meta, le, s.hdr)
		}
		shnum = uint16(len(sections))
		shstrndx = shnum - 1
	}

	if pos() > b.TextOffset {
		panic("testsupport: ELF metadata does not fit in front of the text segment")
	}

	// Program headers.
	progs := []elf.Prog64{
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R),
			Off: 0, Vaddr: 0, Paddr: 0,
			Filesz: b.TextOffset, Memsz: b.TextOffset, Align: 0x1000},
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X),
			Off: b.TextOffset, Vaddr: b.TextVaddr, Paddr: b.TextVaddr,
			Filesz: b.TextSize, Memsz: b.TextSize, Align: 0x1000},
	}
	if noteSize != 0 {
		progs = append(progs, elf.Prog64{Type: uint32(elf.PT_NOTE), Flags: uint32(elf.PF_R),
			Off: noteOff, Vaddr: noteOff, Paddr: noteOff,
			Filesz: noteSize, Memsz: noteSize, Align: 4})
	}
	if dynSize != 0 {
		progs = append(progs, elf.Prog64{Type: uint32(elf.PT_DYNAMIC),
			Flags: uint32(elf.PF_R | elf.PF_W),
			Off:   dynOff, Vaddr: dynOff, Paddr: dynOff,
			Filesz: dynSize, Memsz: dynSize, Align: 8})
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.TextVaddr,
		Phoff:     elfHeaderSize,
		Shoff:     shoff,
		Ehsize:    elfHeaderSize,
		Phentsize: progHeaderSize,
		Phnum:     uint16(len(progs)),
		Shentsize: sectHeaderSize,
		Shnum:     shnum,
		Shstrndx:  shstrndx,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	head := &bytes.Buffer{}
	_ = binary.Write(head, le, hdr)
	for _, p := range progs {
		_ = binary.Write(head, le, p)
	}
	if head.Len() > metadataStart {
		panic("testsupport: too many ELF program headers")
	}

	size := max(b.TextOffset+b.TextSize, b.Size)
	image := make([]byte, size)
	copy(image, meta.Bytes())
	copy(image, head.Bytes())
	text := image[b.TextOffset : b.TextOffset+b.TextSize]
	for i := range text {
		text[i] = 0xcc
	}
	return image
}

// WriteFile writes data to a file named name inside a fresh temporary
// directory and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
