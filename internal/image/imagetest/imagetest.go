// Package imagetest builds minimal ELF and PE files in memory for tests.
package imagetest

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Func is a function symbol (ELF) or export (PE) at an absolute address.
type Func struct {
	Name string
	Addr uint64
	Size uint64
}

var le = binary.LittleEndian

type strtab struct{ b []byte }

func newStrtab() *strtab { return &strtab{b: []byte{0}} }

func (s *strtab) add(name string) uint32 {
	off := uint32(len(s.b))
	s.b = append(append(s.b, name...), 0)
	return off
}

func pad(b []byte, n int) []byte {
	for len(b) < n {
		b = append(b, 0)
	}
	return b
}

func align(n, a int) int { return (n + a - 1) &^ (a - 1) }

func write(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, le, v); err != nil {
		panic(err)
	}
}

// ELF64 returns a little-endian ELF executable with one .text section at
// textAddr holding code, an entry point (0 for none) and a symbol table.
func ELF64(machine elf.Machine, textAddr uint64, code []byte, entry uint64, funcs []Func) []byte {
	shstr, str := newStrtab(), newStrtab()
	nText := shstr.add(".text")
	nSymtab := shstr.add(".symtab")
	nStrtab := shstr.add(".strtab")
	nShstr := shstr.add(".shstrtab")

	var symtab bytes.Buffer
	write(&symtab, elf.Sym64{})
	for _, f := range funcs {
		write(&symtab, elf.Sym64{
			Name:  str.add(f.Name),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
			Value: f.Addr,
			Size:  f.Size,
		})
	}

	const ehsize = 64
	textOff := ehsize
	symOff := align(textOff+len(code), 8)
	strOff := symOff + symtab.Len()
	shstrOff := strOff + len(str.b)
	shOff := align(shstrOff+len(shstr.b), 8)

	var body []byte
	body = pad(body, textOff)
	body = append(body, code...)
	body = pad(body, symOff)
	body = append(body, symtab.Bytes()...)
	body = append(body, str.b...)
	body = append(body, shstr.b...)
	body = pad(body, shOff)

	sections := []elf.Section64{
		{},
		{
			Name: nText, Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:  textAddr, Off: uint64(textOff), Size: uint64(len(code)), Addralign: 16,
		},
		{
			Name: nSymtab, Type: uint32(elf.SHT_SYMTAB),
			Off: uint64(symOff), Size: uint64(symtab.Len()),
			Link: 3, Info: 1, Addralign: 8, Entsize: 24,
		},
		{Name: nStrtab, Type: uint32(elf.SHT_STRTAB), Off: uint64(strOff), Size: uint64(len(str.b)), Addralign: 1},
		{Name: nShstr, Type: uint32(elf.SHT_STRTAB), Off: uint64(shstrOff), Size: uint64(len(shstr.b)), Addralign: 1},
	}

	var out bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Shoff:     uint64(shOff),
		Ehsize:    ehsize,
		Phentsize: 56,
		Shentsize: 64,
		Shnum:     uint16(len(sections)),
		Shstrndx:  4,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	write(&out, hdr)
	out.Write(body[ehsize:])
	for _, s := range sections {
		write(&out, s)
	}
	return out.Bytes()
}

// PE64 returns a PE32+ image based at base with a .text section at
// base+0x1000 holding code and, when exports is non-empty, an .rdata
// section at base+0x2000 holding an export directory.
func PE64(machine uint16, base uint64, code []byte, entry uint64, exports []Func) []byte {
	const (
		textRVA   = 0x1000
		rdataRVA  = 0x2000
		headerEnd = 0x200
	)
	textRaw := align(max(len(code), 1), 0x200)

	var edata []byte
	if len(exports) > 0 {
		n := uint32(len(exports))
		funcsRVA := uint32(rdataRVA + 40)
		namesRVA := funcsRVA + 4*n
		ordsRVA := namesRVA + 4*n
		strRVA := ordsRVA + 2*n

		hdr := make([]byte, 40)
		le.PutUint32(hdr[16:], 1) // ordinal base
		le.PutUint32(hdr[20:], n)
		le.PutUint32(hdr[24:], n)
		le.PutUint32(hdr[28:], funcsRVA)
		le.PutUint32(hdr[32:], namesRVA)
		le.PutUint32(hdr[36:], ordsRVA)
		edata = append(edata, hdr...)

		var names []byte
		var nameRVAs []uint32
		for _, e := range exports {
			nameRVAs = append(nameRVAs, strRVA+uint32(len(names)))
			names = append(append(names, e.Name...), 0)
		}
		for _, e := range exports {
			edata = le.AppendUint32(edata, uint32(e.Addr-base))
		}
		for _, r := range nameRVAs {
			edata = le.AppendUint32(edata, r)
		}
		for i := range exports {
			edata = le.AppendUint16(edata, uint16(i))
		}
		edata = append(edata, names...)
	}

	sections := []pe.SectionHeader32{{
		VirtualSize:      uint32(len(code)),
		VirtualAddress:   textRVA,
		SizeOfRawData:    uint32(textRaw),
		PointerToRawData: headerEnd,
		Characteristics:  pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	}}
	copy(sections[0].Name[:], ".text")
	if len(edata) > 0 {
		s := pe.SectionHeader32{
			VirtualSize:      uint32(len(edata)),
			VirtualAddress:   rdataRVA,
			SizeOfRawData:    uint32(align(len(edata), 0x200)),
			PointerToRawData: uint32(headerEnd + textRaw),
			Characteristics:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
		}
		copy(s.Name[:], ".rdata")
		sections = append(sections, s)
	}

	oh := pe.OptionalHeader64{
		Magic:               0x20b,
		SizeOfCode:          uint32(textRaw),
		BaseOfCode:          textRVA,
		ImageBase:           base,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         0x3000,
		SizeOfHeaders:       headerEnd,
		Subsystem:           pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		NumberOfRvaAndSizes: 16,
	}
	if entry != 0 {
		oh.AddressOfEntryPoint = uint32(entry - base)
	}
	if len(edata) > 0 {
		oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT] = pe.DataDirectory{
			VirtualAddress: rdataRVA,
			Size:           uint32(len(edata)),
		}
	}

	var out bytes.Buffer
	dos := make([]byte, 0x40)
	copy(dos, "MZ")
	le.PutUint32(dos[0x3c:], 0x40)
	out.Write(dos)
	out.WriteString("PE\x00\x00")
	write(&out, pe.FileHeader{
		Machine:              machine,
		NumberOfSections:     uint16(len(sections)),
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE,
	})
	write(&out, oh)
	for _, s := range sections {
		write(&out, s)
	}
	b := pad(out.Bytes(), headerEnd)
	b = append(b, code...)
	b = pad(b, headerEnd+textRaw)
	if len(edata) > 0 {
		b = append(b, edata...)
		b = pad(b, headerEnd+textRaw+align(len(edata), 0x200))
	}
	return b
}

// WriteFile writes data to a file in a per-test temporary directory and
// returns its path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatal(err)
	}
	return path
}
