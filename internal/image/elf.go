package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"disassemble/internal/disasm"
)

func elfArch(f *elf.File) (disasm.Arch, error) {
	switch f.Machine {
	case elf.EM_386:
		return disasm.Arch386, nil
	case elf.EM_X86_64:
		return disasm.ArchAMD64, nil
	case elf.EM_ARM:
		return disasm.ArchARM, nil
	case elf.EM_AARCH64:
		return disasm.ArchARM64, nil
	case elf.EM_PPC64:
		if f.ByteOrder == binary.LittleEndian {
			return disasm.ArchPPC64LE, nil
		}
		return disasm.ArchPPC64, nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnsupportedArch, f.Machine)
}

func parseELF(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		return nil, ErrBadHeader
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	defer f.Close()

	arch, err := elfArch(f)
	if err != nil {
		return nil, err
	}
	im := &Image{Arch: arch}

	// Use true sections if present.
	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 || s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		b, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("%w: section %s: %v", ErrBadHeader, s.Name, err)
		}
		im.Sections = append(im.Sections, Section{Name: s.Name, Addr: s.Addr, Data: b})
	}

	// Fallback if stripped of section headers.
	if len(im.Sections) == 0 {
		for _, p := range f.Progs {
			if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 || p.Filesz == 0 {
				continue
			}
			b, err := io.ReadAll(p.Open())
			if err != nil {
				return nil, fmt.Errorf("%w: segment at %#x: %v", ErrBadHeader, p.Vaddr, err)
			}
			im.Sections = append(im.Sections, Section{Name: "LOAD(exec)", Addr: p.Vaddr, Data: b})
		}
	}

	if f.Entry != 0 {
		im.Entries = append(im.Entries, f.Entry)
	}

	// Static symbols first so their names win over dynamic duplicates.
	// Either table may be missing from a stripped binary.
	syms, _ := f.Symbols()
	dynsyms, _ := f.DynamicSymbols()
	for _, table := range [][]elf.Symbol{syms, dynsyms} {
		for _, sym := range table {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 || sym.Section == elf.SHN_UNDEF {
				continue
			}
			// Odd addresses are Thumb code, which is not decoded.
			if arch == disasm.ArchARM && sym.Value&1 != 0 {
				continue
			}
			im.Symbols = append(im.Symbols, Symbol{
				Name: sym.Name,
				Addr: sym.Value,
				Size: sym.Size,
				Func: true,
			})
		}
	}
	return im, nil
}
