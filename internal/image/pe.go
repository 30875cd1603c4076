package image

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"

	"disassemble/internal/disasm"
)

const coffFunctionType = 0x20

func peArch(machine uint16) (disasm.Arch, error) {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return disasm.Arch386, nil
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return disasm.ArchAMD64, nil
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return disasm.ArchARM64, nil
	case pe.IMAGE_FILE_MACHINE_ARM:
		return disasm.ArchARM, nil
	}
	return "", fmt.Errorf("%w: %#x", ErrUnsupportedArch, machine)
}

type peFile struct {
	*pe.File
	base  uint64
	entry uint32
	dirs  []pe.DataDirectory
	data  []sectionData // raw data per section, read on first use
}

type sectionData struct {
	b    []byte
	err  error
	read bool
}

func newPEFile(f *pe.File) (*peFile, error) {
	pf := &peFile{File: f, data: make([]sectionData, len(f.Sections))}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		pf.base, pf.entry = uint64(oh.ImageBase), oh.AddressOfEntryPoint
		pf.dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	case *pe.OptionalHeader64:
		pf.base, pf.entry = oh.ImageBase, oh.AddressOfEntryPoint
		pf.dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	default:
		return nil, fmt.Errorf("%w: missing optional header", ErrBadHeader)
	}
	return pf, nil
}

// section returns the raw data of section i. pe.Section.Data reads the
// file on every call, so the result is kept.
func (f *peFile) section(i int) ([]byte, error) {
	d := &f.data[i]
	if !d.read {
		d.b, d.err = f.Sections[i].Data()
		d.read = true
	}
	return d.b, d.err
}

func parsePE(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, []byte("MZ")) {
		return nil, ErrBadHeader
	}
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	defer f.Close()

	arch, err := peArch(f.Machine)
	if err != nil {
		return nil, err
	}
	pf, err := newPEFile(f)
	if err != nil {
		return nil, err
	}

	im := &Image{Arch: arch}
	for i, s := range f.Sections {
		if s.Characteristics&(pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE) == 0 {
			continue
		}
		b, err := pf.section(i)
		if err != nil {
			return nil, fmt.Errorf("%w: section %s: %v", ErrBadHeader, s.Name, err)
		}
		// Raw data is file-aligned; the tail past VirtualSize is padding.
		if s.VirtualSize != 0 && int(s.VirtualSize) < len(b) {
			b = b[:s.VirtualSize]
		}
		if len(b) == 0 {
			continue
		}
		im.Sections = append(im.Sections, Section{Name: s.Name, Addr: pf.base + uint64(s.VirtualAddress), Data: b})
	}

	if pf.entry != 0 {
		im.Entries = append(im.Entries, pf.base+uint64(pf.entry))
	}

	for _, sym := range f.Symbols {
		if sym.Type != coffFunctionType || sym.SectionNumber <= 0 || int(sym.SectionNumber) > len(f.Sections) {
			continue
		}
		s := f.Sections[sym.SectionNumber-1]
		im.Symbols = append(im.Symbols, Symbol{
			Name: sym.Name,
			Addr: pf.base + uint64(s.VirtualAddress) + uint64(sym.Value),
			Func: true,
		})
	}
	im.Symbols = append(im.Symbols, pf.exports()...)
	return im, nil
}

// rva returns the mapped bytes starting at rva, up to the end of the
// containing section's raw data.
func (f *peFile) rva(rva uint32) []byte {
	for i, s := range f.Sections {
		size := max(s.VirtualSize, s.Size)
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+size {
			continue
		}
		b, err := f.section(i)
		if err != nil {
			return nil
		}
		off := rva - s.VirtualAddress
		if int(off) >= len(b) {
			return nil
		}
		return b[off:]
	}
	return nil
}

func (f *peFile) cstring(rva uint32) string {
	b := f.rva(rva)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return ""
}

// exports lists named entries of the export directory. Forwarders, whose
// RVA points back into the directory, are skipped.
func (f *peFile) exports() []Symbol {
	if len(f.dirs) <= pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
		return nil
	}
	dir := f.dirs[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}
	hdr := f.rva(dir.VirtualAddress)
	if len(hdr) < 40 {
		return nil
	}
	le := binary.LittleEndian
	numFuncs := le.Uint32(hdr[20:])
	numNames := le.Uint32(hdr[24:])
	funcs := f.rva(le.Uint32(hdr[28:]))
	names := f.rva(le.Uint32(hdr[32:]))
	ords := f.rva(le.Uint32(hdr[36:]))

	var out []Symbol
	for i := uint32(0); i < numNames; i++ {
		if len(names) < int(4*i+4) || len(ords) < int(2*i+2) {
			break
		}
		ord := uint32(le.Uint16(ords[2*i:]))
		if ord >= numFuncs || len(funcs) < int(4*ord+4) {
			continue
		}
		fn := le.Uint32(funcs[4*ord:])
		if fn == 0 || (fn >= dir.VirtualAddress && fn < dir.VirtualAddress+dir.Size) {
			continue
		}
		out = append(out, Symbol{
			Name: f.cstring(le.Uint32(names[4*i:])),
			Addr: f.base + uint64(fn),
			Func: true,
		})
	}
	return out
}
