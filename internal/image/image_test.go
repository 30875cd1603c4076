package image_test

import (
	"debug/elf"
	"debug/pe"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/zeebo/blake3"

	"disassemble/internal/disasm"
	"disassemble/internal/image"
	"disassemble/internal/image/imagetest"
)

// Two functions: 0x1000 push rbp; pop rbp; ret and 0x1010 nop; ret.
var twoFuncs = func() []byte {
	code := make([]byte, 0x12)
	copy(code, []byte{0x55, 0x5d, 0xc3})
	for i := 3; i < 0x10; i++ {
		code[i] = 0xcc
	}
	copy(code[0x10:], []byte{0x90, 0xc3})
	return code
}()

func TestParseELF(t *testing.T) {
	data := imagetest.ELF64(elf.EM_X86_64, 0x1000, twoFuncs, 0x1000, []imagetest.Func{
		{Name: "second", Addr: 0x1010, Size: 2},
		{Name: "main", Addr: 0x1000, Size: 3},
		{Name: "outside", Addr: 0x9000, Size: 1},
	})
	im, err := image.Parse(data, image.FormatELF)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if im.Arch != disasm.ArchAMD64 {
		t.Errorf("Arch = %q, want amd64", im.Arch)
	}
	if len(im.Sections) != 1 || im.Sections[0].Name != ".text" || im.Sections[0].Addr != 0x1000 {
		t.Fatalf("Sections = %+v, want one .text at 0x1000", im.Sections)
	}
	if len(im.Entries) != 1 || im.Entries[0] != 0x1000 {
		t.Errorf("Entries = %#x, want [0x1000]", im.Entries)
	}
	if len(im.Symbols) != 2 || im.Symbols[0].Name != "main" || im.Symbols[1].Name != "second" {
		t.Errorf("Symbols = %+v, want main then second", im.Symbols)
	}
	seeds := im.Seeds()
	if len(seeds) != 2 || seeds[0] != 0x1000 || seeds[1] != 0x1010 {
		t.Errorf("Seeds = %#x, want [0x1000 0x1010]", seeds)
	}
	if im.Digest != blake3.Sum256(data) {
		t.Error("Digest does not match blake3 of the file")
	}
}

func TestImageQueries(t *testing.T) {
	data := imagetest.ELF64(elf.EM_X86_64, 0x1000, twoFuncs, 0, []imagetest.Func{
		{Name: "main", Addr: 0x1000, Size: 3},
	})
	im, err := image.Parse(data, image.FormatELF)
	if err != nil {
		t.Fatal(err)
	}

	if b := im.Bytes(0x1010); len(b) != 2 || b[0] != 0x90 {
		t.Errorf("Bytes(0x1010) = % x, want 90 c3", b)
	}
	if b := im.Bytes(0x1012); b != nil {
		t.Errorf("Bytes past end = % x, want nil", b)
	}
	if !im.InCode(0x1000) || im.InCode(0xfff) {
		t.Error("InCode boundaries wrong")
	}
	if name, base := im.Lookup(0x1002); name != "main" || base != 0x1000 {
		t.Errorf("Lookup(0x1002) = %q, %#x; want main, 0x1000", name, base)
	}
	if name, _ := im.Lookup(0x1005); name != "" {
		t.Errorf("Lookup(0x1005) = %q, want none", name)
	}
	if name, ok := im.SymbolAt(0x1000); !ok || name != "main" {
		t.Errorf("SymbolAt(0x1000) = %q, %v", name, ok)
	}
	if len(im.Entries) != 0 {
		t.Errorf("Entries = %#x, want none", im.Entries)
	}
}

func TestParseELFEntryOutsideCode(t *testing.T) {
	data := imagetest.ELF64(elf.EM_X86_64, 0x1000, twoFuncs, 0x5000, nil)
	im, err := image.Parse(data, image.FormatELF)
	if err != nil {
		t.Fatal(err)
	}
	if len(im.Entries) != 0 || len(im.Seeds()) != 0 {
		t.Errorf("got entries %#x seeds %#x, want none", im.Entries, im.Seeds())
	}
}

func TestParsePE(t *testing.T) {
	const base = 0x140000000
	data := imagetest.PE64(pe.IMAGE_FILE_MACHINE_AMD64, base, twoFuncs, base+0x1000, []imagetest.Func{
		{Name: "Exported", Addr: base + 0x1010},
	})
	im, err := image.Parse(data, image.FormatPE)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if im.Arch != disasm.ArchAMD64 {
		t.Errorf("Arch = %q, want amd64", im.Arch)
	}
	if len(im.Sections) != 1 {
		t.Fatalf("got %d code sections, want 1", len(im.Sections))
	}
	if s := im.Sections[0]; s.Addr != base+0x1000 || len(s.Data) != len(twoFuncs) {
		t.Errorf("text at %#x len %d, want %#x len %d", s.Addr, len(s.Data), base+0x1000, len(twoFuncs))
	}
	if len(im.Entries) != 1 || im.Entries[0] != base+0x1000 {
		t.Errorf("Entries = %#x", im.Entries)
	}
	if name, ok := im.SymbolAt(base + 0x1010); !ok || name != "Exported" {
		t.Errorf("SymbolAt(export) = %q, %v; want Exported", name, ok)
	}
}

func TestParsePEManyExports(t *testing.T) {
	const base = 0x140000000
	const n = 4000
	code := make([]byte, n)
	for i := range code {
		code[i] = 0xc3
	}
	exports := make([]imagetest.Func, n)
	for i := range exports {
		exports[i] = imagetest.Func{Name: fmt.Sprintf("fn%d", i), Addr: base + 0x1000 + uint64(i)}
	}
	im, err := image.Parse(imagetest.PE64(pe.IMAGE_FILE_MACHINE_AMD64, base, code, 0, exports), image.FormatPE)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(im.Symbols) != n {
		t.Fatalf("got %d symbols, want %d", len(im.Symbols), n)
	}
	if name, ok := im.SymbolAt(base + 0x1000 + n - 1); !ok || name != fmt.Sprintf("fn%d", n-1) {
		t.Errorf("last export = %q, %v", name, ok)
	}
}

func TestParseErrors(t *testing.T) {
	elfData := imagetest.ELF64(elf.EM_X86_64, 0x1000, twoFuncs, 0x1000, nil)
	tests := []struct {
		name   string
		data   []byte
		format image.Format
		want   error
	}{
		{"pe as elf", imagetest.PE64(pe.IMAGE_FILE_MACHINE_AMD64, 0x400000, twoFuncs, 0, nil), image.FormatELF, image.ErrBadHeader},
		{"elf as pe", elfData, image.FormatPE, image.ErrBadHeader},
		{"garbage", []byte("not a binary at all"), image.FormatELF, image.ErrBadHeader},
		{"truncated elf", elfData[:40], image.FormatELF, image.ErrBadHeader},
		{"mips", imagetest.ELF64(elf.EM_MIPS, 0x1000, twoFuncs, 0, nil), image.FormatELF, image.ErrUnsupportedArch},
		{"no code", imagetest.ELF64(elf.EM_X86_64, 0x1000, nil, 0, nil), image.FormatELF, image.ErrNoCode},
		{"unknown format", elfData, image.Format("MACHO"), image.ErrUnknownFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := image.Parse(tt.data, tt.format)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var le *image.LoadError
			if !errors.As(err, &le) {
				t.Fatalf("err = %T, want *image.LoadError", err)
			}
		})
	}
}

func TestParseFormatCaseInsensitive(t *testing.T) {
	im, err := image.Parse(imagetest.ELF64(elf.EM_X86_64, 0x1000, twoFuncs, 0x1000, nil), image.Format("elf"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if im.Format != image.FormatELF {
		t.Errorf("Format = %q, want ELF", im.Format)
	}
}

func TestOpen(t *testing.T) {
	data := imagetest.ELF64(elf.EM_AARCH64, 0x400000, []byte{0xc0, 0x03, 0x5f, 0xd6}, 0x400000, nil)
	path := imagetest.WriteFile(t, "a.out", data)
	im, err := image.Open(path, image.FormatELF)
	if err != nil {
		t.Fatal(err)
	}
	if im.Path != path || im.Arch != disasm.ArchARM64 {
		t.Errorf("got path %q arch %q", im.Path, im.Arch)
	}

	_, err = image.Open(path+".missing", image.FormatELF)
	var le *image.LoadError
	if !errors.As(err, &le) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want LoadError wrapping ErrNotExist", err)
	}
	if le.Path != path+".missing" {
		t.Errorf("LoadError.Path = %q", le.Path)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want image.Format
		ok   bool
	}{
		{"PE", image.FormatPE, true},
		{"pe", image.FormatPE, true},
		{" elf ", image.FormatELF, true},
		{"macho", "", false},
	}
	for _, tt := range tests {
		got, err := image.ParseFormat(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
