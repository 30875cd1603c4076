// Package image loads executable containers (ELF, PE) into a normalized,
// read-only view: code sections, entry points and function symbols.
package image

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"disassemble/internal/disasm"
)

// Format selects the container adapter.
type Format string

const (
	FormatELF Format = "ELF"
	FormatPE  Format = "PE"
)

// ParseFormat accepts ELF or PE in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ELF":
		return FormatELF, nil
	case "PE":
		return FormatPE, nil
	}
	return "", fmt.Errorf("%w: %q (want ELF or PE)", ErrUnknownFormat, s)
}

var (
	ErrUnknownFormat   = errors.New("unknown container format")
	ErrBadHeader       = errors.New("header does not match format")
	ErrUnsupportedArch = errors.New("unsupported machine")
	ErrNoCode          = errors.New("no code sections")
)

// LoadError is returned by Open and Parse for any failure to produce an Image.
type LoadError struct {
	Path   string
	Format Format
	Err    error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("load %s %s: %v", e.Format, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Section is a contiguous range of executable bytes.
type Section struct {
	Name string
	Addr uint64
	Data []byte
}

// End is the first address past the section.
func (s Section) End() uint64 { return s.Addr + uint64(len(s.Data)) }

// Contains reports whether addr lies in the section.
func (s Section) Contains(addr uint64) bool { return addr >= s.Addr && addr < s.End() }

type Symbol struct {
	Name string
	Addr uint64
	Size uint64
	Func bool
}

// Image is an opened binary. It is immutable once returned by Open or Parse.
type Image struct {
	Path     string
	Format   Format
	Arch     disasm.Arch
	Sections []Section // code only, sorted by address
	Entries  []uint64  // entry points inside code, in header order
	Symbols  []Symbol  // function symbols inside code, sorted by address
	Digest   [32]byte  // blake3 of the file contents
}

// Open reads and parses the file at path.
func Open(path string, format Format) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Format: format, Err: err}
	}
	im, err := Parse(data, format)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	im.Path = path
	return im, nil
}

// Parse builds an Image from the raw contents of a container file. format
// is matched case-insensitively.
func Parse(data []byte, format Format) (*Image, error) {
	if f, err := ParseFormat(string(format)); err == nil {
		format = f
	}
	var (
		im  *Image
		err error
	)
	switch format {
	case FormatELF:
		im, err = parseELF(data)
	case FormatPE:
		im, err = parsePE(data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, &LoadError{Format: format, Err: err}
	}
	if len(im.Sections) == 0 {
		return nil, &LoadError{Format: format, Err: ErrNoCode}
	}
	im.Format = format
	im.Digest = blake3.Sum256(data)
	im.normalize()
	return im, nil
}

// normalize sorts sections and symbols and drops entries and symbols that
// do not point into code.
func (im *Image) normalize() {
	sort.SliceStable(im.Sections, func(i, j int) bool {
		return im.Sections[i].Addr < im.Sections[j].Addr
	})

	entries := im.Entries[:0]
	seen := make(map[uint64]bool)
	for _, e := range im.Entries {
		if seen[e] || !im.InCode(e) {
			continue
		}
		seen[e] = true
		entries = append(entries, e)
	}
	im.Entries = entries

	syms := im.Symbols[:0]
	for _, s := range im.Symbols {
		if s.Name == "" || !im.InCode(s.Addr) {
			continue
		}
		syms = append(syms, s)
	}
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })
	// Keep the first name seen for an address.
	out := syms[:0]
	for i, s := range syms {
		if i > 0 && s.Addr == syms[i-1].Addr {
			continue
		}
		out = append(out, s)
	}
	im.Symbols = out
}

// SectionAt returns the code section containing addr.
func (im *Image) SectionAt(addr uint64) (Section, bool) {
	i := sort.Search(len(im.Sections), func(i int) bool { return im.Sections[i].End() > addr })
	if i < len(im.Sections) && im.Sections[i].Contains(addr) {
		return im.Sections[i], true
	}
	return Section{}, false
}

// InCode reports whether addr lies in any code section.
func (im *Image) InCode(addr uint64) bool {
	_, ok := im.SectionAt(addr)
	return ok
}

// Bytes returns the bytes from addr to the end of its section, or nil.
func (im *Image) Bytes(addr uint64) []byte {
	s, ok := im.SectionAt(addr)
	if !ok {
		return nil
	}
	return s.Data[addr-s.Addr:]
}

// SymbolAt returns the name of the symbol starting exactly at addr.
func (im *Image) SymbolAt(addr uint64) (string, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr >= addr })
	if i < len(im.Symbols) && im.Symbols[i].Addr == addr {
		return im.Symbols[i].Name, true
	}
	return "", false
}

// Lookup resolves addr to the symbol containing it, in the form expected by
// the disassembly printers.
func (im *Image) Lookup(addr uint64) (string, uint64) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr > addr }) - 1
	if i < 0 {
		return "", 0
	}
	s := im.Symbols[i]
	if addr == s.Addr || addr < s.Addr+s.Size {
		return s.Name, s.Addr
	}
	return "", 0
}

// Seeds returns the static recovery seeds: entry points first, then
// function symbols by address.
func (im *Image) Seeds() []uint64 {
	seeds := make([]uint64, 0, len(im.Entries)+len(im.Symbols))
	seen := make(map[uint64]bool)
	for _, e := range im.Entries {
		if !seen[e] {
			seen[e] = true
			seeds = append(seeds, e)
		}
	}
	for _, s := range im.Symbols {
		if s.Func && !seen[s.Addr] {
			seen[s.Addr] = true
			seeds = append(seeds, s.Addr)
		}
	}
	return seeds
}

// DigestHex is the hex form of Digest.
func (im *Image) DigestHex() string { return hex.EncodeToString(im.Digest[:]) }

// CodeSize is the total number of code bytes.
func (im *Image) CodeSize() int {
	n := 0
	for _, s := range im.Sections {
		n += len(s.Data)
	}
	return n
}
