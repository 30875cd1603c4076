// Package disasm decodes single machine instructions for the architectures
// the loader can produce, and classifies how each one transfers control.
package disasm

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxInstructionLength is the longest encoding any supported architecture
// can produce (x86). Decode never looks further than this.
const MaxInstructionLength = 15

// Arch names an instruction set, using GOARCH spelling.
type Arch string

const (
	Arch386     Arch = "386"
	ArchAMD64   Arch = "amd64"
	ArchARM     Arch = "arm"
	ArchARM64   Arch = "arm64"
	ArchPPC64   Arch = "ppc64"
	ArchPPC64LE Arch = "ppc64le"
)

// Syntax selects how instruction text is rendered.
type Syntax string

const (
	SyntaxGNU   Syntax = "gnu"
	SyntaxIntel Syntax = "intel"
	SyntaxGo    Syntax = "go"
)

// ParseSyntax accepts gnu, intel or go (case-insensitive). Empty means gnu.
func ParseSyntax(s string) (Syntax, error) {
	switch strings.ToLower(s) {
	case "", "gnu", "att":
		return SyntaxGNU, nil
	case "intel":
		return SyntaxIntel, nil
	case "go", "plan9":
		return SyntaxGo, nil
	}
	return "", fmt.Errorf("unknown syntax %q (want gnu, intel or go)", s)
}

var (
	ErrTruncated       = errors.New("truncated instruction")
	ErrInvalid         = errors.New("invalid instruction")
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// DecodeError reports bytes that do not form an instruction under Arch.
type DecodeError struct {
	Arch Arch
	Addr uint64
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at %#x: %v", e.Arch, e.Addr, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Flow describes how an instruction affects control flow.
type Flow uint8

const (
	FlowSeq    Flow = iota // falls through to the next instruction
	FlowJump               // branch, possibly conditional
	FlowCall               // call; execution resumes after it
	FlowReturn             // return, possibly conditional
	FlowHalt               // trap or halt; nothing follows
)

func (f Flow) String() string {
	switch f {
	case FlowSeq:
		return "seq"
	case FlowJump:
		return "jump"
	case FlowCall:
		return "call"
	case FlowReturn:
		return "return"
	case FlowHalt:
		return "halt"
	}
	return fmt.Sprintf("flow(%d)", uint8(f))
}

// Inst is a decoded instruction.
type Inst struct {
	Addr   uint64 // virtual address of the first byte
	Len    int    // encoded length in bytes
	Op     string // mnemonic in lowercase
	Text   string // formatted disassembly
	Raw    []byte // encoding; aliases the decoded buffer
	Flow   Flow
	Cond   bool   // jump or return that may fall through
	Direct bool   // Target is statically known
	Target uint64 // branch or call destination when Direct
}

// Next is the address of the instruction that follows i in memory.
func (i Inst) Next() uint64 { return i.Addr + uint64(i.Len) }

// EndsBlock reports whether i terminates a basic block.
func (i Inst) EndsBlock() bool { return i.Flow != FlowSeq }

// FallsThrough reports whether execution can continue at Next after i.
func (i Inst) FallsThrough() bool {
	switch i.Flow {
	case FlowSeq, FlowCall:
		return true
	case FlowJump, FlowReturn:
		return i.Cond
	}
	return false
}

// SymLookup resolves an address to the symbol containing it and the
// symbol's base address. It returns "" when nothing matches.
type SymLookup func(addr uint64) (name string, base uint64)

func noSymbols(uint64) (string, uint64) { return "", 0 }

// Decoder decodes instructions for one architecture. The zero Syntax is gnu.
type Decoder struct {
	Arch   Arch
	Syntax Syntax
	Lookup SymLookup
}

// Decode decodes exactly one instruction from the start of code, which
// holds the bytes at addr. It never reads more than MaxInstructionLength
// bytes. On failure it returns a *DecodeError.
func (d Decoder) Decode(code []byte, addr uint64) (Inst, error) {
	if len(code) > MaxInstructionLength {
		code = code[:MaxInstructionLength]
	}
	lookup := d.Lookup
	if lookup == nil {
		lookup = noSymbols
	}

	var (
		inst Inst
		err  error
	)
	switch d.Arch {
	case Arch386:
		inst, err = decodeX86(code, addr, 32, d.Syntax, lookup)
	case ArchAMD64:
		inst, err = decodeX86(code, addr, 64, d.Syntax, lookup)
	case ArchARM64:
		inst, err = decodeARM64(code, addr, d.Syntax, lookup)
	case ArchARM:
		inst, err = decodeARM(code, addr, d.Syntax, lookup)
	case ArchPPC64, ArchPPC64LE:
		inst, err = decodePPC64(code, addr, d.Arch == ArchPPC64LE, d.Syntax, lookup)
	default:
		err = ErrUnsupportedArch
	}
	if err != nil {
		return Inst{}, &DecodeError{Arch: d.Arch, Addr: addr, Err: err}
	}
	inst.Addr = addr
	inst.Raw = code[:inst.Len]
	return inst, nil
}

// textReader exposes code at pc as an io.ReaderAt addressed by absolute
// address, as the Go syntax printers expect.
type textReader struct {
	code []byte
	pc   uint64
}

func (r textReader) ReadAt(data []byte, off int64) (n int, err error) {
	if off < 0 || uint64(off) < r.pc {
		return 0, io.EOF
	}
	d := uint64(off) - r.pc
	if d >= uint64(len(r.code)) {
		return 0, io.EOF
	}
	n = copy(data, r.code[d:])
	if n < len(data) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
