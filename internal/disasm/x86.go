package disasm

import (
	"errors"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// endbr recognizes ENDBR64 (f3 0f 1e fa) and ENDBR32 (f3 0f 1e fb), which
// x86asm does not decode. They sit at the entry of CET-enabled functions.
func endbr(code []byte) (string, bool) {
	if len(code) < 4 || code[0] != 0xf3 || code[1] != 0x0f || code[2] != 0x1e {
		return "", false
	}
	switch code[3] {
	case 0xfa:
		return "endbr64", true
	case 0xfb:
		return "endbr32", true
	}
	return "", false
}

func decodeX86(code []byte, addr uint64, mode int, syntax Syntax, lookup SymLookup) (Inst, error) {
	if op, ok := endbr(code); ok {
		return Inst{Len: 4, Op: op, Text: op}, nil
	}
	if len(code) == 0 {
		return Inst{}, ErrTruncated
	}

	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		if errors.Is(err, x86asm.ErrTruncated) {
			return Inst{}, ErrTruncated
		}
		return Inst{}, errors.Join(ErrInvalid, err)
	}
	if inst.Len == 0 || inst.Op == 0 {
		return Inst{}, ErrInvalid
	}

	out := Inst{
		Len: inst.Len,
		Op:  strings.ToLower(inst.Op.String()),
	}
	switch syntax {
	case SyntaxIntel:
		out.Text = x86asm.IntelSyntax(inst, addr, x86asm.SymLookup(lookup))
	case SyntaxGo:
		out.Text = x86asm.GoSyntax(inst, addr, x86asm.SymLookup(lookup))
	default:
		out.Text = x86asm.GNUSyntax(inst, addr, x86asm.SymLookup(lookup))
	}

	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		out.Flow = FlowReturn
	case x86asm.JMP, x86asm.LJMP:
		out.Flow = FlowJump
	case x86asm.CALL, x86asm.LCALL:
		out.Flow = FlowCall
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JO, x86asm.JNO,
		x86asm.JP, x86asm.JNP, x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		out.Flow = FlowJump
		out.Cond = true
	case x86asm.HLT, x86asm.UD2:
		out.Flow = FlowHalt
	}

	// Only rel8/rel32 operands are statically known; register and memory
	// operands (including RIP-relative tables) are left unresolved.
	if out.Flow == FlowJump || out.Flow == FlowCall {
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			target := addr + uint64(inst.Len) + uint64(int64(rel))
			if mode == 32 {
				target &= 0xffffffff
			}
			out.Target = target
			out.Direct = true
		}
	}
	return out, nil
}
