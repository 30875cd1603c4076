package disasm

import (
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

func decodeARM64(code []byte, addr uint64, syntax Syntax, lookup SymLookup) (Inst, error) {
	if len(code) < 4 {
		return Inst{}, ErrTruncated
	}
	inst, err := arm64asm.Decode(code[:4])
	if err != nil || inst.Op == 0 {
		return Inst{}, ErrInvalid
	}

	out := Inst{
		Len: 4,
		Op:  strings.ToLower(inst.Op.String()),
	}
	switch syntax {
	case SyntaxGo:
		out.Text = arm64asm.GoSyntax(inst, addr, lookup, textReader{code, addr})
	default:
		out.Text = arm64asm.GNUSyntax(inst)
	}

	switch inst.Op {
	case arm64asm.RET:
		out.Flow = FlowReturn
	case arm64asm.B:
		out.Flow = FlowJump
		// B.cond carries its condition as an argument.
		for _, arg := range inst.Args {
			if _, ok := arg.(arm64asm.Cond); ok {
				out.Cond = true
				break
			}
		}
	case arm64asm.BR:
		out.Flow = FlowJump
	case arm64asm.BL, arm64asm.BLR:
		out.Flow = FlowCall
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		out.Flow = FlowJump
		out.Cond = true
	default:
		if out.Op == "brk" || out.Op == "udf" {
			out.Flow = FlowHalt
		}
	}

	if out.Flow == FlowJump || out.Flow == FlowCall {
		for _, arg := range inst.Args {
			if pcrel, ok := arg.(arm64asm.PCRel); ok {
				out.Target = addr + uint64(int64(pcrel))
				out.Direct = true
				break
			}
		}
	}
	return out, nil
}
