package disasm

import (
	"encoding/binary"
	"strings"

	"golang.org/x/arch/ppc64/ppc64asm"
)

// boAlways is the BO field pattern that ignores both CTR and CR.
const boAlways = 0x14

func decodePPC64(code []byte, addr uint64, littleEndian bool, syntax Syntax, lookup SymLookup) (Inst, error) {
	if len(code) < 4 {
		return Inst{}, ErrTruncated
	}
	var order binary.ByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}
	inst, err := ppc64asm.Decode(code, order)
	if err != nil || inst.Len == 0 {
		return Inst{}, ErrInvalid
	}

	out := Inst{
		Len: inst.Len,
		Op:  strings.ToLower(inst.Op.String()),
	}
	switch syntax {
	case SyntaxGo:
		out.Text = ppc64asm.GoSyntax(inst, addr, lookup)
	default:
		out.Text = ppc64asm.GNUSyntax(inst, addr)
	}

	conditional := false
	if bo, ok := inst.Args[0].(ppc64asm.Imm); ok && bo&boAlways != boAlways {
		conditional = true
	}

	switch out.Op {
	case "b", "ba":
		out.Flow = FlowJump
	case "bl", "bla", "bcl", "bcla", "bclrl", "bcctrl":
		out.Flow = FlowCall
	case "bc", "bca", "bcctr":
		out.Flow = FlowJump
		out.Cond = conditional
	case "bclr":
		out.Flow = FlowReturn
		out.Cond = conditional
	}

	if out.Flow == FlowJump || out.Flow == FlowCall {
		for _, arg := range inst.Args {
			switch a := arg.(type) {
			case ppc64asm.PCRel:
				out.Target = addr + uint64(int64(a))
				out.Direct = true
			case ppc64asm.Label:
				out.Target = uint64(a)
				out.Direct = true
			}
		}
	}
	return out, nil
}
