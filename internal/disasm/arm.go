package disasm

import (
	"strings"

	"golang.org/x/arch/arm/armasm"
)

// decodeARM decodes 32-bit ARM (A32) code. Thumb is not supported.
func decodeARM(code []byte, addr uint64, syntax Syntax, lookup SymLookup) (Inst, error) {
	if len(code) < 4 {
		return Inst{}, ErrTruncated
	}
	inst, err := armasm.Decode(code[:4], armasm.ModeARM)
	if err != nil || inst.Op == 0 || inst.Len == 0 {
		return Inst{}, ErrInvalid
	}

	out := Inst{
		Len: inst.Len,
		Op:  strings.ToLower(inst.Op.String()),
	}
	switch syntax {
	case SyntaxGo:
		out.Text = armasm.GoSyntax(inst, addr, lookup, textReader{code, addr})
	default:
		out.Text = armasm.GNUSyntax(inst)
	}

	// Conditional forms print as "b.eq", "bx.ne" and so on.
	base, cond, _ := strings.Cut(out.Op, ".")
	conditional := cond != "" && cond != "al"

	switch {
	case base == "b":
		out.Flow = FlowJump
		out.Cond = conditional
	case base == "bl" || base == "blx":
		out.Flow = FlowCall
	case base == "bx":
		if inst.Args[0] == armasm.R14 {
			out.Flow = FlowReturn
		} else {
			out.Flow = FlowJump
		}
		out.Cond = conditional
	case base == "pop" || strings.HasPrefix(base, "ldm"):
		for _, arg := range inst.Args {
			if list, ok := arg.(armasm.RegList); ok && list&(1<<15) != 0 {
				out.Flow = FlowReturn
				out.Cond = conditional
			}
		}
	case (base == "mov" || base == "ldr") && inst.Args[0] == armasm.R15:
		if base == "mov" && inst.Args[1] == armasm.R14 {
			out.Flow = FlowReturn
		} else {
			out.Flow = FlowJump
		}
		out.Cond = conditional
	case base == "udf" || base == "bkpt":
		out.Flow = FlowHalt
	}

	if out.Flow == FlowJump || out.Flow == FlowCall {
		for _, arg := range inst.Args {
			if pcrel, ok := arg.(armasm.PCRel); ok {
				// The ARM PC reads two instructions ahead.
				out.Target = uint64(uint32(addr) + 8 + uint32(pcrel))
				out.Direct = true
				break
			}
		}
	}
	return out, nil
}
