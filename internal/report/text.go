package report

import (
	"bufio"
	"fmt"
	"io"

	"disassemble/internal/cfg"
	"disassemble/internal/ui/colorize"
	"disassemble/internal/ui/styles"
)

// WriteText writes the listing for funcs:
//
//	[!] Function at 401000 <main>
//	     Block at 401000 (3 instructions)
//	          401000: push %rbp
func WriteText(w io.Writer, co *cfg.CodeObject, funcs []*cfg.Function, opts Options) error {
	bw := bufio.NewWriter(w)
	for _, f := range funcs {
		header := fmt.Sprintf("[!] Function at %x", f.Entry)
		if name := DisplayName(f); name != "" {
			header += fmt.Sprintf(" <%s>", name)
		}
		if opts.Color {
			header = styles.FunctionHeader.Render(header)
		}
		fmt.Fprintf(bw, "\n%s\n", header)

		for _, b := range f.Blocks() {
			insts := co.Instructions(b)
			line := fmt.Sprintf("Block at %x (%d instructions)", b.Start, len(insts))
			if opts.Color {
				line = styles.BlockHeader.Render(line)
			}
			fmt.Fprintf(bw, "     %s\n", line)
			for _, inst := range insts {
				if opts.Color {
					fmt.Fprintf(bw, "          %s: %s\n", styles.Address.Render(fmt.Sprintf("%x", inst.Addr)), colorize.Instruction(inst.Text))
					continue
				}
				fmt.Fprintf(bw, "          %x: %s\n", inst.Addr, inst.Text)
			}
		}
	}
	return bw.Flush()
}
