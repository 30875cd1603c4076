package report

import (
	"fmt"
	"io"
	"strings"

	"disassemble/internal/cfg"
)

// WriteSummary writes a markdown overview of funcs: one table row per
// function with block, instruction and shared block counts.
func WriteSummary(w io.Writer, co *cfg.CodeObject, sh *cfg.Shared, funcs []*cfg.Function) error {
	im := co.Image()
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", title(im.Path))
	fmt.Fprintf(&sb, "- **format** %s, **arch** %s\n", im.Format, im.Arch)
	fmt.Fprintf(&sb, "- **code** %d bytes in %d sections\n", im.CodeSize(), len(im.Sections))
	fmt.Fprintf(&sb, "- **functions** %d recovered, %d listed\n", len(co.Functions()), len(funcs))
	fmt.Fprintf(&sb, "- **blake3** `%s`\n\n", im.DigestHex())

	sb.WriteString("| Function | Name | Origin | Blocks | Instructions | Shared |\n")
	sb.WriteString("|---|---|---|---:|---:|---:|\n")
	for _, f := range funcs {
		n := 0
		for _, b := range f.Blocks() {
			n += len(co.Instructions(b))
		}
		fmt.Fprintf(&sb, "| `%x` | %s | %s | %d | %d | %d |\n",
			f.Entry, escape(DisplayName(f)), f.Origin, len(f.Blocks()), n, sh.Count(f))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func title(path string) string {
	if path == "" {
		return "image"
	}
	return escape(path)
}

// escape keeps demangled C++ names from breaking the table.
func escape(s string) string {
	return strings.NewReplacer("|", `\|`, "<", `\<`, ">", `\>`, "*", `\*`, "_", `\_`).Replace(s)
}
