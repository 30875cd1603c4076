package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disassemble/internal/config"
	"disassemble/internal/report"
	"disassemble/internal/ui/styles"
)

var summaryCmd = &cobra.Command{
	Use:   "summary [file]",
	Short: "Summarize recovered functions as a table",
	Long: `Summary recovers functions like the root command and prints one row per
function with its block, instruction and shared block counts. The table is
rendered with glamour on a terminal and printed as markdown otherwise.`,
	Example: `
# Overview of an ELF image
disassemble summary -F elf a.out
  `,
	Args: maxOneArg,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, stop, err := setup(cmd, args)
		if err != nil {
			return err
		}
		defer stop()
		cmd.SilenceUsage = true

		out := cmd.OutOrStdout()
		width := 0
		if f, ok := out.(*os.File); ok && term.IsTerminal(f.Fd()) {
			width = 80
			if w, _, err := term.GetSize(f.Fd()); err == nil && w > 0 {
				width = w
			}
		}
		return Summary(cmd.Context(), c, out, width)
	},
}

// Summary writes the summary table for c to w. A positive width renders
// the markdown for a terminal of that width.
func Summary(ctx context.Context, c *config.Config, w io.Writer, width int) error {
	r, err := recoverFunctions(ctx, c)
	if errors.Is(err, report.ErrEmptyResult) {
		fmt.Fprintln(w, "No functions found.")
		return &ExitError{Code: ExitEmpty, Err: err}
	}
	if err != nil {
		return err
	}

	var md strings.Builder
	if err := report.WriteSummary(&md, r.co, r.sh, r.funcs); err != nil {
		return outputError(err)
	}
	if width <= 0 {
		_, err := io.WriteString(w, md.String())
		return outputError(err)
	}

	renderer, err := styles.MarkdownRenderer(width - 2)
	if err != nil {
		return outputError(fmt.Errorf("markdown renderer: %w", err))
	}
	rendered, err := renderer.Render(md.String())
	if err != nil {
		return outputError(fmt.Errorf("render summary: %w", err))
	}
	_, err = io.WriteString(w, rendered)
	return outputError(err)
}
