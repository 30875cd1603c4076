package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"disassemble/internal/cfg"
	"disassemble/internal/config"
	"disassemble/internal/disasm"
	"disassemble/internal/disassemble/log"
	"disassemble/internal/graph"
	"disassemble/internal/image"
	"disassemble/internal/report"
	"disassemble/internal/symbols"
	"disassemble/internal/ui/colorize"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("format", "F", string(image.FormatPE), "Container format: PE or ELF")
	pf.StringP("input", "i", "", "Binary to disassemble")
	pf.StringP("function-address", "a", "", "Hex address of a function to report alone")
	pf.Bool("no-shared-blocks", false, "Skip functions that contain shared basic blocks")
	pf.Bool("seed-only", false, "With --function-address, skip static discovery")
	pf.String("syntax", string(disasm.SyntaxGNU), "Instruction syntax: gnu, intel or go")
	pf.String("order", string(report.OrderDiscovery), "Function order: discovery or address")
	pf.String("config", "", "YAML config file (default $"+config.EnvVar+")")
	pf.BoolP("debug", "d", false, "Debug")
	pf.String("cpuprofile", "", "Write CPU profile to file")

	rootCmd.Flags().BoolP("json", "j", false, "Output the report as JSON")
	rootCmd.Flags().String("dot", "", "Write CFG and call graph DOT files to this directory")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	rootCmd.AddCommand(summaryCmd)
}

var rootCmd = &cobra.Command{
	Use:   "disassemble [file]",
	Short: "Recover functions and basic blocks from ELF and PE binaries",
	Long: `Disassemble loads an ELF or PE image, recovers its functions and basic blocks
from the entry point, symbols and direct call targets, and prints a listing.`,
	Example: `
# List every function of a PE image
disassemble -i program.exe

# Only one function, recovered from its address alone
disassemble -F elf -i a.out -a 401130 --seed-only

# Skip functions that share blocks, write CFGs as DOT
disassemble -F elf -i a.out --no-shared-blocks --dot out/
  `,
	Args: maxOneArg,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, stop, err := setup(cmd, args)
		if err != nil {
			return err
		}
		defer stop()
		cmd.SilenceUsage = true
		return Run(cmd.Context(), c, cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
	},
}

func maxOneArg(cmd *cobra.Command, args []string) error {
	return usageError(cobra.MaximumNArgs(1)(cmd, args))
}

// loadConfig merges the config file with the flags that were set.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	fl := cmd.Flags()
	path, _ := fl.GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return nil, usageError(err)
	}
	setString(fl, "format", &c.Format)
	setString(fl, "input", &c.Input)
	setString(fl, "function-address", &c.FunctionAddress)
	setString(fl, "syntax", &c.Syntax)
	setString(fl, "order", &c.Order)
	setString(fl, "dot", &c.DotDir)
	setString(fl, "cpuprofile", &c.CPUProfile)
	setBool(fl, "no-shared-blocks", &c.NoSharedBlocks)
	setBool(fl, "seed-only", &c.SeedOnly)
	setBool(fl, "json", &c.JSON)
	setBool(fl, "debug", &c.Debug)
	if len(args) > 0 {
		c.Input = args[0]
	}
	if err := c.Validate(); err != nil {
		return nil, usageError(err)
	}
	return c, nil
}

func setString(fl *pflag.FlagSet, name string, dst *string) {
	if fl.Changed(name) {
		*dst, _ = fl.GetString(name)
	}
}

func setBool(fl *pflag.FlagSet, name string, dst *bool) {
	if fl.Changed(name) {
		*dst, _ = fl.GetBool(name)
	}
}

// setup loads the config, installs logging and starts CPU profiling.
// stop must be called when the command is done.
func setup(cmd *cobra.Command, args []string) (*config.Config, func(), error) {
	c, err := loadConfig(cmd, args)
	if err != nil {
		return nil, nil, err
	}
	log.Setup(c.Debug)

	stop := func() {}
	if c.CPUProfile != "" {
		f, err := os.Create(c.CPUProfile)
		if err != nil {
			return nil, nil, outputError(fmt.Errorf("could not create CPU profile: %w", err))
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, nil, outputError(fmt.Errorf("could not start CPU profile: %w", err))
		}
		stop = func() {
			pprof.StopCPUProfile()
			f.Close()
		}
	}
	return c, stop, nil
}

// recovered is the outcome of loading and recovering one image.
type recovered struct {
	co    *cfg.CodeObject
	sh    *cfg.Shared
	funcs []*cfg.Function
}

// recoverFunctions loads the image named by c, recovers its functions and
// applies the report filters.
func recoverFunctions(ctx context.Context, c *config.Config) (*recovered, error) {
	syntax, err := disasm.ParseSyntax(c.Syntax)
	if err != nil {
		return nil, usageError(err)
	}
	order, err := report.ParseOrder(c.Order)
	if err != nil {
		return nil, usageError(err)
	}
	addr, seeded, err := c.Address()
	if err != nil {
		return nil, usageError(err)
	}

	im, err := image.Open(c.Input, image.Format(c.Format))
	if err != nil {
		return nil, &ExitError{Code: ExitLoad, Err: err}
	}
	slog.Info("Loaded image",
		"path", im.Path,
		"format", im.Format,
		"arch", im.Arch,
		"sections", len(im.Sections),
		"symbols", len(im.Symbols),
		"blake3", im.DigestHex())

	co := cfg.New(im, cfg.Options{
		Syntax: syntax,
		Lookup: symbols.Lookup(im.Lookup),
		Logger: slog.Default(),
	})
	if !(c.SeedOnly && seeded) {
		n := co.Parse()
		slog.Debug("Static discovery done", "functions", n, "blocks", len(co.Blocks()))
	}
	if err := ctx.Err(); err != nil {
		return nil, outputError(err)
	}

	opts := report.Options{ExcludeShared: c.NoSharedBlocks, Order: order}
	if seeded {
		f, err := co.Seed(addr)
		if err != nil {
			return nil, usageError(err)
		}
		opts.Only = f
	}

	sh := cfg.DetectShared(co)
	funcs, err := report.Select(co, sh, opts)
	if err != nil {
		return nil, err
	}
	if lg := slog.Default(); lg.Enabled(ctx, slog.LevelDebug) {
		total, hits, _ := symbols.CacheStats()
		lg.Debug("Recovery done",
			"functions", len(co.Functions()),
			"listed", len(funcs),
			"blocks", len(co.Blocks()),
			"demangled", total,
			"demangle_hits", hits)
	}
	return &recovered{co: co, sh: sh, funcs: funcs}, nil
}

// Run executes the report pipeline for c and writes the report to w.
func Run(ctx context.Context, c *config.Config, w io.Writer, color bool) error {
	r, err := recoverFunctions(ctx, c)
	if errors.Is(err, report.ErrEmptyResult) {
		fmt.Fprintln(w, "No functions found.")
		return &ExitError{Code: ExitEmpty, Err: err}
	}
	if err != nil {
		return err
	}

	if c.DotDir != "" {
		if err := graph.WriteDOT(c.DotDir, r.co, r.funcs); err != nil {
			return outputError(fmt.Errorf("write dot files: %w", err))
		}
		slog.Info("Wrote DOT files", "dir", c.DotDir, "functions", len(r.funcs))
	}

	if c.JSON {
		return outputError(report.WriteJSON(w, r.co, r.sh, r.funcs))
	}
	order, _ := report.ParseOrder(c.Order)
	return outputError(report.WriteText(w, r.co, r.funcs, report.Options{
		Order: order,
		Color: color && colorize.Enabled(),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// hasFlag reports whether any argument is one of names.
func hasFlag(names ...string) bool {
	for _, arg := range os.Args[1:] {
		for _, n := range names {
			if arg == n {
				return true
			}
		}
	}
	return false
}

func Execute() {
	// JSON and piped output bypass fang so nothing but the report reaches stdout.
	plain := hasFlag("--json", "-j") || !term.IsTerminal(os.Stdout.Fd())

	var err error
	if plain {
		err = rootCmd.ExecuteContext(context.Background())
	} else {
		err = fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		)
	}
	log.Close()
	if err != nil {
		os.Exit(ExitCode(err))
	}
}
