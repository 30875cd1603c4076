package cmd

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"disassemble/internal/config"
	"disassemble/internal/image"
	"disassemble/internal/image/imagetest"
	"disassemble/internal/report"
)

const textAddr = 0x401000

// 401000: push rbp; pop rbp; ret   401010: nop; ret
func twoFunctionCode() []byte {
	code := bytes.Repeat([]byte{0xcc}, 0x12)
	copy(code, []byte{0x55, 0x5d, 0xc3})
	copy(code[0x10:], []byte{0x90, 0xc3})
	return code
}

func twoFunctionELF(t *testing.T) string {
	t.Helper()
	data := imagetest.ELF64(elf.EM_X86_64, textAddr, twoFunctionCode(), textAddr, []imagetest.Func{
		{Name: "main", Addr: textAddr, Size: 3},
		{Name: "second", Addr: textAddr + 0x10, Size: 2},
	})
	return imagetest.WriteFile(t, "two.elf", data)
}

func elfConfig(path string) *config.Config {
	c := config.Default()
	c.Format = "elf"
	c.Input = path
	return c
}

func run(t *testing.T, c *config.Config) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := Run(context.Background(), c, &buf, false)
	return buf.String(), err
}

func sections(out string) int { return strings.Count(out, "[!] Function at") }

func TestScenarioTwoFunctions(t *testing.T) {
	c := elfConfig(twoFunctionELF(t))
	c.NoSharedBlocks = true
	out, err := run(t, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := sections(out); n != 2 {
		t.Fatalf("got %d function sections, want 2:\n%s", n, out)
	}
	for _, want := range []string{
		"[!] Function at 401000 <main>",
		"[!] Function at 401010 <second>",
		"Block at 401000 (3 instructions)",
		"Block at 401010 (2 instructions)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestScenarioFunctionAddress(t *testing.T) {
	for _, seedOnly := range []bool{false, true} {
		name := "parse all"
		if seedOnly {
			name = "seed only"
		}
		t.Run(name, func(t *testing.T) {
			c := elfConfig(twoFunctionELF(t))
			c.FunctionAddress = "0x401010"
			c.SeedOnly = seedOnly
			out, err := run(t, c)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if n := sections(out); n != 1 {
				t.Fatalf("got %d function sections, want 1:\n%s", n, out)
			}
			if !strings.Contains(out, "[!] Function at 401010") {
				t.Errorf("wrong function in:\n%s", out)
			}
		})
	}
}

func TestScenarioEmpty(t *testing.T) {
	path := imagetest.WriteFile(t, "empty.elf", imagetest.ELF64(elf.EM_X86_64, textAddr, twoFunctionCode(), 0, nil))
	out, err := run(t, elfConfig(path))
	if !errors.Is(err, report.ErrEmptyResult) {
		t.Fatalf("got error %v, want ErrEmptyResult", err)
	}
	if got := ExitCode(err); got != ExitEmpty {
		t.Errorf("ExitCode = %d, want %d", got, ExitEmpty)
	}
	if sections(out) != 0 || !strings.Contains(out, "No functions found.") {
		t.Errorf("got output %q", out)
	}
}

func TestLoadFailures(t *testing.T) {
	elfPath := twoFunctionELF(t)
	junk := imagetest.WriteFile(t, "junk.bin", []byte("not an executable"))

	tests := []struct {
		name   string
		path   string
		format string
		want   error
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope"), "elf", os.ErrNotExist},
		{"garbage", junk, "elf", image.ErrBadHeader},
		{"wrong format", elfPath, "pe", image.ErrBadHeader},
		{"unknown format", elfPath, "macho", image.ErrUnknownFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := elfConfig(tt.path)
			c.Format = tt.format
			out, err := run(t, c)
			var le *image.LoadError
			if !errors.As(err, &le) {
				t.Fatalf("got error %v, want LoadError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got error %v, want %v", err, tt.want)
			}
			if got := ExitCode(err); got != ExitLoad {
				t.Errorf("ExitCode = %d, want %d", got, ExitLoad)
			}
			if out != "" {
				t.Errorf("report written before load failure: %q", out)
			}
		})
	}
}

func TestSeedOutsideCode(t *testing.T) {
	c := elfConfig(twoFunctionELF(t))
	c.FunctionAddress = "10"
	_, err := run(t, c)
	if got := ExitCode(err); got != ExitUsage {
		t.Errorf("ExitCode(%v) = %d, want %d", err, got, ExitUsage)
	}
}

func TestJSONReport(t *testing.T) {
	c := elfConfig(twoFunctionELF(t))
	c.JSON = true
	out, err := run(t, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var doc report.Document
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(doc.Functions) != 2 {
		t.Fatalf("got %d functions, want 2", len(doc.Functions))
	}
	if doc.Functions[0].Address != "0x401000" || doc.Functions[1].Address != "0x401010" {
		t.Errorf("got addresses %s, %s", doc.Functions[0].Address, doc.Functions[1].Address)
	}
	if len(doc.Digest) != 64 {
		t.Errorf("digest %q, want 64 hex digits", doc.Digest)
	}
}

func TestDOTExport(t *testing.T) {
	c := elfConfig(twoFunctionELF(t))
	c.DotDir = filepath.Join(t.TempDir(), "dot")
	if _, err := run(t, c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, name := range []string{"401000.dot", "401010.dot", "callgraph.dot"} {
		if _, err := os.Stat(filepath.Join(c.DotDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestOutputFailures(t *testing.T) {
	blocker := imagetest.WriteFile(t, "not-a-dir", []byte("x"))

	tests := []struct {
		name string
		edit func(*config.Config)
		w    func() io.Writer
	}{
		{"dot dir is a file", func(c *config.Config) { c.DotDir = filepath.Join(blocker, "dot") }, func() io.Writer { return io.Discard }},
		{"text write", func(*config.Config) {}, func() io.Writer { return failingWriter{} }},
		{"json write", func(c *config.Config) { c.JSON = true }, func() io.Writer { return failingWriter{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := elfConfig(twoFunctionELF(t))
			tt.edit(c)
			err := Run(context.Background(), c, tt.w(), false)
			if err == nil {
				t.Fatal("Run succeeded, want error")
			}
			if got := ExitCode(err); got != ExitOutput {
				t.Errorf("ExitCode(%v) = %d, want %d", err, got, ExitOutput)
			}
			var le *image.LoadError
			if errors.As(err, &le) {
				t.Errorf("output failure reported as LoadError: %v", err)
			}
		})
	}
}

func TestSummaryPlain(t *testing.T) {
	c := elfConfig(twoFunctionELF(t))
	var buf bytes.Buffer
	if err := Summary(context.Background(), c, &buf, 0); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"| `401000` | main |", "| `401010` | second |"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSummaryRendered(t *testing.T) {
	c := elfConfig(twoFunctionELF(t))
	var buf bytes.Buffer
	if err := Summary(context.Background(), c, &buf, 100); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !strings.Contains(buf.String(), "401010") {
		t.Errorf("rendered summary lacks function address:\n%s", buf.String())
	}
}

func TestSchema(t *testing.T) {
	var buf bytes.Buffer
	schemaCmd.SetOut(&buf)
	defer schemaCmd.SetOut(nil)
	if err := schemaCmd.RunE(schemaCmd, nil); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"function_address", "no_shared_blocks", "seed_only"} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("schema lacks %q", key)
		}
	}
}

func TestRootCommand(t *testing.T) {
	path := twoFunctionELF(t)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"-F", "ELF", "--no-shared-blocks", "--order", "address", path})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := sections(buf.String()); n != 2 {
		t.Errorf("got %d function sections, want 2:\n%s", n, buf.String())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{&image.LoadError{Path: "x", Err: image.ErrBadHeader}, ExitLoad},
		{usageError(errors.New("bad flag")), ExitUsage},
		{&ExitError{Code: ExitEmpty, Err: report.ErrEmptyResult}, ExitEmpty},
		{fmt.Errorf("wrapped: %w", &image.LoadError{Err: image.ErrNoCode}), ExitLoad},
		{outputError(errors.New("disk full")), ExitOutput},
		{errors.New("other"), ExitOutput},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
