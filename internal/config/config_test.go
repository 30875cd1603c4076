package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disassemble.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
format: elf
input: /bin/true
function_address: 0x401000
no_shared_blocks: true
syntax: intel
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Format != "elf" || cfg.Input != "/bin/true" || !cfg.NoSharedBlocks || cfg.Syntax != "intel" {
		t.Errorf("got %+v", cfg)
	}
	// Unset keys keep their defaults.
	if cfg.Order != "discovery" {
		t.Errorf("Order = %q, want discovery", cfg.Order)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	addr, ok, err := cfg.Address()
	if err != nil || !ok || addr != 0x401000 {
		t.Errorf("Address = %#x, %v, %v; want 0x401000", addr, ok, err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "input: a.exe\n")
	t.Setenv(EnvVar, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Input != "a.exe" || cfg.Format != "PE" {
		t.Errorf("got input %q format %q", cfg.Input, cfg.Format)
	}
}

func TestLoadDefault(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != *Default() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: want error")
	}
	if _, err := LoadFile(writeConfig(t, "format: [not, a, string]\n")); err == nil {
		t.Error("bad yaml: want error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"no input", func(c *Config) { c.Input = "" }, "input is required"},
		{"syntax", func(c *Config) { c.Syntax = "masm" }, "unknown syntax"},
		{"order", func(c *Config) { c.Order = "random" }, "unknown order"},
		{"address", func(c *Config) { c.FunctionAddress = "main" }, "invalid function address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Input = "a.out"
			tt.edit(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateLeavesFormatToLoader(t *testing.T) {
	c := Default()
	c.Input = "a.out"
	c.Format = "macho"
	if err := c.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"", 0, false},
		{"401000", 0x401000, true},
		{"0x1010", 0x1010, true},
		{"0XABC", 0xabc, true},
	}
	for _, tt := range tests {
		c := &Config{FunctionAddress: tt.in}
		got, ok, err := c.Address()
		if err != nil || ok != tt.ok || got != tt.want {
			t.Errorf("Address(%q) = %#x, %v, %v; want %#x, %v", tt.in, got, ok, err, tt.want, tt.ok)
		}
	}
}
