// Package config loads the optional YAML configuration file.
//
// The file is named by the --config flag or, failing that, the
// DISASSEMBLE_CONFIG environment variable. Without either, Default is
// used. Command-line flags that were set explicitly override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"disassemble/internal/disasm"
	"disassemble/internal/image"
	"disassemble/internal/report"
)

// EnvVar names the config file when --config is not given.
const EnvVar = "DISASSEMBLE_CONFIG"

// Config holds every option the root command accepts.
type Config struct {
	Format          string `yaml:"format" json:"format" jsonschema:"title=Format,description=Container format,enum=PE,enum=ELF,default=PE"`
	Input           string `yaml:"input" json:"input" jsonschema:"title=Input,description=Path of the binary to disassemble"`
	FunctionAddress string `yaml:"function_address" json:"function_address,omitempty" jsonschema:"title=Function Address,description=Hex address of a function to force and report alone"`
	NoSharedBlocks  bool   `yaml:"no_shared_blocks" json:"no_shared_blocks,omitempty" jsonschema:"title=No Shared Blocks,description=Skip functions that contain shared basic blocks"`
	SeedOnly        bool   `yaml:"seed_only" json:"seed_only,omitempty" jsonschema:"title=Seed Only,description=Recover only from the function address and skip static discovery"`
	Syntax          string `yaml:"syntax" json:"syntax,omitempty" jsonschema:"title=Syntax,description=Instruction syntax,enum=gnu,enum=intel,enum=go,default=gnu"`
	Order           string `yaml:"order" json:"order,omitempty" jsonschema:"title=Order,description=Function order,enum=discovery,enum=address,default=discovery"`
	JSON            bool   `yaml:"json" json:"json,omitempty" jsonschema:"title=JSON,description=Write the report as JSON"`
	DotDir          string `yaml:"dot" json:"dot,omitempty" jsonschema:"title=DOT Directory,description=Directory for CFG and call graph DOT files"`
	Debug           bool   `yaml:"debug" json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	CPUProfile      string `yaml:"cpuprofile" json:"cpuprofile,omitempty" jsonschema:"title=CPU Profile,description=Path for CPU profile output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Format: string(image.FormatPE),
		Syntax: string(disasm.SyntaxGNU),
		Order:  string(report.OrderDiscovery),
	}
}

// Load reads the file at path, or the file named by DISASSEMBLE_CONFIG when
// path is empty. With neither it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads a YAML config over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the enumerated options and the address. The container
// format is checked when the image is loaded, so a bad one is a load failure.
func (c *Config) Validate() error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, errors.New("input is required"))
	}
	if _, err := disasm.ParseSyntax(c.Syntax); err != nil {
		errs = append(errs, err)
	}
	if _, err := report.ParseOrder(c.Order); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.Address(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Address parses FunctionAddress as hex, with or without 0x. ok is false
// when no address is set.
func (c *Config) Address() (addr uint64, ok bool, err error) {
	s := strings.TrimSpace(c.FunctionAddress)
	if s == "" {
		return 0, false, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	addr, err = strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid function address %q: want hex", c.FunctionAddress)
	}
	return addr, true, nil
}
