// Package config handles configuration loading and validation
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cobble/cobble/pkg/prompt"
)

// Failure policies for commands that exit abnormally
const (
	OnFailurePrompt   = "prompt"
	OnFailureContinue = "continue"
	OnFailureAbort    = "abort"
)

// Replace strategies for the rebuilt program
const (
	ReplaceExec  = "exec"
	ReplaceSpawn = "spawn"
)

// ErrInvalid indicates a configuration that failed validation
var ErrInvalid = errors.New("invalid configuration")

// Config is the cobble configuration
type Config struct {
	LogLevel  string          `yaml:"logLevel" mapstructure:"logLevel"`
	NoColor   bool            `yaml:"noColor" mapstructure:"noColor"`
	OnFailure string          `yaml:"onFailure" mapstructure:"onFailure"`
	LockFile  string          `yaml:"lockFile" mapstructure:"lockFile"`
	Toolchain ToolchainConfig `yaml:"toolchain" mapstructure:"toolchain"`
	Replace   string          `yaml:"replace" mapstructure:"replace"`
	Notify    bool            `yaml:"notify" mapstructure:"notify"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
}

// ToolchainConfig configures the compile and link phases of a rebuild
type ToolchainConfig struct {
	Compiler     string   `yaml:"compiler" mapstructure:"compiler"`
	Linker       string   `yaml:"linker" mapstructure:"linker"`
	CompileFlags []string `yaml:"compileFlags" mapstructure:"compileFlags"`
	LinkFlags    []string `yaml:"linkFlags" mapstructure:"linkFlags"`
	ObjectDir    string   `yaml:"objectDir" mapstructure:"objectDir"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	// Settle is how long the sources must stay quiet before a rebuild.
	Settle time.Duration `yaml:"settle" mapstructure:"settle"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		OnFailure: OnFailurePrompt,
		Toolchain: ToolchainConfig{
			Compiler: "c++",
			Linker:   "c++",
		},
		Replace: ReplaceExec,
		Watch: WatchConfig{
			Settle: 500 * time.Millisecond,
		},
	}
}

// Load reads a YAML (or JSON) configuration file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration data over the defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated fields
func (c *Config) Validate() error {
	switch c.OnFailure {
	case OnFailurePrompt, OnFailureContinue, OnFailureAbort:
	default:
		return fmt.Errorf("%w: unknown onFailure %q", ErrInvalid, c.OnFailure)
	}

	switch c.Replace {
	case ReplaceExec, ReplaceSpawn:
	default:
		return fmt.Errorf("%w: unknown replace strategy %q", ErrInvalid, c.Replace)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}

	if c.Watch.Settle < 0 {
		return fmt.Errorf("%w: negative settle delay", ErrInvalid)
	}
	return nil
}

// Prompter returns the prompter implementing the failure policy
func (c *Config) Prompter() prompt.Prompter {
	switch c.OnFailure {
	case OnFailureContinue:
		return prompt.Static{Decision: prompt.Continue}
	case OnFailureAbort:
		return prompt.Static{Decision: prompt.Abort}
	default:
		return prompt.NewConsole()
	}
}

// applyDefaults fills fields an explicit empty value cleared
func (c *Config) applyDefaults() {
	d := Default()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.OnFailure == "" {
		c.OnFailure = d.OnFailure
	}
	if c.Replace == "" {
		c.Replace = d.Replace
	}
	if c.Toolchain.Compiler == "" {
		c.Toolchain.Compiler = d.Toolchain.Compiler
	}
	if c.Toolchain.Linker == "" {
		c.Toolchain.Linker = d.Toolchain.Linker
	}
}
