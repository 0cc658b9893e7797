// Package cli provides the command-line interface for cobble
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cobble/cobble/pkg/config"
	"github.com/cobble/cobble/pkg/lock"
	"github.com/cobble/cobble/pkg/logger"
	"github.com/cobble/cobble/pkg/queue"
	"github.com/cobble/cobble/pkg/rebuild"
)

// CLI encapsulates the command-line interface without global state
type CLI struct {
	opts      *Options
	viper     *viper.Viper
	rootCmd   *cobra.Command
	config    *config.Config
	lock      *lock.ProcessLock
	logger    *logger.ConsoleLogger
	output    io.Writer
	errorOut  io.Writer
	terminate queue.Terminator
}

// NewCLI creates a CLI writing to the process streams
func NewCLI(opts *Options) *CLI {
	if opts == nil {
		opts = NewOptions()
	}

	c := &CLI{
		opts:      opts,
		viper:     viper.New(),
		output:    os.Stdout,
		errorOut:  os.Stderr,
		terminate: os.Exit,
	}
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(opts *Options, output, errorOut io.Writer) *CLI {
	c := NewCLI(opts)
	c.output = output
	c.errorOut = errorOut
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// SetTerminator replaces os.Exit for commands that end the program
func (c *CLI) SetTerminator(t queue.Terminator) {
	c.terminate = t
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "cobble",
		Short: "Run command queues and rebuild programs from source",
		Long: `cobble runs queues of external commands, synchronously or concurrently,
wired together with pipes, and keeps a program in step with its sources by
recompiling, relinking and restarting it when they change.`,

		SilenceUsage:       true,
		PersistentPreRunE:  c.initializeConfig,
		PersistentPostRunE: c.cleanup,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.opts.Version
	c.rootCmd.SetVersionTemplate("cobble v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newRunCmd())
	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newRebuildCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.opts.ConfigFile, "config", "", "config file (default: "+DefaultConfigFile+" if present)")
	flags.StringVarP(&c.opts.Verbosity, "verbosity", "v", c.opts.Verbosity, "log level (debug, info, warn, error)")
	flags.BoolVar(&c.opts.NoColor, "no-color", false, "disable colored output")
	flags.StringVar(&c.opts.OnFailure, "on-failure", "", "failed command policy (prompt, continue, abort)")
	flags.StringVar(&c.opts.Replace, "replace", "", "restart strategy after a rebuild (exec, spawn)")

	c.viper.BindPFlag("logLevel", flags.Lookup("verbosity"))
	c.viper.BindPFlag("noColor", flags.Lookup("no-color"))
	c.viper.BindPFlag("onFailure", flags.Lookup("on-failure"))
	c.viper.BindPFlag("replace", flags.Lookup("replace"))

	c.viper.SetEnvPrefix("COBBLE")
	c.viper.BindEnv("logLevel", "COBBLE_LOG_LEVEL")
	c.viper.BindEnv("noColor", "COBBLE_NO_COLOR")
	c.viper.BindEnv("onFailure", "COBBLE_ON_FAILURE")
	c.viper.BindEnv("replace", "COBBLE_REPLACE")
}

// initializeConfig layers the config file, COBBLE_* environment and flags,
// then creates the console lock and logger every command shares.
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfigFile()
	if err != nil {
		return err
	}

	if c.viper.IsSet("logLevel") {
		cfg.LogLevel = c.viper.GetString("logLevel")
	}
	if c.viper.IsSet("noColor") {
		cfg.NoColor = c.viper.GetBool("noColor")
	}
	if c.viper.IsSet("onFailure") {
		cfg.OnFailure = c.viper.GetString("onFailure")
	}
	if c.viper.IsSet("replace") {
		cfg.Replace = c.viper.GetString("replace")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.config = cfg

	c.lock, err = lock.New(cfg.LockFile)
	if err != nil {
		return fmt.Errorf("failed to create console lock: %w", err)
	}
	c.logger = logger.New(logger.Config{
		Level:   cfg.LogLevel,
		NoColor: cfg.NoColor,
		Stdout:  c.output,
		Stderr:  c.errorOut,
		Lock:    c.lock,
	})

	if path := c.configPath(); path != "" {
		c.logger.Debug("Using config file", logger.WithField("file", path))
	}
	return nil
}

func (c *CLI) loadConfigFile() (*config.Config, error) {
	path := c.configPath()
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// configPath returns the explicit config file, the default one when it
// exists, or "".
func (c *CLI) configPath() string {
	if c.opts.ConfigFile != "" {
		return c.opts.ConfigFile
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

func (c *CLI) cleanup(cmd *cobra.Command, args []string) error {
	return c.releaseLock()
}

// releaseLock closes the console lock and removes its file when this
// process created it. Logging keeps working on the in-process mutex.
func (c *CLI) releaseLock() error {
	if c.lock == nil {
		return nil
	}
	if err := c.lock.Close(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove console lock: %w", err)
	}
	return nil
}

// exit ends the program with code. Deferred cleanup does not run past
// os.Exit, so the lock is released first.
func (c *CLI) exit(code int) {
	if err := c.releaseLock(); err != nil {
		c.logger.Warn("Failed to release console lock", logger.WithField("error", err))
	}
	c.terminate(code)
}

// releasingReplacer releases the console lock before the program is
// replaced, since neither strategy returns to cobra's cleanup.
type releasingReplacer struct {
	rebuild.Replacer
	cli *CLI
}

func (r releasingReplacer) Replace(target string, argv []string) error {
	if err := r.cli.releaseLock(); err != nil {
		r.cli.logger.Warn("Failed to release console lock", logger.WithField("error", err))
	}
	return r.Replacer.Replace(target, argv)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "cobble v%s\n", c.opts.Version)
		},
	}
}

// ExecuteWithVersion runs the CLI on os.Args
func ExecuteWithVersion(version string) error {
	opts := NewOptions()
	opts.Version = version
	return NewCLI(opts).Execute(os.Args[1:])
}
