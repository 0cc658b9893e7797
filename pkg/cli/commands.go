package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cobble/cobble/pkg/backend"
	"github.com/cobble/cobble/pkg/notifier"
	"github.com/cobble/cobble/pkg/plan"
	"github.com/cobble/cobble/pkg/queue"
	"github.com/cobble/cobble/pkg/rebuild"
	"github.com/cobble/cobble/pkg/watch"
)

// targetFlags are shared by the commands that build a target
type targetFlags struct {
	sources   []string
	output    string
	objectDir string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.sources, "source", "s", nil, "source unit (repeatable; the first is the primary source)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "target binary")
	cmd.Flags().StringVar(&f.objectDir, "object-dir", "", "directory for intermediate objects (default: target directory)")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("output")
}

func (c *CLI) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Run a command queue described by a plan file",
		Long: `Run the commands of a plan file in order. Synchronous commands finish
before the next one starts; asynchronous commands run concurrently and are all
awaited before cobble exits. Pipes listed under "drain" are printed at the end.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPlan(args[0])
		},
	}
}

func (c *CLI) runPlan(path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	q := queue.New(queue.Config{
		Logger:    c.logger,
		Backend:   backend.NewExecBackend(c.logger),
		Prompter:  c.config.Prompter(),
		Terminate: c.exit,
	})
	return p.Run(q, c.logger, c.output)
}

func (c *CLI) newBuildCmd() *cobra.Command {
	var flags targetFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile and link a target once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.bootstrap(flags, nil, c.exit)
			if err != nil {
				return err
			}
			return b.Build()
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) newRebuildCmd() *cobra.Command {
	var flags targetFlags
	cmd := &cobra.Command{
		Use:   "rebuild -s src... -o out [-- args...]",
		Short: "Rebuild a target if its sources changed, then run it",
		Long: `Check the target against its sources, recompile and relink it when any
source is newer, and replace cobble with the target and the given arguments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.bootstrap(flags, args, c.exit)
			if err != nil {
				return err
			}
			return b.Launch()
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) newWatchCmd() *cobra.Command {
	var flags targetFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild a target whenever its sources change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// A failed rebuild is reported and watching goes on.
			b, err := c.bootstrap(flags, nil, func(int) {})
			if err != nil {
				return err
			}

			w, err := watch.New(watch.Config{
				Sources:  flags.sources,
				Target:   b.Target(),
				Settle:   c.config.Watch.Settle,
				Logger:   c.logger,
				Notifier: notifier.New(notifier.Config{Enabled: c.config.Notify, Sound: c.config.Notify}, c.logger),
			}, b)
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := w.Run(ctx); err != nil {
				return err
			}
			c.logger.Info(fmt.Sprintf("Stopped after %d rebuild(s)", w.Builds()))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// bootstrap builds the rebuild pipeline for flags. Extra arguments are
// passed to the target when it is restarted.
func (c *CLI) bootstrap(flags targetFlags, extra []string, terminate queue.Terminator) (*rebuild.Bootstrap, error) {
	replacer, err := rebuild.NewReplacer(c.config.Replace, c.terminate)
	if err != nil {
		return nil, err
	}

	tc := c.config.Toolchain
	objectDir := flags.objectDir
	if objectDir == "" {
		objectDir = tc.ObjectDir
	}

	return rebuild.New(rebuild.Config{
		Sources:   flags.sources,
		Target:    flags.output,
		Args:      append([]string{flags.output}, extra...),
		ObjectDir: objectDir,
		Toolchain: rebuild.Toolchain{
			Compiler:     tc.Compiler,
			Linker:       tc.Linker,
			CompileFlags: tc.CompileFlags,
			LinkFlags:    tc.LinkFlags,
		},
		Logger:    c.logger,
		Backend:   backend.NewExecBackend(c.logger),
		Replacer:  releasingReplacer{Replacer: replacer, cli: c},
		Terminate: terminate,
	})
}
