// Package rebuild implements the self-rebuild bootstrap: when a program's
// sources are newer than its binary it recompiles each unit, relinks,
// removes the intermediate objects and restarts itself with the arguments
// it was launched with.
package rebuild

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cobble/cobble/pkg/backend"
	"github.com/cobble/cobble/pkg/logger"
	"github.com/cobble/cobble/pkg/prompt"
	"github.com/cobble/cobble/pkg/queue"
)

// Config describes a bootstrap. Zero fields get defaults.
type Config struct {
	// Sources are the translation units; the first is the primary source.
	Sources []string
	// Target is the binary being rebuilt.
	Target string
	// Args is the argument vector to restart with. Defaults to os.Args.
	Args []string
	// ObjectDir receives intermediate objects. Defaults to Target's directory.
	ObjectDir string

	Toolchain Toolchain
	Logger    logger.Logger
	Backend   backend.Backend
	Replacer  Replacer
	Terminate queue.Terminator
}

// Bootstrap runs check, compile, link, cleanup and replace, in that order.
type Bootstrap struct {
	sources   []string
	target    string
	args      []string
	objectDir string

	toolchain Toolchain
	logger    logger.Logger
	backend   backend.Backend
	replacer  Replacer
	terminate queue.Terminator
}

// New validates cfg and resolves relative paths against the working
// directory. Every unit must compile to its own object file.
func New(cfg Config) (*Bootstrap, error) {
	if len(cfg.Sources) == 0 {
		return nil, ErrNoSources
	}
	if cfg.Target == "" {
		return nil, ErrNoTarget
	}

	b := &Bootstrap{
		args:      cfg.Args,
		toolchain: cfg.Toolchain,
		logger:    cfg.Logger,
		backend:   cfg.Backend,
		replacer:  cfg.Replacer,
		terminate: cfg.Terminate,
	}

	var err error
	for _, src := range cfg.Sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", src, err)
		}
		b.sources = append(b.sources, abs)
	}
	if b.target, err = filepath.Abs(cfg.Target); err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Target, err)
	}
	b.objectDir = cfg.ObjectDir
	if b.objectDir == "" {
		b.objectDir = filepath.Dir(b.target)
	}
	if b.objectDir, err = filepath.Abs(b.objectDir); err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.ObjectDir, err)
	}

	seen := make(map[string]string, len(b.sources))
	for _, src := range b.sources {
		obj := ObjectPath(src, b.objectDir)
		if prev, ok := seen[obj]; ok {
			return nil, fmt.Errorf("%w: %s and %s both compile to %s", ErrObjectCollision, prev, src, obj)
		}
		seen[obj] = src
	}

	if b.args == nil {
		b.args = os.Args
	}
	if len(b.args) == 0 {
		b.args = []string{b.target}
	}
	if b.toolchain.Compiler == "" {
		b.toolchain.Compiler = DefaultToolchain().Compiler
	}
	if b.toolchain.Linker == "" {
		b.toolchain.Linker = DefaultToolchain().Linker
	}
	if b.logger == nil {
		b.logger = logger.Nop()
	}
	if b.terminate == nil {
		b.terminate = os.Exit
	}
	if b.replacer == nil {
		b.replacer = ExecReplacer{}
	}
	return b, nil
}

// Target returns the absolute target path.
func (b *Bootstrap) Target() string {
	return b.target
}

// Objects returns the object paths the compile phase produces.
func (b *Bootstrap) Objects() []string {
	objs := make([]string, 0, len(b.sources))
	for _, src := range b.sources {
		objs = append(objs, ObjectPath(src, b.objectDir))
	}
	return objs
}

// Stale reports whether any source is newer than the target.
func (b *Bootstrap) Stale() (bool, error) {
	return IsStale(b.sources, b.target)
}

// Run is the bootstrap entry point. It returns nil immediately when the
// target is up to date. Otherwise it rebuilds and replaces the running
// program; any failure is reported and terminates the program.
func (b *Bootstrap) Run() error {
	stale, err := b.Stale()
	if err != nil {
		return b.fail("Failed to check sources", err)
	}
	if !stale {
		b.logger.Debug("Target is up to date", logger.WithField("target", b.target))
		return nil
	}

	b.logger.Info("Rebuilding self...")
	if err := b.Build(); err != nil {
		return err
	}

	return b.replace()
}

// Launch rebuilds the target when it is stale and then always replaces the
// current program with it.
func (b *Bootstrap) Launch() error {
	stale, err := b.Stale()
	if err != nil {
		return b.fail("Failed to check sources", err)
	}
	if stale {
		b.logger.Info(fmt.Sprintf("Rebuilding %s...", b.target))
		if err := b.Build(); err != nil {
			return err
		}
	}
	return b.replace()
}

func (b *Bootstrap) replace() error {
	b.logger.Info(fmt.Sprintf("Restarting program %s", b.target),
		logger.WithField("args", strings.Join(b.args, " ")))
	if err := b.replacer.Replace(b.target, b.args); err != nil {
		return b.fail("Failed to restart program", err)
	}
	return nil
}

// Build compiles every unit concurrently, links the objects into the target
// and removes the objects. Any failing command aborts the program.
func (b *Bootstrap) Build() error {
	if err := os.MkdirAll(b.objectDir, 0o755); err != nil {
		return b.fail("Failed to create object directory", err)
	}

	log := b.logger.Indent()
	q := queue.New(queue.Config{
		Logger:    log,
		Backend:   b.backend,
		Prompter:  prompt.Static{Decision: prompt.Abort},
		Terminate: b.terminate,
	})

	log.Info(fmt.Sprintf("Compiling %d unit(s)", len(b.sources)))
	objects := make([]string, 0, len(b.sources))
	for _, src := range b.sources {
		objects = append(objects, Compile(q, b.toolchain, queue.Async, src, b.objectDir))
	}
	if err := q.Invoke(); err != nil {
		return fmt.Errorf("%w: compile: %w", ErrRebuildFailed, err)
	}

	q.Clear()
	log.Info(fmt.Sprintf("Linking %s", b.target))
	Link(q, b.toolchain, objects, b.target)
	if err := q.Invoke(); err != nil {
		return fmt.Errorf("%w: link: %w", ErrRebuildFailed, err)
	}

	q.Clear()
	log.Info("Removing intermediate objects")
	q.Sync(append([]string{"rm", "-f"}, objects...)...)
	if err := q.Invoke(); err != nil {
		return fmt.Errorf("%w: cleanup: %w", ErrRebuildFailed, err)
	}

	log.Success(fmt.Sprintf("Built %s", b.target))
	return nil
}

// fail reports a bootstrap-level failure and terminates the program.
func (b *Bootstrap) fail(message string, err error) error {
	b.logger.Error(message, logger.WithField("error", err))
	b.terminate(1)
	if errors.Is(err, ErrRebuildFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRebuildFailed, err)
}
