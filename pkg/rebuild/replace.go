package rebuild

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/cobble/cobble/pkg/backend"
	"github.com/cobble/cobble/pkg/queue"
)

// Replacer ends the current program and continues as target with argv.
// A Replacer returns only on failure (or when its terminator returns).
type Replacer interface {
	Replace(target string, argv []string) error
}

// ExecReplacer replaces the process image in place with execve(2). The
// process id, open stdio and environment carry over.
type ExecReplacer struct{}

// Replace implements Replacer.
func (ExecReplacer) Replace(target string, argv []string) error {
	err := unix.Exec(target, argv, os.Environ())
	return fmt.Errorf("exec %s: %w", target, err)
}

// SpawnReplacer starts target as a child with the same stdio, waits for it
// and ends the current program with the child's exit status.
type SpawnReplacer struct {
	Terminate queue.Terminator
}

// Replace implements Replacer.
func (r SpawnReplacer) Replace(target string, argv []string) error {
	cmd := exec.Command(target)
	cmd.Args = argv
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("spawn %s: %w", target, err)
	}

	terminate := r.Terminate
	if terminate == nil {
		terminate = os.Exit
	}
	terminate(backend.Classify(cmd.ProcessState).ExitCode())
	return nil
}

// NewReplacer returns the replacer for a strategy name ("exec" or "spawn").
func NewReplacer(strategy string, terminate queue.Terminator) (Replacer, error) {
	switch strategy {
	case "", "exec":
		return ExecReplacer{}, nil
	case "spawn":
		return SpawnReplacer{Terminate: terminate}, nil
	default:
		return nil, fmt.Errorf("unknown replace strategy %q", strategy)
	}
}
