// Package backend spawns child processes for queued commands.
//
// A Backend creates one process per call, wiring standard input and output
// to the supplied pipe ends. The executable is resolved through $PATH unless
// argv[0] contains a path separator.
package backend

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Sentinel errors for spawning
var (
	// ErrEmptyCommand indicates an argv without a program
	ErrEmptyCommand = errors.New("empty command")

	// ErrCreateProcess indicates the operating system refused to create a process
	ErrCreateProcess = errors.New("failed to create process")
)

// ExecFailureCode is the exit status reported for a child whose image could
// not be started.
const ExecFailureCode = 127

// Spec describes one process to spawn.
type Spec struct {
	Argv []string

	// Stdin and Stdout replace the inherited streams when non-nil.
	Stdin  *os.File
	Stdout *os.File
}

// Process is a spawned child.
type Process interface {
	Pid() int

	// Wait blocks until the child terminates. It must be called exactly once.
	Wait() (Status, error)
}

// Backend creates processes.
type Backend interface {
	// Spawn starts spec and returns its process. Errors wrap
	// ErrCreateProcess or ErrEmptyCommand and are fatal to the caller.
	Spawn(spec Spec) (Process, error)
}

// Outcome classifies how a child terminated.
type Outcome int

const (
	// Clean is a zero exit status
	Clean Outcome = iota
	// NonZero is a normal exit with a non-zero status
	NonZero
	// Signaled is termination by a signal
	Signaled
)

// Status is the terminal status of a child.
type Status struct {
	Outcome Outcome
	Code    int
	Signal  syscall.Signal
}

// OK reports a clean exit.
func (s Status) OK() bool {
	return s.Outcome == Clean
}

// ExitCode returns the status to forward to a parent: the exit code, or
// 128+signal for a signaled child.
func (s Status) ExitCode() int {
	if s.Outcome == Signaled {
		return 128 + int(s.Signal)
	}
	return s.Code
}

func (s Status) String() string {
	switch s.Outcome {
	case Clean:
		return "exited cleanly"
	case NonZero:
		return fmt.Sprintf("exited with status %d", s.Code)
	default:
		return fmt.Sprintf("terminated by signal %s", s.Signal)
	}
}

// Classify converts an os.ProcessState into a Status.
func Classify(state *os.ProcessState) Status {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Status{Outcome: Signaled, Code: -1, Signal: ws.Signal()}
	}
	code := state.ExitCode()
	if code == 0 {
		return Status{Outcome: Clean}
	}
	return Status{Outcome: NonZero, Code: code}
}
