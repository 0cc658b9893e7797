package backend

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/cobble/cobble/pkg/logger"
)

// ExecBackend spawns real processes through os/exec.
type ExecBackend struct {
	logger logger.Logger

	// Env, when non-nil, replaces the inherited environment.
	Env []string
	// Dir is the working directory; empty means the caller's.
	Dir string
}

// NewExecBackend creates the default backend.
func NewExecBackend(log logger.Logger) *ExecBackend {
	if log == nil {
		log = logger.Nop()
	}
	return &ExecBackend{logger: log}
}

// Spawn starts spec. A program that cannot be executed (missing, not
// executable, bad format) is reported on the error console and surfaces as a
// process that already exited with ExecFailureCode, the same way a forked
// child that failed to replace its image would. Only resource failures of the
// process-creation call itself are returned as errors.
func (b *ExecBackend) Spawn(spec Spec) (Process, error) {
	if len(spec.Argv) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	cmd.Env = b.Env
	cmd.Dir = b.Dir

	if err := cmd.Start(); err != nil {
		if isCreateFailure(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCreateProcess, strings.Join(spec.Argv, " "), err)
		}
		b.logger.Error(fmt.Sprintf("Exec encountered an error: %v", unwrapExecError(err)),
			logger.WithField("argv", strings.Join(spec.Argv, " ")))
		return &failedProcess{status: Status{Outcome: NonZero, Code: ExecFailureCode}}, nil
	}

	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (Status, error) {
	err := p.cmd.Wait()
	if p.cmd.ProcessState == nil {
		return Status{}, fmt.Errorf("failed to wait for process %d: %w", p.Pid(), err)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return Status{}, fmt.Errorf("failed to wait for process %d: %w", p.Pid(), err)
	}
	return Classify(p.cmd.ProcessState), nil
}

// failedProcess stands in for a child whose exec failed.
type failedProcess struct {
	status Status
}

func (p *failedProcess) Pid() int { return -1 }

func (p *failedProcess) Wait() (Status, error) { return p.status, nil }

// isCreateFailure reports whether err came from the kernel refusing a new
// process, as opposed to the new process failing to load its image.
func isCreateFailure(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EAGAIN, syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE:
		return true
	}
	return false
}

func unwrapExecError(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return execErr.Err
	}
	return err
}
