package queue

import (
	"strings"
	"sync"

	"github.com/cobble/cobble/pkg/backend"
	"github.com/cobble/cobble/pkg/pipe"
)

// Mode selects whether Invoke waits for a command before moving on.
type Mode int

const (
	// Sync blocks the queue until the command exits
	Sync Mode = iota
	// Async hands the command to a background waiter and continues
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "asynchronous"
	}
	return "synchronous"
}

// Command is one queued unit of work. Its argv, mode and pipes are fixed at
// enqueue time; the pid and terminal status are recorded by the pass that
// runs it.
type Command struct {
	Mode   Mode
	Argv   []string
	Input  *pipe.Channel
	Output *pipe.Channel

	mu       sync.Mutex
	pid      int
	status   backend.Status
	finished bool
}

// CommandOption configures a queued command.
type CommandOption func(*Command)

// WithInput wires p's read end to the command's standard input.
func WithInput(p *pipe.Channel) CommandOption {
	return func(c *Command) {
		c.Input = p
	}
}

// WithOutput wires p's write end to the command's standard output.
func WithOutput(p *pipe.Channel) CommandOption {
	return func(c *Command) {
		c.Output = p
	}
}

// Pid returns the process id, or 0 before the command was spawned.
func (c *Command) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Status returns the terminal status and whether the command has finished.
func (c *Command) Status() (backend.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.finished
}

// String returns the command line.
func (c *Command) String() string {
	return strings.Join(c.Argv, " ")
}

func (c *Command) setPid(pid int) {
	c.mu.Lock()
	c.pid = pid
	c.mu.Unlock()
}

func (c *Command) setStatus(status backend.Status) {
	c.mu.Lock()
	c.status = status
	c.finished = true
	c.mu.Unlock()
}

func (c *Command) spec() backend.Spec {
	spec := backend.Spec{Argv: c.Argv}
	if c.Input != nil {
		spec.Stdin = c.Input.Reader()
	}
	if c.Output != nil {
		spec.Stdout = c.Output.Writer()
	}
	return spec
}
