// Package plan loads a command queue description from YAML and runs it.
//
// A plan names the pipes it needs, lists the commands in queue order and
// says which pipes to drain once every command has finished:
//
//	pipes: [words]
//	commands:
//	  - mode: async
//	    argv: [printf, "hello"]
//	    stdout: words
//	drain: [words]
package plan

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cobble/cobble/pkg/logger"
	"github.com/cobble/cobble/pkg/pipe"
	"github.com/cobble/cobble/pkg/queue"
)

var (
	// ErrUnknownPipe indicates a reference to a pipe the plan does not declare
	ErrUnknownPipe = errors.New("unknown pipe")

	// ErrPipeReused indicates a pipe end bound to more than one command
	ErrPipeReused = errors.New("pipe end used by more than one command")

	// ErrInvalidPlan indicates a structurally invalid plan
	ErrInvalidPlan = errors.New("invalid plan")
)

// Plan is a queue description
type Plan struct {
	Pipes    []string `yaml:"pipes"`
	Commands []Step   `yaml:"commands"`
	Drain    []string `yaml:"drain"`
}

// Step is one queued command
type Step struct {
	Mode   string   `yaml:"mode"`
	Argv   []string `yaml:"argv"`
	Stdin  string   `yaml:"stdin,omitempty"`
	Stdout string   `yaml:"stdout,omitempty"`
}

// Load reads and validates a plan file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates plan data
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks pipe references and modes. Each pipe has at most one
// reader and one writer, a read pipe must be written by an earlier command,
// and a drained pipe cannot also be read by a command.
func (p *Plan) Validate() error {
	declared := make(map[string]bool, len(p.Pipes))
	for _, name := range p.Pipes {
		if name == "" {
			return fmt.Errorf("%w: empty pipe name", ErrInvalidPlan)
		}
		if declared[name] {
			return fmt.Errorf("%w: pipe %q declared twice", ErrInvalidPlan, name)
		}
		declared[name] = true
	}

	if len(p.Commands) == 0 {
		return fmt.Errorf("%w: no commands", ErrInvalidPlan)
	}

	readers := make(map[string]int)
	writers := make(map[string]int)
	for i, step := range p.Commands {
		if _, err := ParseMode(step.Mode); err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		if len(step.Argv) == 0 {
			return fmt.Errorf("command %d: %w", i, queue.ErrEmptyCommand)
		}
		if err := bind(declared, readers, step.Stdin, i); err != nil {
			return err
		}
		if err := bind(declared, writers, step.Stdout, i); err != nil {
			return err
		}
	}

	for name, r := range readers {
		w, ok := writers[name]
		if !ok || w > r {
			return fmt.Errorf("command %d: %w: %q has no earlier writer", r, ErrInvalidPlan, name)
		}
	}

	for _, name := range p.Drain {
		if !declared[name] {
			return fmt.Errorf("drain: %w %q", ErrUnknownPipe, name)
		}
		if _, ok := readers[name]; ok {
			return fmt.Errorf("drain: %w: %q is read by command %d", ErrPipeReused, name, readers[name])
		}
	}
	return nil
}

func bind(declared map[string]bool, users map[string]int, name string, i int) error {
	if name == "" {
		return nil
	}
	if !declared[name] {
		return fmt.Errorf("command %d: %w %q", i, ErrUnknownPipe, name)
	}
	if prev, ok := users[name]; ok {
		return fmt.Errorf("command %d: %w: %q already bound to command %d", i, ErrPipeReused, name, prev)
	}
	users[name] = i
	return nil
}

// ParseMode maps "sync" (the default) and "async" to a queue mode
func ParseMode(s string) (queue.Mode, error) {
	switch s {
	case "", "sync":
		return queue.Sync, nil
	case "async":
		return queue.Async, nil
	default:
		return queue.Sync, fmt.Errorf("%w: unknown mode %q", ErrInvalidPlan, s)
	}
}

// Run creates the plan's pipes, queues its commands on q, invokes the queue
// and writes the contents of every drained pipe to out, in drain order.
func (p *Plan) Run(q *queue.Queue, log logger.Logger, out io.Writer) error {
	pipes := make(map[string]*pipe.Channel, len(p.Pipes))
	defer func() {
		for _, ch := range pipes {
			ch.Close()
		}
	}()

	for _, name := range p.Pipes {
		ch, err := pipe.New()
		if err != nil {
			return fmt.Errorf("pipe %q: %w", name, err)
		}
		pipes[name] = ch
	}

	for _, step := range p.Commands {
		mode, _ := ParseMode(step.Mode)
		var opts []queue.CommandOption
		if step.Stdin != "" {
			opts = append(opts, queue.WithInput(pipes[step.Stdin]))
		}
		if step.Stdout != "" {
			opts = append(opts, queue.WithOutput(pipes[step.Stdout]))
		}
		q.Append(mode, step.Argv, opts...)
	}

	log.Debug(fmt.Sprintf("Loaded plan with %d command(s)", q.Len()))
	if err := q.Invoke(); err != nil {
		return err
	}

	for _, name := range p.Drain {
		ch := pipes[name]
		// A pipe nobody wrote to still has its parent write end open.
		if err := ch.CloseWrite(); err != nil && !errors.Is(err, pipe.ErrClosed) {
			return fmt.Errorf("pipe %q: %w", name, err)
		}
		data, err := ch.Drain()
		if err != nil {
			return fmt.Errorf("pipe %q: %w", name, err)
		}
		log.Debug(fmt.Sprintf("Drained %d byte(s) from %s", len(data), name))
		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}
