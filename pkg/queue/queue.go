// Package queue provides the command queue: an ordered list of commands run
// synchronously or asynchronously, with pipes between them and interactive
// recovery when a command exits abnormally.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/cobble/cobble/internal/engine"
	"github.com/cobble/cobble/pkg/backend"
	"github.com/cobble/cobble/pkg/logger"
	"github.com/cobble/cobble/pkg/pipe"
	"github.com/cobble/cobble/pkg/prompt"
)

// Terminator ends the program with the given status. The default is os.Exit.
// If a Terminator returns, Invoke stops dispatching, waits for outstanding
// waiters and reports the failure as an error instead.
type Terminator func(code int)

// Config holds the collaborators of a Queue. Zero fields get defaults.
type Config struct {
	Logger    logger.Logger
	Backend   backend.Backend
	Prompter  prompt.Prompter
	Terminate Terminator
}

// Stats reports the async bookkeeping of the current pass.
type Stats struct {
	Issued    int
	Completed int
}

// Queue accumulates commands and runs them in insertion order.
type Queue struct {
	logger    logger.Logger
	backend   backend.Backend
	prompter  prompt.Prompter
	terminate Terminator

	commands []*Command

	mu        sync.Mutex
	cond      *sync.Cond
	issued    int
	completed int
	failure   error
}

// New creates a queue.
func New(cfg Config) *Queue {
	q := &Queue{
		logger:    cfg.Logger,
		backend:   cfg.Backend,
		prompter:  cfg.Prompter,
		terminate: cfg.Terminate,
	}
	if q.logger == nil {
		q.logger = logger.Nop()
	}
	if q.backend == nil {
		q.backend = backend.NewExecBackend(q.logger)
	}
	if q.prompter == nil {
		q.prompter = prompt.NewConsole()
	}
	if q.terminate == nil {
		q.terminate = os.Exit
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append adds a command and returns the queue for chaining. The executable
// is resolved when the command is spawned.
func (q *Queue) Append(mode Mode, argv []string, opts ...CommandOption) *Queue {
	c := &Command{
		Mode: mode,
		Argv: append([]string(nil), argv...),
	}
	for _, opt := range opts {
		opt(c)
	}
	q.commands = append(q.commands, c)
	return q
}

// Sync appends a synchronous command.
func (q *Queue) Sync(argv ...string) *Queue {
	return q.Append(Sync, argv)
}

// Async appends an asynchronous command.
func (q *Queue) Async(argv ...string) *Queue {
	return q.Append(Async, argv)
}

// Clear discards all commands and resets the counters. It must not be
// called while a previous Invoke still has outstanding async commands.
func (q *Queue) Clear() {
	q.commands = nil

	q.mu.Lock()
	q.issued = 0
	q.completed = 0
	q.failure = nil
	q.mu.Unlock()
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return len(q.commands)
}

// Commands returns the queued commands in order.
func (q *Queue) Commands() []*Command {
	return append([]*Command(nil), q.commands...)
}

// Stats returns the issued and completed async counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Issued: q.issued, Completed: q.completed}
}

// Invoke runs every command once, in order. Sync commands are awaited before
// the next command starts; async commands are handed to a waiter. Invoke
// returns only after every async command of the pass has completed.
//
// A spawn failure, or an abort decision after an abnormal exit, terminates
// the program through the Terminator. The returned error is only observable
// when the Terminator returns.
func (q *Queue) Invoke() error {
	run := uuid.New().String()[:8]
	log := q.logger
	group, _ := engine.NewSafeGroup(context.Background(), log)

	for _, c := range q.commands {
		if q.failed() {
			break
		}

		log.Info(fmt.Sprintf("Executing %s command: %s", c.Mode, c.name()),
			logger.WithField("run", run))

		proc, err := q.spawn(c)
		if err != nil {
			// No child took over the pipe ends.
			q.closeInput(c)
			q.teardown(c)
			q.fatal(c, "Failed to start process", err)
			break
		}

		if c.Mode == Async {
			q.issue()
			group.Go(func() error {
				return q.await(c, proc)
			})
			continue
		}

		status, err := proc.Wait()
		if err != nil {
			q.teardown(c)
			q.fatal(c, "Failed to wait for process", err)
			break
		}
		c.setStatus(status)
		if !status.OK() {
			q.recover(c, status)
		}
		q.teardown(c)
	}

	log.Info("Waiting for all commands to finish", logger.WithField("run", run))
	q.waitAll()
	if err := group.Wait(); err != nil {
		q.fail(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failure
}

// spawn starts c and closes the parent's copy of the read end the child
// inherited.
func (q *Queue) spawn(c *Command) (backend.Process, error) {
	if len(c.Argv) == 0 {
		return nil, ErrEmptyCommand
	}

	proc, err := q.backend.Spawn(c.spec())
	if err != nil {
		return nil, err
	}
	c.setPid(proc.Pid())
	q.closeInput(c)
	q.logger.Debug("Spawned process",
		logger.WithField("pid", proc.Pid()),
		logger.WithField("argv", c.String()))
	return proc, nil
}

// closeInput closes the parent's copy of c's input read end.
func (q *Queue) closeInput(c *Command) {
	if c.Input != nil {
		q.closeEnd(c, "read", c.Input.CloseRead)
	}
}

// teardown closes the write end owned by c, so a reader blocked on the
// paired end sees EOF.
func (q *Queue) teardown(c *Command) {
	if c.Output != nil {
		q.closeEnd(c, "write", c.Output.CloseWrite)
	}
}

func (q *Queue) closeEnd(c *Command, end string, closeFn func() error) {
	if err := closeFn(); err != nil && !errors.Is(err, pipe.ErrClosed) {
		q.logger.Warn(fmt.Sprintf("Failed to close pipe %s end", end),
			logger.WithField("argv", c.String()),
			logger.WithField("error", err))
	}
}

// recover runs the abnormal-exit protocol for c.
func (q *Queue) recover(c *Command, status backend.Status) {
	decision := q.prompter.Ask(q.logger, c.Argv, status)
	if decision == prompt.Continue {
		return
	}

	q.logger.Error(fmt.Sprintf("Aborting after %s %s", c.name(), status))
	q.fail(fmt.Errorf("%w: %s %s", ErrAborted, c.String(), status))
	q.terminate(1)
}

// fatal reports an orchestration failure and terminates the program.
func (q *Queue) fatal(c *Command, message string, err error) {
	q.logger.Error(fmt.Sprintf("%s %s", message, c.name()),
		logger.WithField("argv", c.String()),
		logger.WithField("error", err))
	q.fail(fmt.Errorf("%w: %s: %w", ErrSpawn, c.String(), err))
	q.terminate(1)
}

func (q *Queue) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failure == nil {
		q.failure = err
	}
}

func (q *Queue) failed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failure != nil
}

func (q *Queue) issue() {
	q.mu.Lock()
	q.issued++
	q.mu.Unlock()
}

func (q *Queue) complete() {
	q.mu.Lock()
	q.completed++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// waitAll blocks until every issued async command has completed.
func (q *Queue) waitAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.completed < q.issued {
		q.cond.Wait()
	}
}

func (c *Command) name() string {
	if len(c.Argv) == 0 {
		return "<empty>"
	}
	return c.Argv[0]
}
