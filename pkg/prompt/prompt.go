// Package prompt implements the interactive recovery protocol run when a
// queued command exits abnormally.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/cobble/cobble/pkg/backend"
	"github.com/cobble/cobble/pkg/logger"
)

// Decision is the operator's answer to an abnormal exit.
type Decision int

const (
	// Continue lets the remaining queued commands run
	Continue Decision = iota
	// Abort terminates the whole program
	Abort
)

func (d Decision) String() string {
	if d == Abort {
		return "abort"
	}
	return "continue"
}

// Prompter decides what happens after a command exits abnormally.
type Prompter interface {
	Ask(log logger.Logger, argv []string, status backend.Status) Decision
}

// Console asks the operator on the standard console. The whole exchange
// runs under the console lock, so concurrent prompts from several waiters
// are answered one at a time and never interleave with log lines.
type Console struct {
	reader      *bufio.Reader
	writer      io.Writer
	interactive bool

	mu sync.Mutex
}

// NewConsole creates a prompter on stdin/stdout.
func NewConsole() *Console {
	return &Console{
		reader:      bufio.NewReader(os.Stdin),
		writer:      os.Stdout,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// NewConsoleWithIO creates a prompter with custom IO.
// Useful for testing.
func NewConsoleWithIO(reader io.Reader, writer io.Writer) *Console {
	return &Console{
		reader: bufio.NewReader(reader),
		writer: writer,
	}
}

// Ask prints the failure and reads c(ontinue) or a(bort). End of input
// counts as abort.
func (c *Console) Ask(log logger.Logger, argv []string, status backend.Status) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	lk := log.Locker()
	lk.Lock()
	defer lk.Unlock()

	indent := logger.Indentation(log.Depth())
	warn := color.New(color.FgYellow)

	_, _ = fmt.Fprintf(c.writer, "%s%s\n", indent,
		warn.Sprintf("[WARNING] => Command \"%s\" %s", strings.Join(argv, " "), status))
	if !c.interactive && c.writer == os.Stdout {
		_, _ = fmt.Fprintf(c.writer, "%s%s\n", indent,
			warn.Sprint("[WARNING] => stdin is not a terminal, reading the decision from input"))
	}

	for {
		_, _ = fmt.Fprintf(c.writer, "%s[c]ontinue with remaining commands or [a]bort? ", indent)

		line, err := c.reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))

		switch answer {
		case "c", "continue":
			return Continue
		case "a", "abort":
			return Abort
		}

		if err != nil {
			_, _ = fmt.Fprintln(c.writer)
			return Abort
		}
		_, _ = fmt.Fprintf(c.writer, "%sPlease answer \"c\" or \"a\".\n", indent)
	}
}

// Static answers every abnormal exit with the same decision and logs it.
type Static struct {
	Decision Decision
}

// Ask implements Prompter.
func (s Static) Ask(log logger.Logger, argv []string, status backend.Status) Decision {
	fields := []logger.Field{
		logger.WithField("argv", strings.Join(argv, " ")),
		logger.WithField("decision", s.Decision),
	}
	if s.Decision == Abort {
		log.Error(fmt.Sprintf("Command %s %s", argv[0], status), fields...)
	} else {
		log.Warn(fmt.Sprintf("Command %s %s", argv[0], status), fields...)
	}
	return s.Decision
}
