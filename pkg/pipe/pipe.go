// Package pipe provides PipeChannel, an anonymous unidirectional OS pipe
// that connects two queued commands or a command and the caller.
package pipe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Sentinel errors for pipe operations
var (
	// ErrClosed indicates the requested end has already been closed
	ErrClosed = errors.New("pipe end already closed")

	// ErrDrained indicates Drain was called a second time
	ErrDrained = errors.New("pipe already drained")
)

// Channel is a two-ended byte conduit backed by os.Pipe. EOF reaches the
// reader only once every copy of the write end is closed.
type Channel struct {
	r *os.File
	w *os.File

	mu          sync.Mutex
	readClosed  bool
	writeClosed bool
	drained     bool
}

// New creates a pipe channel.
func New() (*Channel, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	return &Channel{r: r, w: w}, nil
}

// Reader returns the read end for wiring into a child's stdin.
func (c *Channel) Reader() *os.File {
	return c.r
}

// Writer returns the write end for wiring into a child's stdout.
func (c *Channel) Writer() *os.File {
	return c.w
}

// CloseRead closes the read end. A second call returns ErrClosed.
func (c *Channel) CloseRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readClosed {
		return ErrClosed
	}
	c.readClosed = true
	return c.r.Close()
}

// CloseWrite closes the write end, signalling EOF to a blocked reader once
// no child still holds a copy. A second call returns ErrClosed.
func (c *Channel) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeClosed {
		return ErrClosed
	}
	c.writeClosed = true
	return c.w.Close()
}

// Drain reads until the writer closes, then closes the read end. It is single
// use: calling it again returns ErrDrained.
func (c *Channel) Drain() ([]byte, error) {
	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		return nil, ErrDrained
	}
	if c.readClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.drained = true
	c.mu.Unlock()

	data, err := io.ReadAll(c.r)
	if err != nil {
		return data, fmt.Errorf("failed to drain pipe: %w", err)
	}
	if err := c.CloseRead(); err != nil {
		return data, err
	}
	return data, nil
}

// Close closes whichever ends are still open.
func (c *Channel) Close() error {
	var errs []error
	if err := c.CloseWrite(); err != nil && !errors.Is(err, ErrClosed) {
		errs = append(errs, err)
	}
	if err := c.CloseRead(); err != nil && !errors.Is(err, ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
