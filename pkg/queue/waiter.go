package queue

import (
	"fmt"

	"github.com/cobble/cobble/pkg/backend"
)

// await is the waiter owning one async command: it blocks on the child's
// exit, runs recovery for an abnormal exit, tears down the command's pipe
// and records completion. Waiters finish in any order.
func (q *Queue) await(c *Command, proc backend.Process) error {
	defer q.complete()

	status, err := proc.Wait()
	if err != nil {
		q.teardown(c)
		q.fatal(c, "Failed to wait for process", err)
		return fmt.Errorf("waiting for %s: %w", c.String(), err)
	}
	c.setStatus(status)

	if !status.OK() {
		q.recover(c, status)
	}
	q.teardown(c)
	return nil
}
