package queue

import "errors"

// Sentinel errors returned by Invoke when the terminator returns instead of
// ending the process. These enable reliable error checking with errors.Is()
var (
	// ErrAborted indicates the operator (or an abort policy) chose to abort
	// after an abnormal exit
	ErrAborted = errors.New("aborted after abnormal exit")

	// ErrSpawn indicates a command could not be started
	ErrSpawn = errors.New("failed to spawn command")

	// ErrEmptyCommand indicates a command with no argv was queued
	ErrEmptyCommand = errors.New("empty command")
)
