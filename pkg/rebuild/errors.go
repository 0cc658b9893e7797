package rebuild

import "errors"

// Sentinel errors for the rebuild bootstrap
var (
	// ErrNoSources indicates a bootstrap without source units
	ErrNoSources = errors.New("no source units")

	// ErrNoTarget indicates a bootstrap without a target binary
	ErrNoTarget = errors.New("no target binary")

	// ErrObjectCollision indicates two source units mapping to the same
	// object file
	ErrObjectCollision = errors.New("source units share an object file")

	// ErrRebuildFailed indicates a compile, link, cleanup or replace failure
	ErrRebuildFailed = errors.New("rebuild failed")
)
