// Package engine holds the concurrency helpers behind the command queue.
package engine
