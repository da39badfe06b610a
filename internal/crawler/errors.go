package crawler

import "errors"

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLocked is returned when another execution holds the job lock.
	ErrLocked = errors.New("job is locked by another execution")
	// ErrNotHTML marks a response whose content type is not HTML.
	ErrNotHTML = errors.New("response is not html")
	// ErrJobTerminal is returned when a finished job is asked to run again.
	ErrJobTerminal = errors.New("job already finished")
	// ErrQueueClosed is returned by a queue that no longer accepts work.
	ErrQueueClosed = errors.New("queue closed")
)
