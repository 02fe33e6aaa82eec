package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by scheduler operations.
var (
	ErrAlreadyStarted     = errors.New("task already started")
	ErrAlreadyInitialized = errors.New("scheduler already initialized")
	ErrInvalidQueueSpec   = errors.New("invalid queue spec")
	ErrNotInitialized     = errors.New("scheduler not initialized")
)

// PanicError is returned by Execute and Join when a task body panicked.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %q panicked: %v", e.Task, e.Value)
}
