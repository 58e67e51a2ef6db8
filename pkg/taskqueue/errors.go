package taskqueue

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConcurrency = errors.New("taskqueue: concurrency must be >= 0")
	ErrCancelled          = errors.New("taskqueue: queue cancelled")
	ErrNilTask            = errors.New("taskqueue: task is nil")
	ErrTaskPanicked       = errors.New("taskqueue: task panicked")
)

// PanicError carries a recovered task panic. It matches ErrTaskPanicked
// under errors.Is.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }
func (e *PanicError) Unwrap() error { return ErrTaskPanicked }
