package keeper

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyRunning is returned by Start while a worker handle is active.
	ErrAlreadyRunning = errors.New("worker is already running")
	// ErrFailed is returned by Start once the supervisor reached the terminal Failed state.
	ErrFailed = errors.New("supervisor has failed, the process must be restarted")
	// ErrRestartLimit is matched by the error reported when the restart policy gives up.
	ErrRestartLimit = errors.New("restart policy exhausted")
	// ErrShutdownTimeout is returned by Stop when the worker outlives the stop timeout.
	ErrShutdownTimeout = errors.New("worker did not stop in time")
	// ErrWorkerExited is the crash cause of a worker that returned nil before the stop.
	ErrWorkerExited = errors.New("worker exited unexpectedly")
	// ErrNilWorker is returned when the factory produces no worker.
	ErrNilWorker = errors.New("worker factory returned nil")
)

// PanicError holds the value recovered from a panicking worker.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func newPanicError(rec interface{}) *PanicError {
	return &PanicError{Value: rec, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("caught panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// FailureError is reported by `Supervisor.Err` once the restart policy gives up.
type FailureError struct {
	Reason   CrashReason
	Restarts int
	Cause    error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("worker %s after %d restart(s): %v", e.Reason, e.Restarts, e.Cause)
}

func (e *FailureError) Unwrap() error { return e.Cause }

func (e *FailureError) Is(target error) bool { return target == ErrRestartLimit }
