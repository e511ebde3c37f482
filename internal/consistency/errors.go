package consistency

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLockTimeout is matched by every *LockTimeoutError.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrTransactionAborted is matched by every *TransactionAbortedError.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrManagerClosed is returned for work submitted after Close.
	ErrManagerClosed = errors.New("consistency manager closed")
)

// LockTimeoutError reports that a lock could not be taken within the timeout.
// Retryable: the caller may back off and try again.
type LockTimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for lock %q", e.Timeout, e.Key)
}

func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// TransactionAbortedError reports a transaction that applied none of its writes.
type TransactionAbortedError struct {
	Resources []string
	Cause     error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction on [%s] aborted: %v", strings.Join(e.Resources, ", "), e.Cause)
}

func (e *TransactionAbortedError) Unwrap() error {
	return e.Cause
}

func (e *TransactionAbortedError) Is(target error) bool {
	return target == ErrTransactionAborted
}
