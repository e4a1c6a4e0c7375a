package revsync

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedNotification = errors.New("malformed notification")
	ErrNotInitialized        = errors.New("cache not initialized")
	ErrStopped               = errors.New("cache stopped")
	ErrAlreadyStarted        = errors.New("cache already started")
)

// SyncError reports a failed replay or reconciliation window. The mirror is
// left as it was before the window.
type SyncError struct {
	Op   string
	From uint64
	To   uint64
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("revsync %s (%d,%d]: %v", e.Op, e.From, e.To, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
