package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks transient record store failures; the next cycle retries.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrConflictOrRejected marks writes the record store refused; never retried.
	ErrConflictOrRejected = errors.New("record store rejected write")
)

// StoreError carries the diagnostics of a failed record store call.
type StoreError struct {
	Kind       error
	Op         string
	RecordID   string
	StatusCode int
	Body       string
	Payload    string
	Err        error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.RecordID != "" {
		msg += " (record " + e.RecordID + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel kind.
func (e *StoreError) Is(target error) bool { return target == e.Kind }

// PublishError is returned when the CMS rejected the post or retries ran out.
type PublishError struct {
	RecordID   string
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *PublishError) Error() string {
	msg := fmt.Sprintf("publish record %s failed after %d attempt(s)", e.RecordID, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

// ReconcileError means the CMS post exists but the store write-back failed.
type ReconcileError struct {
	RecordID     string
	RemotePostID string
	Err          error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("record %s published as post %s but status write-back failed: %v",
		e.RecordID, e.RemotePostID, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }
