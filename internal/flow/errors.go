package flow

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionExpired is returned for any commit attempted after the
// abandonment timeout fired. Terminal; the only remedy is a new session.
var ErrSessionExpired = errors.New("flow: session expired")

// ErrFlowComplete is returned when a commit is attempted on a controller
// that already confirmed a booking. At most one provider write per flow.
var ErrFlowComplete = errors.New("flow: booking already confirmed")

// ErrCommitInProgress is returned when a commit arrives while another is
// still talking to the provider.
var ErrCommitInProgress = errors.New("flow: commit already in progress")

// ValidationError reports an incomplete selection or a missing reason.
// Never produces a network call.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("flow: %s is required", e.Field)
}

// SlotUnavailableError is detected only at commit-time re-validation: the
// chosen instant vanished between display and commit. Recoverable by
// picking another time.
type SlotUnavailableError struct {
	At time.Time
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("flow: slot %s is no longer available", e.At.Format(time.RFC3339))
}

// ProviderError wraps a failed provider write. Retryable; the controller
// returns to idle.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("flow: provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
