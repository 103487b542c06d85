package selection

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFrozen is returned once the session has expired; no further mutation
// is possible.
var ErrFrozen = errors.New("selection: session expired, selection is frozen")

// UnknownChoiceError reports a value that is not currently offered (a
// service outside the catalog, a non-working date, a time not in the slot
// list).
type UnknownChoiceError struct {
	Field string
	Value string
}

func (e *UnknownChoiceError) Error() string {
	return fmt.Sprintf("selection: %s %q is not available", e.Field, e.Value)
}

// IncompleteError reports a choice made before its upstream dependency.
type IncompleteError struct {
	Missing string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("selection: %s must be chosen first", e.Missing)
}

func reasonValid(reason string) bool {
	return strings.TrimSpace(reason) != ""
}
