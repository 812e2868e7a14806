package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEntryNotFound          = errors.New("queue entry not found")
	ErrDuplicateAdmission     = errors.New("payment already admitted")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotAtHeadOfQueue       = errors.New("entry is not at the head of the queue")
	ErrInvalidReorderSet      = errors.New("reorder set does not match active queue")
	ErrConcurrencyConflict    = errors.New("concurrent modification")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrForbidden              = errors.New("action not allowed for role")
)

// ReorderSetError names the ids that made a reorder request invalid.
type ReorderSetError struct {
	Missing   []string `json:"missing,omitempty"`
	Extra     []string `json:"extra,omitempty"`
	Duplicate []string `json:"duplicate,omitempty"`
}

func (e *ReorderSetError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing="+strings.Join(e.Missing, ","))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "extra="+strings.Join(e.Extra, ","))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate="+strings.Join(e.Duplicate, ","))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidReorderSet.Error(), strings.Join(parts, " "))
}

func (e *ReorderSetError) Is(target error) bool {
	return target == ErrInvalidReorderSet
}

// TransitionError carries the rejected action and the status it was attempted from.
type TransitionError struct {
	EntryID string
	Action  string
	From    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s entry %s from %s", ErrInvalidStateTransition.Error(), e.Action, e.EntryID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}
