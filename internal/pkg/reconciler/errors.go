package reconciler

import (
	"errors"
	"fmt"
)

// ReconciliationMismatchError means a ledger event matched no off-chain
// record. The event is stored as an orphan and queued for repair.
type ReconciliationMismatchError struct {
	EventKey string
	Kind     string
	User     string
	Company  string
	Reason   string
}

func (e *ReconciliationMismatchError) Error() string {
	return fmt.Sprintf("orphan %s event %s (user %s, company %s): %s", e.Kind, e.EventKey, e.User, e.Company, e.Reason)
}

// DuplicateEventError marks an event that was already applied. It never
// leaves the reconciler.
type DuplicateEventError struct {
	EventKey string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %s already processed", e.EventKey)
}

func isMismatch(err error) bool {
	var target *ReconciliationMismatchError
	return errors.As(err, &target)
}

func isDuplicate(err error) bool {
	var target *DuplicateEventError
	return errors.As(err, &target)
}
