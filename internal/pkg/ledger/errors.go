package ledger

import (
	"errors"
	"fmt"
)

// Revert reasons produced by the ledger state machine.
const (
	ReasonNoActiveAccess    = "no active access to revoke"
	ReasonPayerNotLicensed  = "caller has no active license from user"
	ReasonInvalidCompany    = "invalid company address"
	ReasonInvalidDuration   = "duration must be between 1 and 1200 months"
	ReasonInvalidAmount     = "payment amount must be positive"
	ReasonUsernameRequired  = "username required"
	ReasonTransactionFailed = "transaction reverted"
)

var (
	// ErrLicenseNotFound is returned by GetLicenseDetails for unknown ids.
	ErrLicenseNotFound = errors.New("license does not exist")
	// ErrInvalidAddress is returned when an argument is not a hex address.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidAmount is returned for unparsable or negative decimal amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// SubmissionError means the transaction did not reach the ledger, or its
// confirmation could not be awaited. TxHash is empty when nothing was sent.
type SubmissionError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("ledger %s: transaction %s unconfirmed: %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("ledger %s: submission failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Sent reports whether the transaction was broadcast before the failure.
// Only unsent transactions are safe to resubmit.
func (e *SubmissionError) Sent() bool {
	return e.TxHash != ""
}

// RevertedError means the ledger rejected the transaction. Retrying the same
// call reverts again.
type RevertedError struct {
	Op     string
	TxHash string
	Reason string
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("ledger %s reverted: %s", e.Op, e.Reason)
}

// IsSubmissionError reports whether err carries a *SubmissionError.
func IsSubmissionError(err error) bool {
	var target *SubmissionError
	return errors.As(err, &target)
}

// IsRevertedError reports whether err carries a *RevertedError.
func IsRevertedError(err error) bool {
	var target *RevertedError
	return errors.As(err, &target)
}
