// Package ledger talks to the DataLicense consent ledger.
//
// A Backend speaks the contract's ABI surface (addresses, wei amounts, raw
// event logs). Two backends exist: MemoryLedger, an in-process state machine
// used in development and tests, and EthereumBackend, which drives the
// deployed contract through go-ethereum. Client wraps either one with decimal
// currency conversion, submission timeouts and typed errors.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// EventKind names the events emitted by the ledger.
type EventKind string

const (
	EventAccessGranted EventKind = "AccessGranted"
	EventAccessRevoked EventKind = "AccessRevoked"
	EventPaymentMade   EventKind = "PaymentMade"
)

// Month is the ledger's unit for license durations.
const Month = 30 * 24 * time.Hour

// MaxDurationMonths bounds license durations to 100 years.
const MaxDurationMonths = 1200

// License is a single grant of data access from a user to a company.
// Only IsActive ever changes after creation, and only from true to false.
type License struct {
	ID             uint64
	User           common.Address
	Company        common.Address
	DataTypes      string
	MonthlyPayment *big.Int // wei
	StartTime      int64    // unix seconds
	EndTime        int64    // unix seconds
	IsActive       bool
}

// ActiveAt reports whether the license grants access at t.
func (l *License) ActiveAt(t time.Time) bool {
	return l.IsActive && t.Unix() <= l.EndTime
}

// Event is a decoded ledger log entry. LicenseID is set for grant and revoke
// events, Amount (wei) for payments.
type Event struct {
	Kind        EventKind
	User        common.Address
	Company     common.Address
	LicenseID   uint64
	Amount      *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Receipt identifies a confirmed transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// Backend is the raw contract surface. Mutating calls block until the
// transaction is confirmed and return a *SubmissionError or *RevertedError on
// failure. The from address is the signer of the transaction.
type Backend interface {
	RegisterUser(ctx context.Context, from common.Address, username string) (*Receipt, error)
	GrantAccess(ctx context.Context, from, company common.Address, dataTypes string, monthlyPayment *big.Int, durationMonths uint64) (*Receipt, error)
	RevokeAccess(ctx context.Context, from, company common.Address) (*Receipt, error)
	PayUser(ctx context.Context, from, user common.Address, amount *big.Int) (*Receipt, error)

	IsAccessActive(ctx context.Context, user, company common.Address) (bool, error)
	GetUserEarnings(ctx context.Context, user common.Address) (*big.Int, error)
	GetUserLicenses(ctx context.Context, user common.Address) ([]uint64, error)
	GetLicenseDetails(ctx context.Context, licenseID uint64) (*License, error)

	// BlockNumber returns the latest block known to the backend.
	BlockNumber(ctx context.Context) (uint64, error)
	// SubscribeEvents delivers every event from fromBlock on, in ledger
	// order, then keeps streaming new ones until the subscription ends.
	SubscribeEvents(ctx context.Context, fromBlock uint64, sink chan<- Event) (event.Subscription, error)
}

// Clock abstracts ledger time so expiry is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the actual current time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
