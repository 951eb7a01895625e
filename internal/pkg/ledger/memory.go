package ledger

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

type pair struct {
	user    common.Address
	company common.Address
}

// MemoryLedger is an in-process implementation of the DataLicense state
// machine. Every mutating call is one block holding one transaction; a
// reverted call consumes its block but changes no state. Events are kept in
// an append-only log so subscribers can replay from any block.
type MemoryLedger struct {
	mu         sync.Mutex
	clock      Clock
	permissive bool

	block     uint64
	nextID    uint64
	usernames map[common.Address]string
	licenses  map[uint64]*License
	byUser    map[common.Address][]uint64
	current   map[pair]uint64
	earnings  map[common.Address]*big.Int

	log     []Event
	changed chan struct{}
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithClock sets the clock used for license timestamps and expiry.
func WithClock(c Clock) MemoryOption {
	return func(m *MemoryLedger) { m.clock = c }
}

// WithPermissivePayments lets any address credit any user, like the
// deployed contract.
func WithPermissivePayments(permissive bool) MemoryOption {
	return func(m *MemoryLedger) { m.permissive = permissive }
}

func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	m := &MemoryLedger{
		clock:     SystemClock{},
		nextID:    1,
		usernames: make(map[common.Address]string),
		licenses:  make(map[uint64]*License),
		byUser:    make(map[common.Address][]uint64),
		current:   make(map[pair]uint64),
		earnings:  make(map[common.Address]*big.Int),
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// begin opens a new block for op and returns its transaction hash.
// Callers hold m.mu.
func (m *MemoryLedger) begin(op string, from common.Address) common.Hash {
	m.block++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.block)
	return crypto.Keccak256Hash(buf[:], []byte(op), from.Bytes())
}

func (m *MemoryLedger) receipt(tx common.Hash) *Receipt {
	return &Receipt{TxHash: tx, BlockNumber: m.block}
}

// emit appends ev to the log and wakes subscribers. Callers hold m.mu.
func (m *MemoryLedger) emit(ev Event, tx common.Hash) {
	ev.BlockNumber = m.block
	ev.TxHash = tx
	ev.LogIndex = 0
	m.log = append(m.log, ev)
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *MemoryLedger) RegisterUser(ctx context.Context, from common.Address, username string) (*Receipt, error) {
	const op = "registerUser"
	if err := ctx.Err(); err != nil {
		return nil, &SubmissionError{Op: op, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.begin(op, from)
	if username == "" {
		return nil, &RevertedError{Op: op, TxHash: tx.Hex(), Reason: ReasonUsernameRequired}
	}
	m.usernames[from] = username
	return m.receipt(tx), nil
}

func (m *MemoryLedger) GrantAccess(ctx context.Context, from, company common.Address, dataTypes string, monthlyPayment *big.Int, durationMonths uint64) (*Receipt, error) {
	const op = "grantAccess"
	if err := ctx.Err(); err != nil {
		return nil, &SubmissionError{Op: op, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.begin(op, from)
	switch {
	case company == (common.Address{}):
		return nil, &RevertedError{Op: op, TxHash: tx.Hex(), Reason: ReasonInvalidCompany}
	case durationMonths == 0 || durationMonths > MaxDurationMonths:
		return nil, &RevertedError{Op: op, TxHash: tx.Hex(), Reason: ReasonInvalidDuration}
	}

	payment := new(big.Int)
	if monthlyPayment != nil {
		payment.Set(monthlyPayment)
	}
	start := m.clock.Now()
	end := start.Add(time.Duration(durationMonths) * Month)
	license := &License{
		ID:             m.nextID,
		User:           from,
		Company:        company,
		DataTypes:      dataTypes,
		MonthlyPayment: payment,
		StartTime:      start.Unix(),
		EndTime:        end.Unix(),
		IsActive:       true,
	}
	m.nextID++
	m.licenses[license.ID] = license
	m.byUser[from] = append(m.byUser[from], license.ID)
	m.current[pair{from, company}] = license.ID

	m.emit(Event{Kind: EventAccessGranted, User: from, Company: company, LicenseID: license.ID}, tx)
	return m.receipt(tx), nil
}

func (m *MemoryLedger) RevokeAccess(ctx context.Context, from, company common.Address) (*Receipt, error) {
	const op = "revokeAccess"
	if err := ctx.Err(); err != nil {
		return nil, &SubmissionError{Op: op, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.begin(op, from)
	id, ok := m.current[pair{from, company}]
	if !ok || !m.licenses[id].IsActive {
		return nil, &RevertedError{Op: op, TxHash: tx.Hex(), Reason: ReasonNoActiveAccess}
	}
	m.licenses[id].IsActive = false

	m.emit(Event{Kind: EventAccessRevoked, User: from, Company: company, LicenseID: id}, tx)
	return m.receipt(tx), nil
}

func (m *MemoryLedger) PayUser(ctx context.Context, from, user common.Address, amount *big.Int) (*Receipt, error) {
	const op = "payUser"
	if err := ctx.Err(); err != nil {
		return nil, &SubmissionError{Op: op, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.begin(op, from)
	if amount == nil || amount.Sign() <= 0 {
		return nil, &RevertedError{Op: op, TxHash: tx.Hex(), Reason: ReasonInvalidAmount}
	}
	if !m.permissive && !m.activeLocked(user, from) {
		return nil, &RevertedError{Op: op, TxHash: tx.Hex(), Reason: ReasonPayerNotLicensed}
	}

	total, ok := m.earnings[user]
	if !ok {
		total = new(big.Int)
		m.earnings[user] = total
	}
	total.Add(total, amount)

	m.emit(Event{Kind: EventPaymentMade, User: user, Company: from, Amount: new(big.Int).Set(amount)}, tx)
	return m.receipt(tx), nil
}

func (m *MemoryLedger) activeLocked(user, company common.Address) bool {
	id, ok := m.current[pair{user, company}]
	if !ok {
		return false
	}
	return m.licenses[id].ActiveAt(m.clock.Now())
}

func (m *MemoryLedger) IsAccessActive(ctx context.Context, user, company common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(user, company), nil
}

func (m *MemoryLedger) GetUserEarnings(ctx context.Context, user common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if total, ok := m.earnings[user]; ok {
		return new(big.Int).Set(total), nil
	}
	return new(big.Int), nil
}

func (m *MemoryLedger) GetUserLicenses(ctx context.Context, user common.Address) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, len(m.byUser[user]))
	copy(ids, m.byUser[user])
	return ids, nil
}

func (m *MemoryLedger) GetLicenseDetails(ctx context.Context, licenseID uint64) (*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.licenses[licenseID]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	cp := *l
	cp.MonthlyPayment = new(big.Int).Set(l.MonthlyPayment)
	return &cp, nil
}

// Username returns the name registered for addr, if any.
func (m *MemoryLedger) Username(addr common.Address) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.usernames[addr]
	return name, ok
}

func (m *MemoryLedger) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.block, nil
}

// Events returns a copy of the event log.
func (m *MemoryLedger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.log))
	copy(out, m.log)
	return out
}

func (m *MemoryLedger) SubscribeEvents(ctx context.Context, fromBlock uint64, sink chan<- Event) (event.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		next := 0
		for {
			m.mu.Lock()
			pending := make([]Event, 0, len(m.log)-next)
			for _, ev := range m.log[next:] {
				if ev.BlockNumber >= fromBlock {
					pending = append(pending, ev)
				}
			}
			next = len(m.log)
			wake := m.changed
			m.mu.Unlock()

			for _, ev := range pending {
				select {
				case sink <- ev:
				case <-quit:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			select {
			case <-wake:
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}
