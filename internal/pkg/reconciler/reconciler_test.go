package reconciler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/app/repository"
	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/pkg/database"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
	"github.com/ManuelReschke/MindShield/internal/testutil"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	companyX = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	companyY = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []uint
}

func (q *recordingQueue) EnqueueRepair(ctx context.Context, id uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) enqueued() []uint {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uint(nil), q.ids...)
}

type harness struct {
	repos  *repository.Repositories
	ledger *ledger.MemoryLedger
	client *ledger.Client
	queue  *recordingQueue
	rec    *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)

	h := &harness{
		repos:  repository.NewRepositories(db),
		ledger: ledger.NewMemoryLedger(ledger.WithClock(testutil.FixedClock())),
		queue:  &recordingQueue{},
	}
	h.client, err = ledger.NewClient(h.ledger, config.LedgerConfig{SubmitTimeout: time.Second, FiatRate: "1"})
	require.NoError(t, err)

	h.rec = New(config.ReconcilerConfig{
		Name:       "test",
		Lanes:      4,
		MaxBackoff: 100 * time.Millisecond,
	}, h.client, h.repos, h.client.Fiat(), WithRepairQueue(h.queue))
	return h
}

func (h *harness) user(t *testing.T, wallet common.Address) *models.User {
	t.Helper()
	u := &models.User{
		Username:      "alice",
		Email:         "alice@example.com",
		Password:      "hash",
		Role:          models.ROLE_USER,
		Status:        models.STATUS_ACTIVE,
		WalletAddress: wallet.Hex(),
	}
	require.NoError(t, h.repos.User.Create(u))
	return u
}

func (h *harness) grant(t *testing.T, company common.Address, months uint64) ledger.Event {
	t.Helper()
	_, err := h.ledger.GrantAccess(context.Background(), alice, company, "location,browsing", big.NewInt(100_000_000_000_000_000), months)
	require.NoError(t, err)
	return h.lastEvent(t)
}

func (h *harness) revoke(t *testing.T, company common.Address) ledger.Event {
	t.Helper()
	_, err := h.ledger.RevokeAccess(context.Background(), alice, company)
	require.NoError(t, err)
	return h.lastEvent(t)
}

func (h *harness) lastEvent(t *testing.T) ledger.Event {
	t.Helper()
	events := h.ledger.Events()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func (h *harness) permissions(t *testing.T, userID string) []models.Permission {
	t.Helper()
	list, err := h.repos.Permission.GetUserPermissions(userID)
	require.NoError(t, err)
	return list
}

func pendingPermission(userID string, company common.Address, createdAt time.Time) *models.Permission {
	return &models.Permission{
		UserID:         userID,
		CompanyName:    "Acme",
		CompanyAddress: company.Hex(),
		AccessTypes:    "location,browsing",
		MonthlyPayment: 10,
		CreatedAt:      createdAt,
	}
}

func TestApply_GrantWithoutPendingCreatesActivePermission(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	ev := h.grant(t, companyX, 12)
	require.NoError(t, h.rec.Apply(context.Background(), ev))

	perms := h.permissions(t, u.ID)
	require.Len(t, perms, 1)
	p := perms[0]
	assert.Equal(t, models.PermissionStatusActive, p.Status)
	require.NotNil(t, p.LicenseID)
	assert.Equal(t, ev.LicenseID, *p.LicenseID)
	assert.Equal(t, ev.TxHash.Hex(), p.BlockchainTxHash)
	assert.Equal(t, int64(10), p.MonthlyPayment)
	assert.Equal(t, []string{"location", "browsing"}, p.AccessTypeList())
	assert.True(t, p.MatchesCompany(companyX.Hex()))
}

func TestApply_GrantActivatesMostRecentPending(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := pendingPermission(u.ID, companyX, base)
	newer := pendingPermission(u.ID, companyX, base.Add(time.Minute))
	require.NoError(t, h.repos.Permission.Create(older))
	require.NoError(t, h.repos.Permission.Create(newer))

	ev := h.grant(t, companyX, 12)
	require.NoError(t, h.rec.Apply(context.Background(), ev))

	got, err := h.repos.Permission.GetByID(newer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionStatusActive, got.Status)
	assert.Equal(t, ev.TxHash.Hex(), got.BlockchainTxHash)

	got, err = h.repos.Permission.GetByID(older.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionStatusPending, got.Status)
}

func TestApply_ReplayedGrantIsNoOp(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	ev := h.grant(t, companyX, 12)
	require.NoError(t, h.rec.Apply(context.Background(), ev))

	err := h.rec.Apply(context.Background(), ev)
	var dup *DuplicateEventError
	require.True(t, errors.As(err, &dup))

	perms := h.permissions(t, u.ID)
	require.Len(t, perms, 1)
	assert.Equal(t, models.PermissionStatusActive, perms[0].Status)

	counts, err := h.repos.LedgerEvent.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.LedgerEventStatusProcessed])
	assert.Equal(t, int64(1), h.rec.Status().Duplicates)
}

func TestApply_ReplayedPaymentCreatesOneEarning(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)
	require.NoError(t, h.rec.Apply(context.Background(), h.grant(t, companyX, 12)))

	_, err := h.ledger.PayUser(context.Background(), companyX, alice, new(big.Int).Mul(big.NewInt(5), big.NewInt(1_000_000_000_000_000_000)))
	require.NoError(t, err)
	payment := h.lastEvent(t)

	require.NoError(t, h.rec.Apply(context.Background(), payment))
	assert.Error(t, h.rec.Apply(context.Background(), payment))

	earnings, err := h.repos.Earning.GetUserEarnings(u.ID)
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	e := earnings[0]
	assert.Equal(t, int64(500), e.Amount)
	assert.Equal(t, models.EarningStatusCompleted, e.Status)
	assert.Equal(t, payment.TxHash.Hex(), e.BlockchainTxHash)

	perms := h.permissions(t, u.ID)
	require.NotNil(t, e.PermissionID)
	assert.Equal(t, perms[0].ID, *e.PermissionID)
}

func TestApply_PaymentWithoutPermissionIsUnlinked(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	ev := ledger.Event{
		Kind:        ledger.EventPaymentMade,
		User:        alice,
		Company:     companyY,
		Amount:      big.NewInt(1_000_000_000_000_000_000),
		BlockNumber: 40,
		TxHash:      common.HexToHash("0x40"),
	}
	require.NoError(t, h.rec.Apply(context.Background(), ev))

	earnings, err := h.repos.Earning.GetUserEarnings(u.ID)
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	assert.Nil(t, earnings[0].PermissionID)
	assert.Equal(t, int64(100), earnings[0].Amount)
}

func TestApply_RegrantSupersedesPreviousPermission(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	first := h.grant(t, companyX, 12)
	require.NoError(t, h.rec.Apply(context.Background(), first))
	second := h.grant(t, companyX, 6)
	require.NoError(t, h.rec.Apply(context.Background(), second))

	byLicense := map[uint64]string{}
	for _, p := range h.permissions(t, u.ID) {
		require.NotNil(t, p.LicenseID)
		byLicense[*p.LicenseID] = p.Status
	}
	assert.Equal(t, models.PermissionStatusSuperseded, byLicense[first.LicenseID])
	assert.Equal(t, models.PermissionStatusActive, byLicense[second.LicenseID])
}

func TestApply_RevokeMarksActivePermissionRevoked(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	require.NoError(t, h.rec.Apply(context.Background(), h.grant(t, companyX, 12)))
	revoke := h.revoke(t, companyX)
	require.NoError(t, h.rec.Apply(context.Background(), revoke))

	perms := h.permissions(t, u.ID)
	require.Len(t, perms, 1)
	assert.Equal(t, models.PermissionStatusRevoked, perms[0].Status)
	assert.Equal(t, revoke.TxHash.Hex(), perms[0].BlockchainTxHash)
}

func TestApply_OrphanRevokeIsPersistedAndRepaired(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	// the grant's off-chain write never happened
	h.grant(t, companyX, 12)
	revoke := h.revoke(t, companyX)

	err := h.rec.Apply(context.Background(), revoke)
	var orphan *ReconciliationMismatchError
	require.True(t, errors.As(err, &orphan))

	orphans, err := h.repos.LedgerEvent.ListOrphaned(10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, string(ledger.EventAccessRevoked), orphans[0].Kind)
	assert.Equal(t, []uint{orphans[0].ID}, h.queue.enqueued())

	// a redelivery stays orphaned without a second repair job
	assert.True(t, isMismatch(h.rec.Apply(context.Background(), revoke)))
	assert.Len(t, h.queue.enqueued(), 1)

	licenseID := revoke.LicenseID
	active := pendingPermission(u.ID, companyX, time.Now())
	active.Status = models.PermissionStatusActive
	active.LicenseID = &licenseID
	require.NoError(t, h.repos.Permission.Create(active))

	require.NoError(t, h.rec.RepairEvent(context.Background(), orphans[0].ID))

	got, err := h.repos.Permission.GetByID(active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionStatusRevoked, got.Status)

	row, err := h.repos.LedgerEvent.GetByID(orphans[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerEventStatusProcessed, row.Status)
	assert.Equal(t, 3, row.Attempts)

	// repairing a repaired event is a no-op
	require.NoError(t, h.rec.RepairEvent(context.Background(), orphans[0].ID))
}

func TestRetryOrphans_UnknownWalletRepairedInLedgerOrder(t *testing.T) {
	h := newHarness(t)

	grant := h.grant(t, companyX, 12)
	revoke := h.revoke(t, companyX)
	assert.True(t, isMismatch(h.rec.Apply(context.Background(), grant)))
	assert.True(t, isMismatch(h.rec.Apply(context.Background(), revoke)))

	report, err := h.rec.RetryOrphans(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RepairReport{Attempted: 2, Remaining: 2}, report)

	u := h.user(t, alice)
	report, err = h.rec.RetryOrphans(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RepairReport{Attempted: 2, Repaired: 2}, report)

	perms := h.permissions(t, u.ID)
	require.Len(t, perms, 1)
	assert.Equal(t, models.PermissionStatusRevoked, perms[0].Status)
}

func TestReconciler_StartStreamsEventsAndStoresCursor(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)
	ctx := context.Background()

	// history before start is replayed
	h.grant(t, companyX, 12)

	require.NoError(t, h.rec.Start(ctx))
	h.grant(t, companyY, 3)
	h.revoke(t, companyX)

	assert.Eventually(t, func() bool {
		statuses := map[string]string{}
		for _, p := range h.permissions(t, u.ID) {
			statuses[p.CompanyAddress] = p.Status
		}
		return statuses[models.NormalizeAddress(companyX.Hex())] == models.PermissionStatusRevoked &&
			statuses[models.NormalizeAddress(companyY.Hex())] == models.PermissionStatusActive &&
			h.rec.Status().Processed == 3
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, h.rec.Status().Running)
	h.rec.Stop()
	assert.False(t, h.rec.Status().Running)

	cursor, err := h.repos.LedgerEvent.GetCursor("test")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cursor)

	// a restart replays the cursor block without duplicating anything
	restarted := New(config.ReconcilerConfig{Name: "test", Lanes: 2}, h.client, h.repos, h.client.Fiat())
	require.NoError(t, restarted.Start(ctx))
	assert.Eventually(t, func() bool {
		return restarted.Status().Duplicates == 1
	}, 5*time.Second, 20*time.Millisecond)
	restarted.Stop()
	assert.Len(t, h.permissions(t, u.ID), 2)
}

// flakyLedger fails license lookups a few times before succeeding.
type flakyLedger struct {
	*ledger.Client
	mu       sync.Mutex
	failures int
}

func (f *flakyLedger) GetLicenseDetails(ctx context.Context, id uint64) (*ledger.LicenseDetail, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("rpc unavailable")
	}
	f.mu.Unlock()
	return f.Client.GetLicenseDetails(ctx, id)
}

func TestReconciler_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	flaky := &flakyLedger{Client: h.client, failures: 2}
	rec := New(config.ReconcilerConfig{Name: "flaky", Lanes: 1, MaxBackoff: 300 * time.Millisecond}, flaky, h.repos, h.client.Fiat())
	require.NoError(t, rec.Start(context.Background()))
	defer rec.Stop()

	h.grant(t, companyX, 12)

	assert.Eventually(t, func() bool {
		perms := h.permissions(t, u.ID)
		return len(perms) == 1 && perms[0].Status == models.PermissionStatusActive
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(2), rec.Status().Retries)
}

func TestWatermark(t *testing.T) {
	w := newWatermark(5)
	assert.Equal(t, uint64(5), w.low())

	w.add(7)
	w.add(7)
	w.add(9)
	assert.Equal(t, uint64(7), w.low())

	w.done(7)
	assert.Equal(t, uint64(7), w.low())
	w.done(7)
	assert.Equal(t, uint64(9), w.low())
	w.done(9)
	assert.Equal(t, uint64(9), w.low())
	assert.Equal(t, uint64(9), w.lastBlock())
}

func TestApply_ConcurrentOrphanRepairCreatesOneEarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	payment := ledger.Event{
		Kind:        ledger.EventPaymentMade,
		User:        alice,
		Company:     companyX,
		Amount:      big.NewInt(1_000_000_000_000_000_000),
		BlockNumber: 50,
		TxHash:      common.HexToHash("0x50"),
	}
	require.True(t, isMismatch(h.rec.Apply(ctx, payment)))
	u := h.user(t, alice)

	// two processes load the orphan before either repairs it
	key := models.LedgerEventKey(payment.TxHash.Hex(), payment.LogIndex)
	stale, err := h.repos.LedgerEvent.GetByKey(key)
	require.NoError(t, err)
	require.True(t, stale.IsOrphaned())

	other := New(config.ReconcilerConfig{Name: "cli", Lanes: 1}, h.client, h.repos, h.client.Fiat())
	require.NoError(t, h.rec.apply(ctx, payment, key, stale))
	assert.True(t, isDuplicate(other.apply(ctx, payment, key, stale)))

	earnings, err := h.repos.Earning.GetUserEarnings(u.ID)
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	assert.Equal(t, int64(100), earnings[0].Amount)

	row, err := h.repos.LedgerEvent.GetByKey(key)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerEventStatusProcessed, row.Status)
}

func TestApply_OversizedPaymentIsOrphaned(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)

	// 1e17 ether does not fit an int64 of paise
	huge, ok := new(big.Int).SetString("100000000000000000000000000000000000", 10)
	require.True(t, ok)
	payment := ledger.Event{
		Kind:        ledger.EventPaymentMade,
		User:        alice,
		Company:     companyX,
		Amount:      huge,
		BlockNumber: 60,
		TxHash:      common.HexToHash("0x60"),
	}

	err := h.rec.Apply(context.Background(), payment)
	var orphan *ReconciliationMismatchError
	require.True(t, errors.As(err, &orphan))
	assert.Contains(t, orphan.Reason, "out of range")

	earnings, err := h.repos.Earning.GetUserEarnings(u.ID)
	require.NoError(t, err)
	assert.Empty(t, earnings)
	assert.Len(t, h.queue.enqueued(), 1)
}

func TestApply_RevokeAfterManualRevokeIsNoOp(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)
	ctx := context.Background()

	require.NoError(t, h.rec.Apply(ctx, h.grant(t, companyX, 12)))
	perms := h.permissions(t, u.ID)
	require.Len(t, perms, 1)
	_, err := h.repos.Permission.UpdatePermissionStatus(perms[0].ID, models.PermissionStatusRevoked, "")
	require.NoError(t, err)

	revoke := h.revoke(t, companyX)
	require.NoError(t, h.rec.Apply(ctx, revoke))
	assert.True(t, isDuplicate(h.rec.Apply(ctx, revoke)))

	perms = h.permissions(t, u.ID)
	require.Len(t, perms, 1)
	assert.Equal(t, models.PermissionStatusRevoked, perms[0].Status)
	assert.Empty(t, h.queue.enqueued())

	orphans, err := h.repos.LedgerEvent.ListOrphaned(10)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestApply_GrantWithoutLoadedTermsIsTransient(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)
	grant := h.grant(t, companyX, 12)
	key := models.LedgerEventKey(grant.TxHash.Hex(), grant.LogIndex)

	// the pending row seen before the transaction is gone inside it
	err := h.repos.Transaction(func(tx *repository.Repositories) error {
		return h.rec.applyGranted(tx, u, grant, key, nil)
	})
	require.Error(t, err)
	assert.False(t, isMismatch(err))
	assert.Empty(t, h.permissions(t, u.ID))

	// the next delivery loads the terms
	require.NoError(t, h.rec.Apply(context.Background(), grant))
	perms := h.permissions(t, u.ID)
	require.Len(t, perms, 1)
	assert.Equal(t, models.PermissionStatusActive, perms[0].Status)
}

func TestReconciler_LanesKeepPairOrder(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, alice)
	ctx := context.Background()

	require.NoError(t, h.rec.Start(ctx))
	defer h.rec.Stop()

	first := h.grant(t, companyX, 12)
	h.grant(t, companyY, 3)
	h.revoke(t, companyX)
	h.revoke(t, companyY)
	second := h.grant(t, companyX, 6)

	assert.Eventually(t, func() bool {
		return h.rec.Status().Processed == 5
	}, 5*time.Second, 20*time.Millisecond)

	byLicense := map[uint64]string{}
	for _, p := range h.permissions(t, u.ID) {
		require.NotNil(t, p.LicenseID)
		byLicense[*p.LicenseID] = p.Status
	}
	require.Len(t, byLicense, 3)
	assert.Equal(t, models.PermissionStatusRevoked, byLicense[first.LicenseID])
	assert.Equal(t, models.PermissionStatusActive, byLicense[second.LicenseID])
	for id, status := range byLicense {
		if id != first.LicenseID && id != second.LicenseID {
			assert.Equal(t, models.PermissionStatusRevoked, status)
		}
	}
	assert.Empty(t, h.queue.enqueued())
}
