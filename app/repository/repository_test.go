package repository

import (
	"testing"
	"time"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/internal/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	walletA  = "0x00000000000000000000000000000000000000a1"
	companyB = "0x00000000000000000000000000000000000000b2"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	return NewRepositories(db)
}

func seedUser(t *testing.T, repos *Repositories, name, wallet string) *models.User {
	t.Helper()
	u := &models.User{
		Username:      name,
		Email:         name + "@example.com",
		Password:      "hash",
		Role:          models.ROLE_USER,
		Status:        models.STATUS_ACTIVE,
		WalletAddress: wallet,
	}
	require.NoError(t, repos.User.Create(u))
	return u
}

func TestUserRepository_Lookups(t *testing.T) {
	repos := newTestRepos(t)
	u := seedUser(t, repos, "alice", walletA)

	byWallet, err := repos.User.GetByWalletAddress("0x00000000000000000000000000000000000000A1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byWallet.ID)

	byEmail, err := repos.User.GetByEmail(" Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = repos.User.GetByWalletAddress(companyB)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPermissionRepository_FindByUserAndCompanyNewestFirst(t *testing.T) {
	repos := newTestRepos(t)
	u := seedUser(t, repos, "alice", walletA)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	older := &models.Permission{UserID: u.ID, CompanyName: "Acme", CompanyAddress: companyB, AccessTypes: "email", CreatedAt: base}
	newer := &models.Permission{UserID: u.ID, CompanyName: "Acme", CompanyAddress: companyB, AccessTypes: "email", CreatedAt: base.Add(time.Minute)}
	legacy := &models.Permission{UserID: u.ID, CompanyName: companyB, AccessTypes: "email", CreatedAt: base.Add(-time.Minute)}
	require.NoError(t, repos.Permission.Create(older))
	require.NoError(t, repos.Permission.Create(newer))
	require.NoError(t, repos.Permission.Create(legacy))

	found, err := repos.Permission.FindByUserAndCompany(u.ID, companyB, models.PermissionStatusPending)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, newer.ID, found[0].ID)
	assert.Equal(t, older.ID, found[1].ID)
	assert.Equal(t, legacy.ID, found[2].ID)

	found, err = repos.Permission.FindByUserAndCompany(u.ID, companyB, models.PermissionStatusActive)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestPermissionRepository_ActivateAndDelete(t *testing.T) {
	repos := newTestRepos(t)
	u := seedUser(t, repos, "alice", walletA)

	p := &models.Permission{UserID: u.ID, CompanyName: "Acme", CompanyAddress: companyB, AccessTypes: "email,location"}
	require.NoError(t, repos.Permission.Create(p))
	assert.Equal(t, models.PermissionStatusPending, p.Status)

	activated, err := repos.Permission.Activate(p.ID, 7, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, models.PermissionStatusActive, activated.Status)
	require.NotNil(t, activated.LicenseID)
	assert.Equal(t, uint64(7), *activated.LicenseID)
	assert.Equal(t, "0xabc", activated.BlockchainTxHash)

	byLicense, err := repos.Permission.GetByLicenseID(7)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byLicense.ID)

	_, err = repos.Permission.UpdatePermissionStatus("missing", models.PermissionStatusRevoked, "")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, repos.Permission.Delete(p.ID))
	_, err = repos.Permission.GetByID(p.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPermissionRepository_AttachTxHashKeepsStatus(t *testing.T) {
	repos := newTestRepos(t)
	u := seedUser(t, repos, "alice", walletA)

	p := &models.Permission{UserID: u.ID, CompanyName: "Acme", CompanyAddress: companyB, AccessTypes: "email"}
	require.NoError(t, repos.Permission.Create(p))
	_, err := repos.Permission.Activate(p.ID, 3, "")
	require.NoError(t, err)

	require.NoError(t, repos.Permission.AttachTxHash(p.ID, "0xfirst"))
	require.NoError(t, repos.Permission.AttachTxHash(p.ID, "0xsecond"))

	got, err := repos.Permission.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionStatusActive, got.Status)
	assert.Equal(t, "0xfirst", got.BlockchainTxHash)
}

func TestEarningRepository_CreateAndUpdate(t *testing.T) {
	repos := newTestRepos(t)
	u := seedUser(t, repos, "alice", walletA)

	e, err := repos.Earning.CreateEarning(u.ID, NewEarning{Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, models.EarningStatusPending, e.Status)

	updated, err := repos.Earning.UpdateEarningStatus(e.ID, models.EarningStatusCompleted, "pi_123", "")
	require.NoError(t, err)
	assert.Equal(t, models.EarningStatusCompleted, updated.Status)
	assert.Equal(t, "pi_123", updated.StripePaymentIntentID)

	list, err := repos.Earning.GetUserEarnings(u.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPrivacyFootprintRepository_Replace(t *testing.T) {
	repos := newTestRepos(t)
	u := seedUser(t, repos, "alice", walletA)

	_, err := repos.PrivacyFootprint.ReplacePrivacyFootprint(u.ID, []models.PrivacyFootprint{
		{Platform: "google", Percentage: 40},
		{Platform: "facebook", Percentage: 20},
	})
	require.NoError(t, err)

	stored, err := repos.PrivacyFootprint.ReplacePrivacyFootprint(u.ID, []models.PrivacyFootprint{
		{Platform: "youtube", Percentage: 15},
	})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	list, err := repos.PrivacyFootprint.GetUserPrivacyFootprint(u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "youtube", list[0].Platform)
}

func TestLedgerEventRepository_CreateIfNotExists(t *testing.T) {
	repos := newTestRepos(t)

	event := &models.LedgerEvent{
		EventKey:    models.LedgerEventKey("0xAA", 0),
		Kind:        models.LedgerEventAccessGranted,
		UserAddress: walletA,
		TxHash:      "0xaa",
		BlockNumber: 3,
		Status:      models.LedgerEventStatusProcessed,
	}
	created, stored, err := repos.LedgerEvent.CreateIfNotExists(event)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "0xaa:0", stored.EventKey)

	dup := &models.LedgerEvent{
		EventKey:    models.LedgerEventKey("0xaa", 0),
		Kind:        models.LedgerEventAccessGranted,
		UserAddress: walletA,
		TxHash:      "0xaa",
		BlockNumber: 3,
		Status:      models.LedgerEventStatusProcessed,
	}
	created, stored, err = repos.LedgerEvent.CreateIfNotExists(dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, event.ID, stored.ID)
}

func TestLedgerEventRepository_OrphanLifecycle(t *testing.T) {
	repos := newTestRepos(t)

	event := &models.LedgerEvent{
		EventKey:    models.LedgerEventKey("0xbb", 1),
		Kind:        models.LedgerEventAccessRevoked,
		UserAddress: walletA,
		TxHash:      "0xbb",
		LogIndex:    1,
		BlockNumber: 9,
		Status:      models.LedgerEventStatusOrphaned,
	}
	_, _, err := repos.LedgerEvent.CreateIfNotExists(event)
	require.NoError(t, err)
	require.NoError(t, repos.LedgerEvent.MarkOrphaned(event.ID, "no permission"))

	orphans, err := repos.LedgerEvent.ListOrphaned(10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, 1, orphans[0].Attempts)
	assert.Equal(t, "no permission", orphans[0].ProcessingError)

	claimed, err := repos.LedgerEvent.MarkProcessed(event.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// a second worker finds the orphan already repaired
	claimed, err = repos.LedgerEvent.MarkProcessed(event.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	orphans, err = repos.LedgerEvent.ListOrphaned(10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	counts, err := repos.LedgerEvent.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.LedgerEventStatusProcessed])
}

func TestLedgerEventRepository_Cursor(t *testing.T) {
	repos := newTestRepos(t)

	block, err := repos.LedgerEvent.GetCursor("data-license")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block)

	require.NoError(t, repos.LedgerEvent.SaveCursor("data-license", 12))
	require.NoError(t, repos.LedgerEvent.SaveCursor("data-license", 15))

	block, err = repos.LedgerEvent.GetCursor("data-license")
	require.NoError(t, err)
	assert.Equal(t, uint64(15), block)
}

func TestRepositories_TransactionRollsBack(t *testing.T) {
	repos := newTestRepos(t)
	u := seedUser(t, repos, "alice", walletA)

	err := repos.Transaction(func(tx *Repositories) error {
		if _, err := tx.Earning.CreateEarning(u.ID, NewEarning{Amount: 100}); err != nil {
			return err
		}
		return gorm.ErrInvalidData
	})
	assert.ErrorIs(t, err, gorm.ErrInvalidData)

	list, err := repos.Earning.GetUserEarnings(u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
