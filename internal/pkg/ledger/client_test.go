package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceHex    = "0x00000000000000000000000000000000000000A1"
	companyXHex = "0x00000000000000000000000000000000000000C1"
)

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	c, err := NewClient(backend, config.LedgerConfig{SubmitTimeout: time.Second, FiatRate: "1"})
	require.NoError(t, err)
	return c
}

func TestClient_GrantRoundTripsMonthlyPayment(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, NewMemoryLedger(WithClock(testutil.FixedClock())))

	txHash, err := c.GrantAccess(ctx, aliceHex, GrantRequest{
		Company:        companyXHex,
		DataTypes:      []string{"location", " browsing ", ""},
		MonthlyPayment: "0.1",
		DurationMonths: 12,
	})
	require.NoError(t, err)
	assert.Len(t, txHash, 66)

	licenses, err := c.ListLicenses(ctx, aliceHex)
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, "0.1", licenses[0].MonthlyPayment)
	assert.Equal(t, "location,browsing", licenses[0].DataTypes)
	assert.True(t, licenses[0].IsActive)
	assert.Equal(t, common.HexToAddress(companyXHex).Hex(), licenses[0].Company)

	active, err := c.IsAccessActive(ctx, aliceHex, companyXHex)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestClient_RevokeTwiceSurfacesRevertReason(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, NewMemoryLedger(WithClock(testutil.FixedClock())))

	_, err := c.GrantAccess(ctx, aliceHex, GrantRequest{Company: companyXHex, DataTypes: []string{"email"}, MonthlyPayment: "0.1", DurationMonths: 1})
	require.NoError(t, err)
	_, err = c.RevokeAccess(ctx, aliceHex, companyXHex)
	require.NoError(t, err)

	_, err = c.RevokeAccess(ctx, aliceHex, companyXHex)
	assert.True(t, IsRevertedError(err))
	assert.False(t, IsSubmissionError(err))
	assert.Contains(t, err.Error(), ReasonNoActiveAccess)
}

func TestClient_InvalidInput(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, NewMemoryLedger())

	_, err := c.GrantAccess(ctx, "not-an-address", GrantRequest{Company: companyXHex, MonthlyPayment: "1", DurationMonths: 1})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = c.GrantAccess(ctx, aliceHex, GrantRequest{Company: companyXHex, MonthlyPayment: "-1", DurationMonths: 1})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = c.IsAccessActive(ctx, aliceHex, "0x123")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestClient_PayUserPolicy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(WithClock(testutil.FixedClock()), WithPermissivePayments(true))
	c := newTestClient(t, m)

	// the client enforces the license check even against a permissive ledger
	_, err := c.PayUser(ctx, companyXHex, aliceHex, "0.5")
	var reverted *RevertedError
	require.True(t, errors.As(err, &reverted))
	assert.Equal(t, ReasonPayerNotLicensed, reverted.Reason)
	assert.Empty(t, reverted.TxHash)

	_, err = c.GrantAccess(ctx, aliceHex, GrantRequest{Company: companyXHex, DataTypes: []string{"email"}, MonthlyPayment: "0.1", DurationMonths: 1})
	require.NoError(t, err)

	_, err = c.PayUser(ctx, companyXHex, aliceHex, "0.5")
	require.NoError(t, err)

	earnings, err := c.GetUserEarnings(ctx, aliceHex)
	require.NoError(t, err)
	assert.Equal(t, "0.5", earnings)

	permissive, err := NewClient(m, config.LedgerConfig{FiatRate: "1", PermissivePayments: true})
	require.NoError(t, err)
	_, err = permissive.PayUser(ctx, "0x00000000000000000000000000000000000000b0", aliceHex, "0.25")
	require.NoError(t, err)
	earnings, err = permissive.GetUserEarnings(ctx, aliceHex)
	require.NoError(t, err)
	assert.Equal(t, "0.75", earnings)
}

// stalledLedger never confirms grants.
type stalledLedger struct {
	*MemoryLedger
}

func (s stalledLedger) GrantAccess(ctx context.Context, from, company common.Address, dataTypes string, monthlyPayment *big.Int, durationMonths uint64) (*Receipt, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClient_SubmitTimeoutIsSubmissionError(t *testing.T) {
	c, err := NewClient(stalledLedger{NewMemoryLedger()}, config.LedgerConfig{SubmitTimeout: 20 * time.Millisecond, FiatRate: "1"})
	require.NoError(t, err)

	started := time.Now()
	_, err = c.GrantAccess(context.Background(), aliceHex, GrantRequest{Company: companyXHex, MonthlyPayment: "1", DurationMonths: 1})
	assert.Less(t, time.Since(started), time.Second)

	var submission *SubmissionError
	require.True(t, errors.As(err, &submission))
	assert.Equal(t, "grantAccess", submission.Op)
	assert.False(t, submission.Sent())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_RejectsBadFiatRate(t *testing.T) {
	_, err := NewClient(NewMemoryLedger(), config.LedgerConfig{FiatRate: "-2"})
	assert.Error(t, err)
}

func TestRevertReason(t *testing.T) {
	reason, ok := revertReason(errors.New("execution reverted: no active access to revoke"))
	assert.True(t, ok)
	assert.Equal(t, ReasonNoActiveAccess, reason)

	reason, ok = revertReason(errors.New("execution reverted"))
	assert.True(t, ok)
	assert.Equal(t, ReasonTransactionFailed, reason)

	_, ok = revertReason(errors.New("connection refused"))
	assert.False(t, ok)
}

func TestKeyRing(t *testing.T) {
	// well-known hardhat development key #0
	kr, err := NewKeyRing("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", "")
	require.NoError(t, err)

	addr := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	_, ok := kr.Key(addr)
	assert.True(t, ok)
	assert.Len(t, kr.Addresses(), 1)

	_, err = NewKeyRing("zz")
	assert.Error(t, err)
}

func TestOpenBackendSelectsMemory(t *testing.T) {
	backend, closeFn, err := OpenBackend(context.Background(), config.LedgerConfig{Backend: config.LedgerBackendMemory})
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer closeFn()
	_, ok := backend.(*MemoryLedger)
	assert.True(t, ok)
}

func TestOpenBackendRejectsBadContractAddress(t *testing.T) {
	_, closeFn, err := OpenBackend(context.Background(), config.LedgerConfig{
		Backend:         config.LedgerBackendEthereum,
		ContractAddress: "not-an-address",
	})
	require.NotNil(t, closeFn)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
