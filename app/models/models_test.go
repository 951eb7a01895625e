package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	u, err := CreateUser("alice", "Alice@Example.com", "secret1", "0xAbC0000000000000000000000000000000000001")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", u.WalletAddress)
	assert.True(t, u.CheckPassword("secret1"))
	assert.False(t, u.CheckPassword("wrong"))
	assert.True(t, u.IsActive())
}

func TestCreateUserRejectsInvalidInput(t *testing.T) {
	_, err := CreateUser("al", "alice@example.com", "secret1", "")
	assert.Error(t, err)

	_, err = CreateUser("alice", "not-an-email", "secret1", "")
	assert.Error(t, err)

	_, err = CreateUser("alice", "alice@example.com", "123", "")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = CreateUser("alice", "alice@example.com", "secret1", "0x1234")
	assert.Error(t, err)
}

func TestUserIssueAPIKey(t *testing.T) {
	u := &User{ID: "u-1"}

	key, err := u.IssueAPIKey()
	require.NoError(t, err)
	require.NotEmpty(t, key)

	assert.True(t, u.HasActiveAPIKey())
	assert.Equal(t, HashAPIKey(key), u.APIKeyHash)
	assert.Equal(t, key[:16], u.APIKeyPrefix)
	assert.NotNil(t, u.APIKeyCreatedAt)
	assert.Nil(t, u.APIKeyLastUsedAt)

	second, err := u.IssueAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, second)
	assert.Equal(t, HashAPIKey(second), u.APIKeyHash)
}

func TestDataTypesRoundTrip(t *testing.T) {
	assert.Equal(t, []string{"location", "browsing"}, SplitDataTypes(" location, ,browsing "))
	assert.Equal(t, "location,browsing", JoinDataTypes([]string{"location", " ", "browsing"}))
	assert.Empty(t, SplitDataTypes(""))
}

func TestPermissionMatchesCompany(t *testing.T) {
	byAddress := &Permission{CompanyName: "Acme", CompanyAddress: "0xabc"}
	assert.True(t, byAddress.MatchesCompany("0xABC"))
	assert.False(t, byAddress.MatchesCompany("0xdef"))

	byName := &Permission{CompanyName: "0xABC"}
	assert.True(t, byName.MatchesCompany("0xabc"))

	assert.False(t, byAddress.MatchesCompany(""))
}

func TestStatusValidators(t *testing.T) {
	for _, s := range []string{"pending", "active", "revoked", "superseded"} {
		assert.True(t, IsValidPermissionStatus(s), s)
	}
	assert.False(t, IsValidPermissionStatus("approved"))

	for _, s := range []string{"pending", "completed", "failed"} {
		assert.True(t, IsValidEarningStatus(s), s)
	}
	assert.False(t, IsValidEarningStatus("refunded"))
}

func TestLedgerEventKey(t *testing.T) {
	assert.Equal(t, "0xabcdef:3", LedgerEventKey("0xABCDEF", 3))
}
