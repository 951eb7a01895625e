package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "bad_request", errorCode(fiber.StatusBadRequest))
	assert.Equal(t, "not_found", errorCode(fiber.StatusNotFound))
	assert.Equal(t, "internal_server_error", errorCode(fiber.StatusInternalServerError))
}

func TestLedgerErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"invalid address", fmt.Errorf("%w: %q", ledger.ErrInvalidAddress, "x"), 400, `"error":"bad_request"`},
		{"invalid amount", ledger.ErrInvalidAmount, 400, `"error":"bad_request"`},
		{"unknown license", ledger.ErrLicenseNotFound, 404, `"error":"not_found"`},
		{"reverted", &ledger.RevertedError{Op: "revokeAccess", TxHash: "0x01", Reason: ledger.ReasonNoActiveAccess}, 422, `"message":"no active access to revoke"`},
		{"unsent", &ledger.SubmissionError{Op: "grantAccess", Err: errors.New("dial")}, 503, `"message":"could not submit transaction, please retry"`},
		{"sent", &ledger.SubmissionError{Op: "grantAccess", TxHash: "0x02", Err: context.DeadlineExceeded}, 503, `"txHash":"0x02"`},
		{"other", errors.New("boom"), 500, `"error":"internal_server_error"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
			app.Get("/", func(c *fiber.Ctx) error { return ledgerError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, string(body), tt.body)
		})
	}
}

func TestSubmitWithRetry(t *testing.T) {
	t.Run("retries unsent submissions", func(t *testing.T) {
		d := &Deps{SubmitRetries: 2}
		calls := 0
		hash, err := d.submitWithRetry(context.Background(), "grantAccess", func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", &ledger.SubmissionError{Op: "grantAccess", Err: errors.New("nonce too low")}
			}
			return "0xabc", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "0xabc", hash)
		assert.Equal(t, 2, calls)
	})

	t.Run("never resubmits a sent transaction", func(t *testing.T) {
		d := &Deps{SubmitRetries: 3}
		calls := 0
		hash, err := d.submitWithRetry(context.Background(), "grantAccess", func(context.Context) (string, error) {
			calls++
			return "0xsent", &ledger.SubmissionError{Op: "grantAccess", TxHash: "0xsent", Err: context.DeadlineExceeded}
		})
		assert.True(t, ledger.IsSubmissionError(err))
		assert.Equal(t, "0xsent", hash)
		assert.Equal(t, 1, calls)
	})

	t.Run("never retries a revert", func(t *testing.T) {
		d := &Deps{SubmitRetries: 3}
		calls := 0
		_, err := d.submitWithRetry(context.Background(), "revokeAccess", func(context.Context) (string, error) {
			calls++
			return "0x01", &ledger.RevertedError{Op: "revokeAccess", Reason: ledger.ReasonNoActiveAccess}
		})
		assert.True(t, ledger.IsRevertedError(err))
		assert.Equal(t, 1, calls)
	})
}

func TestDiscardPending(t *testing.T) {
	assert.True(t, discardPending(&ledger.RevertedError{Op: "grantAccess"}))
	assert.True(t, discardPending(&ledger.SubmissionError{Op: "grantAccess", Err: errors.New("dial")}))
	assert.False(t, discardPending(&ledger.SubmissionError{Op: "grantAccess", TxHash: "0x1", Err: context.DeadlineExceeded}))
}

func TestEstimateEarnings(t *testing.T) {
	assert.Equal(t, int64(0), estimateEarnings(nil, 3))
	assert.Equal(t, int64(125), estimateEarnings([]string{"google"}, 2))
	assert.Equal(t, int64(188), estimateEarnings([]string{" Google ", "myspace"}, 2))
	assert.Equal(t, int64(69), estimateEarnings([]string{"youtube"}, 1))
}

func TestPrivacyScore(t *testing.T) {
	assert.Equal(t, 62, privacyScore(nil))
	assert.Equal(t, 50, privacyScore([]models.PrivacyFootprint{{Percentage: 30}, {Percentage: 20}}))
	assert.Equal(t, 0, privacyScore([]models.PrivacyFootprint{{Percentage: 80}, {Percentage: 70}}))
}

func TestOwnWallet(t *testing.T) {
	u := &models.User{WalletAddress: "0x00000000000000000000000000000000000000a1"}
	assert.True(t, ownWallet(u, "0x00000000000000000000000000000000000000A1"))
	assert.False(t, ownWallet(u, "0x00000000000000000000000000000000000000b2"))
	assert.False(t, ownWallet(&models.User{}, ""))
}
