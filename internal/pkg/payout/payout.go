// Package payout creates withdrawal payment intents for user earnings.
package payout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/ManuelReschke/MindShield/internal/pkg/config"
)

const (
	ProviderStripe = "stripe"
	ProviderMock   = "mock"
)

var ErrInvalidAmount = errors.New("valid amount is required")

// Intent is a created withdrawal the frontend completes at CheckoutURL.
type Intent struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	ClientSecret string `json:"clientSecret"`
	CheckoutURL  string `json:"checkoutUrl"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Provider creates withdrawals. Amounts are in the currency's minor unit.
type Provider interface {
	Name() string
	CreateWithdrawal(ctx context.Context, userID string, amount int64) (*Intent, error)
}

// New picks Stripe when a secret key is configured and the mock otherwise.
func New(cfg config.PayoutConfig) Provider {
	if cfg.StripeSecretKey == "" || strings.Contains(cfg.StripeSecretKey, "your_stripe") {
		log.Warn("[Payout] Stripe not configured, using mock withdrawals")
		return NewMock(cfg)
	}
	return NewStripe(cfg, nil)
}

func checkoutURL(frontend, intentID string) string {
	return fmt.Sprintf("%s/checkout?payment_intent=%s", frontend, url.QueryEscape(intentID))
}

// Stripe creates PaymentIntents through the Stripe API.
type Stripe struct {
	api      *client.API
	currency string
	frontend string
}

// NewStripe builds the provider; backends may be nil to use Stripe's defaults.
func NewStripe(cfg config.PayoutConfig, backends *stripe.Backends) *Stripe {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyINR)
	}
	return &Stripe{
		api:      client.New(cfg.StripeSecretKey, backends),
		currency: currency,
		frontend: cfg.FrontendURL,
	}
}

func (s *Stripe) Name() string { return ProviderStripe }

func (s *Stripe) CreateWithdrawal(ctx context.Context, userID string, amount int64) (*Intent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
	}
	params.Context = ctx
	params.AddMetadata("userId", userID)
	params.AddMetadata("type", "withdrawal")

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	log.Infof("[Payout] Created payment intent %s for user %s (%d %s)", pi.ID, userID, amount, s.currency)
	return &Intent{
		ID:           pi.ID,
		Provider:     ProviderStripe,
		ClientSecret: pi.ClientSecret,
		CheckoutURL:  checkoutURL(s.frontend, pi.ID),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// Mock returns fabricated intents for development setups without Stripe.
type Mock struct {
	currency string
	frontend string
}

func NewMock(cfg config.PayoutConfig) *Mock {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyINR)
	}
	return &Mock{currency: currency, frontend: cfg.FrontendURL}
}

func (m *Mock) Name() string { return ProviderMock }

func (m *Mock) CreateWithdrawal(_ context.Context, userID string, amount int64) (*Intent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	id := "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	log.Infof("[Payout] Mock withdrawal %s of %d for user %s", id, amount, userID)
	return &Intent{
		ID:           id,
		Provider:     ProviderMock,
		ClientSecret: id + "_secret",
		CheckoutURL:  checkoutURL(m.frontend, id),
		Amount:       amount,
		Currency:     m.currency,
	}, nil
}
