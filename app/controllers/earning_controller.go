package controllers

import (
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/app/repository"
)

// Monthly base rate per platform used by the earnings estimator.
var platformRates = map[string]float64{
	"google":    50,
	"facebook":  40,
	"instagram": 35,
	"twitter":   30,
	"linkedin":  45,
	"youtube":   55,
}

const defaultPlatformRate = 25

type earningsCalcRequest struct {
	Platforms []string `json:"platforms" validate:"required,min=1"`
	Hours     float64  `json:"hours" validate:"gt=0"`
}

type earningsPayRequest struct {
	// Amount in rupees.
	Amount float64 `json:"amount" validate:"gt=0"`
}

type earningView struct {
	ID                    string    `json:"id"`
	PermissionID          *string   `json:"permissionId,omitempty"`
	Amount                float64   `json:"amount"`
	Status                string    `json:"status"`
	StripePaymentIntentID string    `json:"stripePaymentIntentId,omitempty"`
	BlockchainTxHash      string    `json:"blockchainTxHash,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

// rupees converts paise to rupees for display.
func rupees(paise int64) float64 {
	f, _ := decimal.New(paise, -2).Float64()
	return f
}

func toEarningView(e *models.Earning) earningView {
	return earningView{
		ID:                    e.ID,
		PermissionID:          e.PermissionID,
		Amount:                rupees(e.Amount),
		Status:                e.Status,
		StripePaymentIntentID: e.StripePaymentIntentID,
		BlockchainTxHash:      e.BlockchainTxHash,
		CreatedAt:             e.CreatedAt,
	}
}

type earningTotals struct {
	Total     int64
	Available int64
	Pending   int64
}

func sumEarnings(rows []models.Earning) earningTotals {
	var t earningTotals
	for _, e := range rows {
		t.Total += e.Amount
		switch e.Status {
		case models.EarningStatusCompleted:
			t.Available += e.Amount
		case models.EarningStatusPending:
			t.Pending += e.Amount
		}
	}
	return t
}

// EarningController reports and pays out user earnings.
type EarningController struct {
	*Deps
}

func NewEarningController(d *Deps) *EarningController {
	return &EarningController{Deps: d}
}

// Get returns the user's earning totals in rupees plus every transaction.
func (e *EarningController) Get(c *fiber.Ctx) error {
	user, err := e.currentUser(c)
	if err != nil {
		return err
	}
	rows, err := e.Repos.Earning.GetUserEarnings(user.ID)
	if err != nil {
		return internalError(c, "Failed to load earnings", err)
	}

	totals := sumEarnings(rows)
	transactions := make([]earningView, 0, len(rows))
	for i := range rows {
		transactions = append(transactions, toEarningView(&rows[i]))
	}
	return c.JSON(fiber.Map{
		"totalEarnings":    rupees(totals.Total),
		"availableBalance": rupees(totals.Available),
		"pendingPayments":  rupees(totals.Pending),
		"transactions":     transactions,
	})
}

// Calc estimates monthly earnings for the given platforms and daily hours.
func (e *EarningController) Calc(c *fiber.Ctx) error {
	var req earningsCalcRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Platforms array and hours are required")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest("Platforms array and hours are required")
	}
	return c.JSON(fiber.Map{"estimated": estimateEarnings(req.Platforms, req.Hours)})
}

func estimateEarnings(platforms []string, hours float64) int64 {
	total := 0.0
	for _, p := range platforms {
		rate, ok := platformRates[normalizePlatform(p)]
		if !ok {
			rate = defaultPlatformRate
		}
		total += rate * hours * 30 / 24
	}
	return int64(math.Round(total))
}

// Pay starts a withdrawal with the payout provider and records it as a
// pending earning.
func (e *EarningController) Pay(c *fiber.Ctx) error {
	user, err := e.currentUser(c)
	if err != nil {
		return err
	}
	var req earningsPayRequest
	if err := c.BodyParser(&req); err != nil || req.Amount <= 0 || math.IsInf(req.Amount, 0) {
		return badRequest("Valid amount is required")
	}

	paise := decimal.NewFromFloat(req.Amount).Shift(2).Round(0).IntPart()
	if paise <= 0 {
		return badRequest("Valid amount is required")
	}

	intent, err := e.Payouts.CreateWithdrawal(c.UserContext(), user.ID, paise)
	if err != nil {
		return internalError(c, "Error creating payment intent", err)
	}

	earning, err := e.Repos.Earning.CreateEarning(user.ID, repository.NewEarning{
		Amount:                paise,
		Status:                models.EarningStatusPending,
		StripePaymentIntentID: intent.ID,
	})
	if err != nil {
		return internalError(c, "Failed to record withdrawal", err)
	}
	log.Infof("[Earnings] Withdrawal %s of %d paise via %s for user %s", intent.ID, paise, intent.Provider, user.ID)

	return c.JSON(fiber.Map{
		"clientSecret": intent.ClientSecret,
		"checkoutUrl":  intent.CheckoutURL,
		"earningId":    earning.ID,
	})
}
