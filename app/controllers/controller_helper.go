package controllers

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/utils"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/app/repository"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
	"github.com/ManuelReschke/MindShield/internal/pkg/payout"
	"github.com/ManuelReschke/MindShield/internal/pkg/reconciler"
	"github.com/ManuelReschke/MindShield/internal/pkg/usercontext"
)

const msgSubmitRetry = "could not submit transaction, please retry"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names in validation messages
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ReconcilerService is the part of the reconciler the API exposes to operators.
type ReconcilerService interface {
	Status() reconciler.Status
	RetryOrphans(ctx context.Context, limit int) (reconciler.RepairReport, error)
}

// Deps are the collaborators shared by the API controllers.
type Deps struct {
	Repos         *repository.Repositories
	Ledger        *ledger.Client
	Payouts       payout.Provider
	Reconciler    ReconcilerService
	SubmitRetries int
	Now           func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// ErrorHandler renders errors returned by handlers as {"error", "message"}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		status = ferr.Code
		message = ferr.Message
	} else {
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	}
	return jsonError(c, status, errorCode(status), message)
}

func errorCode(status int) string {
	return strings.ToLower(strings.ReplaceAll(utils.StatusMessage(status), " ", "_"))
}

func badRequest(message string) error {
	return fiber.NewError(fiber.StatusBadRequest, message)
}

func internalError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[API] %s %s: %s: %v", c.Method(), c.Path(), message, err)
	return fiber.NewError(fiber.StatusInternalServerError, message)
}

// validationMessage turns the first validator failure into a short message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "eth_addr":
			return fe.Field() + " must be a wallet address"
		case "email":
			return "Invalid email format"
		default:
			return fe.Field() + " is invalid"
		}
	}
	return err.Error()
}

// parseBody decodes and validates a JSON request body into dst.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return badRequest("Invalid input data")
	}
	if err := validate.Struct(dst); err != nil {
		return badRequest(validationMessage(err))
	}
	return nil
}

// currentUser loads the authenticated user.
func (d *Deps) currentUser(c *fiber.Ctx) (*models.User, error) {
	userID := usercontext.GetUserID(c)
	if userID == "" {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Missing or invalid authentication")
	}
	user, err := d.Repos.User.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}
		return nil, internalError(c, "Failed to load user", err)
	}
	return user, nil
}

// ledgerError maps ledger client errors onto HTTP responses.
func ledgerError(c *fiber.Ctx, err error) error {
	var reverted *ledger.RevertedError
	var submission *ledger.SubmissionError
	switch {
	case errors.Is(err, ledger.ErrInvalidAddress), errors.Is(err, ledger.ErrInvalidAmount):
		return badRequest(err.Error())
	case errors.Is(err, ledger.ErrLicenseNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.As(err, &reverted):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "reverted",
			"message": reverted.Reason,
			"txHash":  reverted.TxHash,
		})
	case errors.As(err, &submission):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "submission_failed",
			"message": msgSubmitRetry,
			"txHash":  submission.TxHash,
		})
	default:
		return internalError(c, "Ledger request failed", err)
	}
}

// submitWithRetry resubmits fn while it fails with a SubmissionError whose
// transaction was never broadcast.
func (d *Deps) submitWithRetry(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	attempts := d.SubmitRetries
	if attempts < 1 {
		attempts = 1
	}
	var (
		txHash string
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		txHash, err = fn(ctx)
		var submission *ledger.SubmissionError
		if err == nil || !errors.As(err, &submission) || submission.Sent() {
			return txHash, err
		}
		if attempt == attempts {
			break
		}
		log.Warnf("[API] %s not submitted (attempt %d/%d), retrying: %v", op, attempt, attempts, err)
		select {
		case <-ctx.Done():
			return txHash, err
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return txHash, err
}

// ownWallet checks that wallet belongs to user.
func ownWallet(user *models.User, wallet string) bool {
	return user.WalletAddress != "" && user.WalletAddress == models.NormalizeAddress(wallet)
}

func normalizePlatform(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
