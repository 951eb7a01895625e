package controllers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
)

const defaultRetryLimit = 100

type chainRegisterRequest struct {
	Username      string `json:"username" validate:"required,min=3,max=150"`
	WalletAddress string `json:"walletAddress" validate:"required,eth_addr"`
}

type grantAccessRequest struct {
	CompanyAddress string      `json:"companyAddress" validate:"required,eth_addr"`
	CompanyName    string      `json:"companyName" validate:"max=191"`
	DataTypes      []string    `json:"dataTypes" validate:"required,min=1"`
	MonthlyPayment json.Number `json:"monthlyPayment" validate:"required"`
	DurationMonths uint64      `json:"durationMonths" validate:"required,gt=0"`
	WalletAddress  string      `json:"walletAddress" validate:"required,eth_addr"`
}

type revokeAccessRequest struct {
	CompanyAddress string `json:"companyAddress" validate:"required,eth_addr"`
	WalletAddress  string `json:"walletAddress" validate:"required,eth_addr"`
}

type payUserRequest struct {
	CompanyAddress string      `json:"companyAddress" validate:"required,eth_addr"`
	UserAddress    string      `json:"userAddress" validate:"required,eth_addr"`
	Amount         json.Number `json:"amount" validate:"required"`
}

// BlockchainController exposes the ledger operations to authenticated users.
type BlockchainController struct {
	*Deps
}

func NewBlockchainController(d *Deps) *BlockchainController {
	return &BlockchainController{Deps: d}
}

func errForeignWallet() error {
	return fiber.NewError(fiber.StatusForbidden, "Wallet address does not belong to this account")
}

// Register records the username on the ledger and binds the wallet to the account.
func (b *BlockchainController) Register(c *fiber.Ctx) error {
	user, err := b.currentUser(c)
	if err != nil {
		return err
	}
	var req chainRegisterRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	wallet := models.NormalizeAddress(req.WalletAddress)
	owner, err := b.Repos.User.GetByWalletAddress(wallet)
	switch {
	case err == nil && owner.ID != user.ID:
		return fiber.NewError(fiber.StatusConflict, "Wallet address already registered")
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return internalError(c, "Failed to check wallet", err)
	}

	txHash, err := b.submitWithRetry(c.UserContext(), "registerUser", func(ctx context.Context) (string, error) {
		return b.Ledger.RegisterUser(ctx, wallet, req.Username)
	})
	if err != nil {
		return ledgerError(c, err)
	}

	if user.WalletAddress != wallet {
		user.WalletAddress = wallet
		if err := b.Repos.User.Update(user); err != nil {
			return internalError(c, "Failed to store wallet address", err)
		}
	}
	log.Infof("[Blockchain] User %s registered wallet %s in tx %s", user.ID, wallet, txHash)

	return c.JSON(fiber.Map{"txHash": txHash, "message": "User registered on blockchain successfully"})
}

// GrantAccess writes a pending permission and submits the license to the
// ledger. The reconciler activates the permission once AccessGranted arrives.
func (b *BlockchainController) GrantAccess(c *fiber.Ctx) error {
	user, err := b.currentUser(c)
	if err != nil {
		return err
	}
	var req grantAccessRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !ownWallet(user, req.WalletAddress) {
		return errForeignWallet()
	}

	grant := ledger.GrantRequest{
		Company:        req.CompanyAddress,
		DataTypes:      req.DataTypes,
		MonthlyPayment: req.MonthlyPayment.String(),
		DurationMonths: req.DurationMonths,
	}
	paise, err := b.Ledger.Fiat().EtherToMinor(grant.MonthlyPayment)
	if err != nil {
		return ledgerError(c, err)
	}

	name := req.CompanyName
	if name == "" {
		name = req.CompanyAddress
	}
	pending := &models.Permission{
		UserID:         user.ID,
		CompanyName:    name,
		CompanyAddress: req.CompanyAddress,
		MonthlyPayment: paise,
		Status:         models.PermissionStatusPending,
	}
	pending.SetAccessTypes(req.DataTypes)
	if pending.AccessTypes == "" {
		return badRequest("dataTypes is required")
	}
	if err := b.Repos.Permission.Create(pending); err != nil {
		return internalError(c, "Failed to create permission", err)
	}

	txHash, err := b.submitWithRetry(c.UserContext(), "grantAccess", func(ctx context.Context) (string, error) {
		return b.Ledger.GrantAccess(ctx, req.WalletAddress, grant)
	})
	if err != nil {
		if discardPending(err) {
			if derr := b.Repos.Permission.Delete(pending.ID); derr != nil {
				log.Errorf("[Blockchain] Could not drop pending permission %s: %v", pending.ID, derr)
			}
		} else {
			log.Warnf("[Blockchain] grantAccess for permission %s unconfirmed: %v", pending.ID, err)
		}
		return ledgerError(c, err)
	}

	if err := b.Repos.Permission.AttachTxHash(pending.ID, txHash); err != nil {
		log.Errorf("[Blockchain] Could not attach tx %s to permission %s: %v", txHash, pending.ID, err)
	}
	return c.JSON(fiber.Map{
		"txHash":       txHash,
		"permissionId": pending.ID,
		"message":      "Access granted on blockchain successfully",
	})
}

// discardPending reports whether a failed grant can never produce a ledger
// event, so its pending permission has nothing to wait for.
func discardPending(err error) bool {
	var submission *ledger.SubmissionError
	if errors.As(err, &submission) {
		return !submission.Sent()
	}
	return true
}

// RevokeAccess deactivates the pair's current license. The permission is
// updated by the reconciler from the AccessRevoked event.
func (b *BlockchainController) RevokeAccess(c *fiber.Ctx) error {
	user, err := b.currentUser(c)
	if err != nil {
		return err
	}
	var req revokeAccessRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !ownWallet(user, req.WalletAddress) {
		return errForeignWallet()
	}

	txHash, err := b.submitWithRetry(c.UserContext(), "revokeAccess", func(ctx context.Context) (string, error) {
		return b.Ledger.RevokeAccess(ctx, req.WalletAddress, req.CompanyAddress)
	})
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"txHash": txHash, "message": "Access revoked on blockchain successfully"})
}

// Pay credits a user from the company wallet of the authenticated account.
func (b *BlockchainController) Pay(c *fiber.Ctx) error {
	user, err := b.currentUser(c)
	if err != nil {
		return err
	}
	var req payUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !ownWallet(user, req.CompanyAddress) {
		return errForeignWallet()
	}

	txHash, err := b.submitWithRetry(c.UserContext(), "payUser", func(ctx context.Context) (string, error) {
		return b.Ledger.PayUser(ctx, req.CompanyAddress, req.UserAddress, req.Amount.String())
	})
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"txHash": txHash, "message": "Payment sent on blockchain successfully"})
}

// Earnings returns the ledger's accumulated earnings in ether.
func (b *BlockchainController) Earnings(c *fiber.Ctx) error {
	earnings, err := b.Ledger.GetUserEarnings(c.UserContext(), c.Params("walletAddress"))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"earnings": earnings})
}

// Licenses lists every license of the wallet with its details.
func (b *BlockchainController) Licenses(c *fiber.Ctx) error {
	licenses, err := b.Ledger.ListLicenses(c.UserContext(), c.Params("walletAddress"))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"licenses": licenses})
}

func (b *BlockchainController) AccessStatus(c *fiber.Ctx) error {
	active, err := b.Ledger.IsAccessActive(c.UserContext(), c.Params("walletAddress"), c.Params("companyAddress"))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"isActive": active})
}

// Status reports the ledger head and the reconciler state.
func (b *BlockchainController) Status(c *fiber.Ctx) error {
	block, err := b.Ledger.BlockNumber(c.UserContext())
	if err != nil {
		return ledgerError(c, err)
	}
	counts, err := b.Repos.LedgerEvent.CountByStatus()
	if err != nil {
		return internalError(c, "Failed to count ledger events", err)
	}
	out := fiber.Map{
		"blockNumber": block,
		"events":      counts,
	}
	if b.Reconciler != nil {
		out["reconciler"] = b.Reconciler.Status()
	}
	return c.JSON(out)
}

// RetryOrphans runs one repair sweep over orphaned events.
func (b *BlockchainController) RetryOrphans(c *fiber.Ctx) error {
	if b.Reconciler == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Reconciler not running")
	}
	limit := c.QueryInt("limit", defaultRetryLimit)
	if limit <= 0 {
		limit = defaultRetryLimit
	}
	report, err := b.Reconciler.RetryOrphans(c.UserContext(), limit)
	if err != nil {
		return internalError(c, "Repair sweep failed", err)
	}
	return c.JSON(report)
}
