package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MindShield/app/models"
)

type permissionGrantRequest struct {
	CompanyName    string   `json:"companyName" validate:"required,max=191"`
	CompanyLogo    string   `json:"companyLogo" validate:"max=255"`
	CompanyAddress string   `json:"companyAddress" validate:"omitempty,eth_addr"`
	AccessTypes    []string `json:"accessTypes" validate:"required,min=1"`
	MonthlyPayment int64    `json:"monthlyPayment" validate:"gte=0"`
}

type permissionIDRequest struct {
	PermissionID string `json:"permissionId" validate:"required"`
}

// permissionView is the API shape of a Permission.
type permissionView struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	CompanyName      string    `json:"companyName"`
	CompanyLogo      string    `json:"companyLogo,omitempty"`
	CompanyAddress   string    `json:"companyAddress,omitempty"`
	AccessTypes      []string  `json:"accessTypes"`
	MonthlyPayment   int64     `json:"monthlyPayment"`
	Status           string    `json:"status"`
	LicenseID        *uint64   `json:"licenseId,omitempty"`
	BlockchainTxHash string    `json:"blockchainTxHash,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toPermissionView(p *models.Permission) permissionView {
	return permissionView{
		ID:               p.ID,
		UserID:           p.UserID,
		CompanyName:      p.CompanyName,
		CompanyLogo:      p.CompanyLogo,
		CompanyAddress:   p.CompanyAddress,
		AccessTypes:      p.AccessTypeList(),
		MonthlyPayment:   p.MonthlyPayment,
		Status:           p.Status,
		LicenseID:        p.LicenseID,
		BlockchainTxHash: p.BlockchainTxHash,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toPermissionViews(rows []models.Permission) []permissionView {
	out := make([]permissionView, 0, len(rows))
	for i := range rows {
		out = append(out, toPermissionView(&rows[i]))
	}
	return out
}

// PermissionController manages the off-chain permission records.
type PermissionController struct {
	*Deps
}

func NewPermissionController(d *Deps) *PermissionController {
	return &PermissionController{Deps: d}
}

// List returns the user's permissions, newest first.
func (p *PermissionController) List(c *fiber.Ctx) error {
	user, err := p.currentUser(c)
	if err != nil {
		return err
	}
	rows, err := p.Repos.Permission.GetUserPermissions(user.ID)
	if err != nil {
		return internalError(c, "Failed to load permissions", err)
	}
	return c.JSON(toPermissionViews(rows))
}

// Grant records a pending permission request.
func (p *PermissionController) Grant(c *fiber.Ctx) error {
	user, err := p.currentUser(c)
	if err != nil {
		return err
	}
	var req permissionGrantRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	permission := &models.Permission{
		UserID:         user.ID,
		CompanyName:    req.CompanyName,
		CompanyLogo:    req.CompanyLogo,
		CompanyAddress: req.CompanyAddress,
		MonthlyPayment: req.MonthlyPayment,
		Status:         models.PermissionStatusPending,
	}
	permission.SetAccessTypes(req.AccessTypes)
	if permission.AccessTypes == "" {
		return badRequest("accessTypes is required")
	}
	if err := p.Repos.Permission.Create(permission); err != nil {
		return internalError(c, "Failed to create permission", err)
	}
	return c.JSON(toPermissionView(permission))
}

// Approve marks one of the user's permissions active without a ledger license.
func (p *PermissionController) Approve(c *fiber.Ctx) error {
	return p.transition(c, models.PermissionStatusActive)
}

// Revoke marks one of the user's permissions revoked off-chain.
func (p *PermissionController) Revoke(c *fiber.Ctx) error {
	return p.transition(c, models.PermissionStatusRevoked)
}

func (p *PermissionController) transition(c *fiber.Ctx, status string) error {
	user, err := p.currentUser(c)
	if err != nil {
		return err
	}
	var req permissionIDRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	permission, err := p.Repos.Permission.GetByID(req.PermissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Permission not found")
		}
		return internalError(c, "Failed to load permission", err)
	}
	if permission.UserID != user.ID {
		return fiber.NewError(fiber.StatusNotFound, "Permission not found")
	}
	if permission.Status == models.PermissionStatusRevoked || permission.Status == models.PermissionStatusSuperseded {
		return fiber.NewError(fiber.StatusConflict, "Permission is already "+permission.Status)
	}

	updated, err := p.Repos.Permission.UpdatePermissionStatus(permission.ID, status, "")
	if err != nil {
		return internalError(c, "Failed to update permission", err)
	}
	log.Infof("[Permissions] %s -> %s for user %s", permission.ID, status, user.ID)
	return c.JSON(toPermissionView(updated))
}
