package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MindShield/app/models"
)

type registerRequest struct {
	Username      string `json:"username" validate:"required"`
	Email         string `json:"email" validate:"required"`
	Password      string `json:"password" validate:"required"`
	WalletAddress string `json:"walletAddress" validate:"omitempty,eth_addr"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthController issues API keys for username/password accounts.
type AuthController struct {
	*Deps
}

func NewAuthController(d *Deps) *AuthController {
	return &AuthController{Deps: d}
}

// Register creates an account and returns its first API key as token.
func (a *AuthController) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if len(req.Password) < 6 {
		return badRequest("Password must be at least 6 characters long")
	}
	if len(req.Username) < 3 {
		return badRequest("Username must be at least 3 characters long")
	}

	user, err := models.CreateUser(req.Username, req.Email, req.Password, req.WalletAddress)
	if err != nil {
		return badRequest(validationMessage(err))
	}

	if _, err := a.Repos.User.GetByEmail(user.Email); err == nil {
		return badRequest("User already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return internalError(c, "Failed to check user", err)
	}
	if user.WalletAddress != "" {
		if _, err := a.Repos.User.GetByWalletAddress(user.WalletAddress); err == nil {
			return fiber.NewError(fiber.StatusConflict, "Wallet address already registered")
		}
	}

	token, err := user.IssueAPIKey()
	if err != nil {
		return internalError(c, "Failed to issue API key", err)
	}
	if err := a.Repos.User.Create(user); err != nil {
		return internalError(c, "Failed to create user", err)
	}
	log.Infof("[Auth] User %s registered", user.ID)

	return c.Status(fiber.StatusCreated).JSON(authResponse(user, token))
}

// Login verifies the password and rotates the user's API key.
func (a *AuthController) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, err := a.Repos.User.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid credentials")
		}
		return internalError(c, "Failed to load user", err)
	}
	if !user.CheckPassword(req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid credentials")
	}
	if !user.IsActive() {
		return fiber.NewError(fiber.StatusForbidden, "User inactive")
	}

	token, err := user.IssueAPIKey()
	if err != nil {
		return internalError(c, "Failed to issue API key", err)
	}
	now := a.now()
	user.LastLoginAt = &now
	if err := a.Repos.User.Update(user); err != nil {
		return internalError(c, "Failed to update user", err)
	}

	return c.JSON(authResponse(user, token))
}

func authResponse(user *models.User, token string) fiber.Map {
	return fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":            user.ID,
			"username":      user.Username,
			"email":         user.Email,
			"walletAddress": user.WalletAddress,
		},
	}
}

// Account returns the profile of the authenticated user.
func (a *AuthController) Account(c *fiber.Ctx) error {
	user, err := a.currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"id":                   user.ID,
		"username":             user.Username,
		"email":                user.Email,
		"status":               user.Status,
		"wallet_address":       user.WalletAddress,
		"is_admin":             user.Role == models.ROLE_ADMIN,
		"api_key_prefix":       user.APIKeyPrefix,
		"created_at":           user.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":        formatTimePtr(user.LastLoginAt),
		"api_key_last_used_at": formatTimePtr(user.APIKeyLastUsedAt),
	})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
