package models

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

var ErrPasswordTooShort = errors.New("password must be at least 6 characters long")

type User struct {
	ID                   string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username             string     `gorm:"uniqueIndex;type:varchar(150)" json:"username" validate:"required,min=3,max=150"`
	Email                string     `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Password             string     `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role                 string     `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status               string     `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	WalletAddress        string     `gorm:"type:varchar(42);index" json:"wallet_address,omitempty" validate:"omitempty,eth_addr"`
	StripeCustomerID     string     `gorm:"type:varchar(191);default:''" json:"-"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);default:''" json:"-"`
	APIKeyHash           string     `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyPrefix         string     `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt      *time.Time `json:"api_key_created_at"`
	APIKeyLastUsedAt     *time.Time `json:"api_key_last_used_at"`
	LastLoginAt          *time.Time `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

func CreateUser(username string, email string, password string, wallet string) (*User, error) {
	// the stored hash always passes min=6, so check the plain password here
	if len(password) < 6 {
		return nil, ErrPasswordTooShort
	}
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:      strings.TrimSpace(username),
		Email:         strings.ToLower(strings.TrimSpace(email)),
		Password:      pw,
		Role:          ROLE_USER,
		Status:        STATUS_ACTIVE,
		WalletAddress: NormalizeAddress(wallet),
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// NormalizeAddress lower-cases a hex wallet address so lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
