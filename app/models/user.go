package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User binds a human-facing handle (email, phone or opaque id) to a wallet on one chain.
type User struct {
	ID                  string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Handle              string    `gorm:"type:varchar(255);not null" json:"handle"`
	HandleKey           string    `gorm:"type:varchar(255);uniqueIndex" json:"-"`
	WalletAddress       string    `gorm:"type:varchar(64);not null" json:"wallet_address"`
	WalletKey           string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	Chain               string    `gorm:"type:varchar(50);not null" json:"chain"`
	ExternalSubject     *string   `gorm:"type:varchar(191);uniqueIndex" json:"external_subject,omitempty"`
	Custodial           bool      `gorm:"default:false" json:"custodial"`
	EncryptedPrivateKey *string   `gorm:"type:text" json:"-"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave keeps the case-insensitive lookup columns in sync.
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.HandleKey = NormalizeHandle(u.Handle)
	u.WalletKey = NormalizeAddress(u.WalletAddress)
	return nil
}

// NewUserID returns an id of the form user_<12 hex>.
func NewUserID() string {
	return "user_" + shortHex(12)
}

// NormalizeHandle is the canonical form used for handle lookups.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// NormalizeAddress lower-cases a hex address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
