package usercontext

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Identity is the authenticated principal supplied by the auth layer
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Role          string `json:"role,omitempty"`
	IsAdmin       bool   `json:"is_admin"`
}

// IsAuthenticated reports whether a subject is present
func (i Identity) IsAuthenticated() bool {
	return strings.TrimSpace(i.Subject) != ""
}

// SetIdentity stores the identity for the rest of the request
func SetIdentity(c *fiber.Ctx, id Identity) {
	c.Locals(KeyIdentity, id)
}

// GetIdentity retrieves the identity from fiber context
// Returns an anonymous identity if none is set
func GetIdentity(c *fiber.Ctx) Identity {
	if id, ok := c.Locals(KeyIdentity).(Identity); ok {
		return id
	}
	return Identity{}
}

// IsAdmin checks if the current principal is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetIdentity(c).IsAdmin
}

// GetSubject returns the current subject, or empty string if anonymous
func GetSubject(c *fiber.Ctx) string {
	return GetIdentity(c).Subject
}
