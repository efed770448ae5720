package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HandlePay/internal/pkg/identity"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

// IdentityController handles recipient resolution and identity linking
type IdentityController struct {
	identity *identity.Service
}

func NewIdentityController(ids *identity.Service) *IdentityController {
	return &IdentityController{identity: ids}
}

type resolveRecipientRequest struct {
	Handle string `json:"handle" validate:"required,min=3,max=255"`
}

// HandleResolveRecipient finds or provisions the user behind a handle.
// POST /v1/auth/resolve-recipient
func (ic *IdentityController) HandleResolveRecipient(c *fiber.Ctx) error {
	var req resolveRecipientRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := ic.identity.ResolveRecipient(c.UserContext(), usercontext.GetIdentity(c), req.Handle)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// HandleLinkIdentity binds the caller's external subject to a wallet.
// POST /v1/auth/link-identity
func (ic *IdentityController) HandleLinkIdentity(c *fiber.Ctx) error {
	var req identity.LinkInput
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := ic.identity.LinkExternalIdentity(c.UserContext(), usercontext.GetIdentity(c), req)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
