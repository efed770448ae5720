package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HandlePay/internal/pkg/payments"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

// PaymentController exposes the payment intent lifecycle
type PaymentController struct {
	payments *payments.Service
}

func NewPaymentController(svc *payments.Service) *PaymentController {
	return &PaymentController{payments: svc}
}

// HandleSend rejects backend signing; clients must prepare and confirm.
// POST /v1/payments/send
func (pc *PaymentController) HandleSend(c *fiber.Ctx) error {
	return pc.payments.SendDirect(c.UserContext(), usercontext.GetIdentity(c))
}

// HandlePrepare quotes an unsigned transferWithMemo request.
// POST /v1/payments/prepare
func (pc *PaymentController) HandlePrepare(c *fiber.Ctx) error {
	var req payments.PrepareInput
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := pc.payments.Prepare(c.UserContext(), usercontext.GetIdentity(c), req)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// HandleConfirmSigned verifies a broadcast transaction and waits for settlement.
// POST /v1/payments/confirm-signed
func (pc *PaymentController) HandleConfirmSigned(c *fiber.Ctx) error {
	var req payments.ConfirmInput
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := pc.payments.Confirm(c.UserContext(), usercontext.GetIdentity(c), req)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
