package controllers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/identity"
	"github.com/ManuelReschke/HandlePay/internal/pkg/notify"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

// NotificationController lists notification deliveries
type NotificationController struct {
	identity *identity.Service
	queue    *notify.Queue
}

func NewNotificationController(ids *identity.Service, queue *notify.Queue) *NotificationController {
	return &NotificationController{identity: ids, queue: queue}
}

// HandleDeliveries pages a user's notifications, optionally for one payment.
// GET /v1/notifications/deliveries?userId=&paymentId=&cursor=&limit=
func (nc *NotificationController) HandleDeliveries(c *fiber.Ctx) error {
	userID, err := requiredQuery(c, "userId")
	if err != nil {
		return err
	}
	query := notify.DeliveryQuery{
		PaymentID: strings.TrimSpace(c.Query("paymentId")),
		Cursor:    c.Query("cursor"),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > notify.MaxDeliveriesLimit {
			return apperr.InvalidErrf("limit must be between 1 and %d", notify.MaxDeliveriesLimit)
		}
		query.Limit = limit
	}

	owner, err := nc.identity.AccessibleUser(c.UserContext(), usercontext.GetIdentity(c), userID)
	if err != nil {
		return err
	}
	page, err := nc.queue.Deliveries(c.UserContext(), owner.ID, query)
	if err != nil {
		return err
	}
	return c.JSON(page)
}
