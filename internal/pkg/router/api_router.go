package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/HandlePay/app/controllers"
	"github.com/ManuelReschke/HandlePay/internal/pkg/bootstrap"
	"github.com/ManuelReschke/HandlePay/internal/pkg/cache"
	"github.com/ManuelReschke/HandlePay/internal/pkg/constants"
	"github.com/ManuelReschke/HandlePay/internal/pkg/middleware"
)

type ApiRouter struct {
	c *bootstrap.Container
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	cfg := h.c.Config

	v1 := app.Group(constants.APIPrefix,
		cors.New(cors.Config{
			AllowOrigins: cfg.App.CORSOrigins,
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: strings.Join([]string{
				fiber.HeaderContentType,
				fiber.HeaderAuthorization,
				middleware.HeaderDevUserID,
				middleware.HeaderDevEmail,
				middleware.HeaderDevPhone,
				middleware.HeaderDevWallet,
				middleware.HeaderDevRole,
			}, ","),
			AllowCredentials: cfg.App.CORSOrigins != "*",
		}),
		newLimiter(cfg.App.RateLimit),
		middleware.Authenticate(cfg.Auth),
	)

	identityCtl := controllers.NewIdentityController(h.c.Identity)
	paymentCtl := controllers.NewPaymentController(h.c.Payments)
	ledgerCtl := controllers.NewLedgerController(h.c.Ledger)
	notificationCtl := controllers.NewNotificationController(h.c.Identity, h.c.Queue)
	adminCtl := controllers.NewAdminController(h.c.Indexer, h.c.Audit)

	// Identity
	v1.Post(constants.ResolveRecipientRoute, identityCtl.HandleResolveRecipient)
	v1.Post(constants.LinkIdentityRoute, identityCtl.HandleLinkIdentity)

	// Payments
	v1.Post(constants.SendRoute, paymentCtl.HandleSend)
	v1.Post(constants.PrepareRoute, paymentCtl.HandlePrepare)
	v1.Post(constants.ConfirmSignedRoute, paymentCtl.HandleConfirmSigned)

	// Read models
	v1.Get(constants.ContactsLedgerRoute, ledgerCtl.HandleContactsLedger)
	v1.Get(constants.WalletBalancesRoute, ledgerCtl.HandleWalletBalances)
	v1.Get(constants.TransfersRoute, ledgerCtl.HandleTransfers)
	v1.Get(constants.WeeklySpendRoute, ledgerCtl.HandleWeeklySpend)
	v1.Get(constants.DeliveriesRoute, notificationCtl.HandleDeliveries)

	// Admin
	v1.Post(constants.IndexerSyncRoute, middleware.RequireAdmin, adminCtl.HandleIndexerSync)
	v1.Post(constants.TransferWebhookRoute, middleware.RequireAdmin, adminCtl.HandleTransferWebhook)
}

// newLimiter keys on client IP; counters live in Redis when a cache is configured.
func newLimiter(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		Storage:    cache.LimiterStorage(),
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.ErrTooManyRequests
		},
	})
}

func NewApiRouter(c *bootstrap.Container) *ApiRouter {
	return &ApiRouter{c: c}
}
