package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HandlePay/internal/pkg/ledger"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

// LedgerController serves the read models derived from indexed transfers
type LedgerController struct {
	ledger *ledger.Service
}

func NewLedgerController(svc *ledger.Service) *LedgerController {
	return &LedgerController{ledger: svc}
}

// HandleContactsLedger returns net positions per counterparty.
// GET /v1/contacts/ledger?userId=
func (lc *LedgerController) HandleContactsLedger(c *fiber.Ctx) error {
	userID, err := requiredQuery(c, "userId")
	if err != nil {
		return err
	}
	entries, err := lc.ledger.GetLedger(c.UserContext(), usercontext.GetIdentity(c), userID)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

// HandleWalletBalances returns onchain balances per configured stablecoin.
// GET /v1/wallet/balances?userId=
func (lc *LedgerController) HandleWalletBalances(c *fiber.Ctx) error {
	userID, err := requiredQuery(c, "userId")
	if err != nil {
		return err
	}
	balances, err := lc.ledger.GetWalletBalances(c.UserContext(), usercontext.GetIdentity(c), userID)
	if err != nil {
		return err
	}
	return c.JSON(balances)
}

// HandleTransfers pages the wallet history, newest first.
// GET /v1/transfers?userId=&cursor=
func (lc *LedgerController) HandleTransfers(c *fiber.Ctx) error {
	userID, err := requiredQuery(c, "userId")
	if err != nil {
		return err
	}
	page, err := lc.ledger.GetTransfers(c.UserContext(), usercontext.GetIdentity(c), userID, c.Query("cursor"))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// HandleWeeklySpend summarises the trailing seven days of outgoing transfers.
// GET /v1/insights/weekly-spend?userId=
func (lc *LedgerController) HandleWeeklySpend(c *fiber.Ctx) error {
	userID, err := requiredQuery(c, "userId")
	if err != nil {
		return err
	}
	spend, err := lc.ledger.GetWeeklySpend(c.UserContext(), usercontext.GetIdentity(c), userID)
	if err != nil {
		return err
	}
	return c.JSON(spend)
}
