package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/audit"
	"github.com/ManuelReschke/HandlePay/internal/pkg/indexer"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

// AdminController exposes indexer operations to admins
type AdminController struct {
	indexer *indexer.Indexer
	audit   *audit.Writer
}

func NewAdminController(ix *indexer.Indexer, auditWriter *audit.Writer) *AdminController {
	return &AdminController{indexer: ix, audit: auditWriter}
}

// HandleIndexerSync runs one indexer pass now.
// POST /v1/admin/indexer/sync
func (ac *AdminController) HandleIndexerSync(c *fiber.Ctx) error {
	if ac.indexer == nil || !ac.indexer.Enabled() {
		return apperr.ChainUnavailableErr("Indexer is disabled or CHAIN_RPC_URL is not configured", indexer.ErrNoChain)
	}
	res, err := ac.indexer.Sync(c.UserContext())
	if err != nil {
		return apperr.ChainUnavailableErr("Indexer sync failed", err)
	}
	ac.audit.Record(c.UserContext(), usercontext.GetSubject(c), "force_indexer_sync", "indexer", res)
	return c.JSON(res)
}

// HandleTransferWebhook ingests a transfer event pushed by a trusted caller.
// POST /v1/webhooks/transfer
func (ac *AdminController) HandleTransferWebhook(c *fiber.Ctx) error {
	var req indexer.ExternalTransfer
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := ac.indexer.Ingest(c.UserContext(), req)
	if err != nil {
		return err
	}
	ac.audit.Record(c.UserContext(), usercontext.GetSubject(c), "ingest_transfer_webhook", req.TxHash, map[string]any{
		"tokenAddress": req.TokenAddress,
		"logIndex":     req.LogIndex,
		"deduplicated": res.Deduplicated,
	})
	return c.JSON(res)
}
