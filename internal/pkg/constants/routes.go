package constants

// Route constants shared by the router and the OpenAPI document
const (
	HealthRoute  = "/health"
	MetricsRoute = "/metrics"
	DocsRoute    = "/docs/api/"
	APIPrefix    = "/v1"

	ResolveRecipientRoute = "/auth/resolve-recipient"
	LinkIdentityRoute     = "/auth/link-identity"

	SendRoute          = "/payments/send"
	PrepareRoute       = "/payments/prepare"
	ConfirmSignedRoute = "/payments/confirm-signed"

	ContactsLedgerRoute = "/contacts/ledger"
	WalletBalancesRoute = "/wallet/balances"
	TransfersRoute      = "/transfers"
	WeeklySpendRoute    = "/insights/weekly-spend"
	DeliveriesRoute     = "/notifications/deliveries"

	IndexerSyncRoute     = "/admin/indexer/sync"
	TransferWebhookRoute = "/webhooks/transfer"
)
