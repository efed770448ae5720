// Package bootstrap wires configuration, store, chain client and services into
// one Container shared by the HTTP server and the CLI commands.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/audit"
	"github.com/ManuelReschke/HandlePay/internal/pkg/cache"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/database"
	"github.com/ManuelReschke/HandlePay/internal/pkg/identity"
	"github.com/ManuelReschke/HandlePay/internal/pkg/indexer"
	"github.com/ManuelReschke/HandlePay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/HandlePay/internal/pkg/keyvault"
	"github.com/ManuelReschke/HandlePay/internal/pkg/ledger"
	"github.com/ManuelReschke/HandlePay/internal/pkg/metrics"
	"github.com/ManuelReschke/HandlePay/internal/pkg/notify"
	"github.com/ManuelReschke/HandlePay/internal/pkg/payments"
)

// Container holds every long-lived collaborator of the process.
type Container struct {
	Config   *config.Config
	DB       *gorm.DB
	Repos    *repository.Repositories
	Chain    chain.Client
	Audit    *audit.Writer
	Identity *identity.Service
	Indexer  *indexer.Indexer
	Queue    *notify.Queue
	Ledger   *ledger.Service
	Payments *payments.Service
	Manager  *jobqueue.Manager

	closeChain func()
}

// Open connects the store, the chain RPC and the optional cache, then builds the
// services. A missing or unreachable RPC endpoint leaves Chain nil; chain
// operations then report ChainUnavailable.
func Open(ctx context.Context, cfg *config.Config) (*Container, error) {
	metrics.Register()

	database.SetupDatabase(cfg.DB)
	db := database.GetDB()

	var client chain.Client
	closeChain := func() {}
	if cfg.Chain.RPCURL != "" {
		rpcClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.RPCTimeout)
		if err != nil {
			log.Warnf("[Bootstrap] Chain RPC unavailable: %v", err)
		} else {
			client = rpcClient
			closeChain = rpcClient.Close
		}
	} else {
		log.Warn("[Bootstrap] CHAIN_RPC_URL not set, onchain operations are disabled")
	}

	var store cache.Store
	if cache.SetupCache(cfg.Cache) {
		store = cache.NewRedisStore(cache.GetClient(), "handlepay:")
	}

	c, err := Build(cfg, db, client, store)
	if err != nil {
		closeChain()
		return nil, err
	}
	c.closeChain = closeChain
	return c, nil
}

// Build assembles the services on top of already opened dependencies. client and
// store may be nil.
func Build(cfg *config.Config, db *gorm.DB, client chain.Client, store cache.Store) (*Container, error) {
	repos := repository.NewRepositories(db)
	auditWriter := audit.NewWriter(repos.Audit)

	var vault keyvault.Vault
	if cfg.Custody.EncryptionSecret != "" {
		v, err := keyvault.New(cfg.Custody.EncryptionSecret)
		if err != nil {
			return nil, fmt.Errorf("key vault: %w", err)
		}
		vault = v
	}

	ids := identity.NewService(repos.User, vault, auditWriter, cfg.Chain.Name)
	if err := ids.SeedOwner(cfg.Custody); err != nil {
		log.Warnf("[Bootstrap] Could not seed owner user: %v", err)
	}

	ix := indexer.New(client, repos, cfg.Stablecoins, cfg.Indexer, cfg.Chain.Name)
	if err := ix.Init(); err != nil {
		return nil, fmt.Errorf("indexer state: %w", err)
	}

	provider, err := notify.NewProvider(cfg.Notify)
	if err != nil {
		return nil, err
	}
	queue := notify.NewQueue(repos.Notification, provider, cfg.Notify)

	ledgerSvc := ledger.NewService(ids, repos.Event, ix, client, cfg, store)
	paymentSvc := payments.NewService(payments.Deps{
		Identity: ids,
		Payments: repos.Payment,
		Chain:    client,
		Tokens:   cfg.Stablecoins,
		Indexer:  ix,
		Queue:    queue,
		Audit:    auditWriter,
		Balances: ledgerSvc,
		ChainCfg: cfg.Chain,
	})

	manager := jobqueue.NewManager(ix, queue, jobqueue.Intervals{
		IndexerSync:    cfg.Indexer.Interval,
		NotifyDispatch: cfg.Notify.WorkerInterval,
	})

	return &Container{
		Config:     cfg,
		DB:         db,
		Repos:      repos,
		Chain:      client,
		Audit:      auditWriter,
		Identity:   ids,
		Indexer:    ix,
		Queue:      queue,
		Ledger:     ledgerSvc,
		Payments:   paymentSvc,
		Manager:    manager,
		closeChain: func() {},
	}, nil
}

// Close stops background work and releases the chain connection.
func (c *Container) Close() {
	c.Manager.Stop()
	if c.closeChain != nil {
		c.closeChain()
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
