// Package indexer follows the configured TIP-20 contracts and stores every
// TransferWithMemo log behind a rewindable block watermark.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/metrics"
)

const ReasonSyncInProgress = "sync_in_progress"

// ErrNoChain is returned when no RPC endpoint is configured.
var ErrNoChain = errors.New("chain rpc is not configured")

// SyncResult is the outcome of one run.
type SyncResult struct {
	Synced          bool   `json:"synced"`
	Reason          string `json:"reason,omitempty"`
	NewEvents       int    `json:"newEvents"`
	LastSyncedBlock int64  `json:"lastSyncedBlock"`
}

// ExternalTransfer is an out-of-band event pushed by a trusted caller.
type ExternalTransfer struct {
	TokenAddress string `json:"tokenAddress" validate:"required,eth_addr"`
	TxHash       string `json:"txHash" validate:"required,startswith=0x"`
	BlockNumber  uint64 `json:"blockNumber"`
	LogIndex     uint   `json:"logIndex"`
	From         string `json:"from" validate:"required,eth_addr"`
	To           string `json:"to" validate:"required,eth_addr"`
	Amount       string `json:"amount" validate:"required,numeric"`
	MemoHex      string `json:"memoHex"`
}

// IngestResult reports whether an injected event was new.
type IngestResult struct {
	Accepted     bool `json:"accepted"`
	Deduplicated bool `json:"deduplicated"`
}

// Indexer owns the watermark. One instance must drive one store.
type Indexer struct {
	chain  chain.Client
	events repository.EventRepository
	state  repository.IndexerStateRepository
	tokens *config.Stablecoins
	cfg    config.IndexerConfig
	name   string
	now    func() time.Time

	running atomic.Bool
}

func New(client chain.Client, repos *repository.Repositories, tokens *config.Stablecoins, cfg config.IndexerConfig, chainName string) *Indexer {
	return &Indexer{
		chain:  client,
		events: repos.Event,
		state:  repos.IndexerState,
		tokens: tokens,
		cfg:    cfg,
		name:   chainName,
		now:    time.Now,
	}
}

// Init seeds the watermark one block before the configured start.
func (ix *Indexer) Init() error {
	return ix.state.Ensure(ix.cfg.StartBlock - 1)
}

// Enabled reports whether background syncing can run at all.
func (ix *Indexer) Enabled() bool {
	return ix.cfg.Enabled && ix.chain != nil
}

// Sync scans from the rewound watermark to the confirmed height. A run that finds
// another one in flight returns immediately with Reason sync_in_progress.
func (ix *Indexer) Sync(ctx context.Context) (SyncResult, error) {
	if ix.chain == nil {
		return SyncResult{}, ErrNoChain
	}
	if !ix.running.CompareAndSwap(false, true) {
		metrics.IncIndexerRun("skipped")
		return SyncResult{Synced: false, Reason: ReasonSyncInProgress}, nil
	}
	defer ix.running.Store(false)

	res, err := ix.sync(ctx)
	if err != nil {
		metrics.IncIndexerRun("failed")
		return res, err
	}
	metrics.IncIndexerRun("synced")
	return res, nil
}

func (ix *Indexer) sync(ctx context.Context) (SyncResult, error) {
	latest, err := ix.chain.CurrentHeight(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("current height: %w", err)
	}
	confirmed := int64(latest) - ix.cfg.Confirmations

	watermark, err := ix.state.LastSyncedBlock()
	if err != nil {
		return SyncResult{}, fmt.Errorf("read watermark: %w", err)
	}
	metrics.SetIndexerLag(ix.name, confirmed-watermark)

	if confirmed < ix.cfg.StartBlock {
		return SyncResult{Synced: true, LastSyncedBlock: watermark}, nil
	}

	from := max(ix.cfg.StartBlock, watermark-ix.cfg.ReorgWindow)
	timestamps := make(map[uint64]time.Time)
	newEvents := 0

	for from <= confirmed {
		to := min(from+ix.cfg.MaxLogRange-1, confirmed)

		for _, token := range ix.tokens.All() {
			logs, err := ix.chain.QueryTransferLogs(ctx, token.Address, uint64(from), uint64(to))
			if err != nil {
				return SyncResult{Synced: false, NewEvents: newEvents, LastSyncedBlock: watermark}, err
			}
			for _, l := range logs {
				blockTime, err := ix.blockTime(ctx, timestamps, l.BlockNumber)
				if err != nil {
					return SyncResult{Synced: false, NewEvents: newEvents, LastSyncedBlock: watermark}, err
				}
				if err := ix.events.Upsert(toEvent(token.Address, l, blockTime)); err != nil {
					return SyncResult{Synced: false, NewEvents: newEvents, LastSyncedBlock: watermark}, fmt.Errorf("store event %s#%d: %w", l.TxHash, l.LogIndex, err)
				}
				newEvents++
			}
		}

		if err := ix.state.Advance(to); err != nil {
			return SyncResult{Synced: false, NewEvents: newEvents, LastSyncedBlock: watermark}, fmt.Errorf("advance watermark to %d: %w", to, err)
		}
		watermark = to
		from = to + 1
	}

	if newEvents > 0 {
		log.Infof("[Indexer] Synced to block %d (%d events)", watermark, newEvents)
	} else {
		log.Debugf("[Indexer] Synced to block %d", watermark)
	}
	return SyncResult{Synced: true, NewEvents: newEvents, LastSyncedBlock: watermark}, nil
}

func (ix *Indexer) blockTime(ctx context.Context, cache map[uint64]time.Time, block uint64) (time.Time, error) {
	if ts, ok := cache[block]; ok {
		return ts, nil
	}
	ts, err := ix.chain.BlockTimestamp(ctx, block)
	if err != nil {
		return time.Time{}, fmt.Errorf("block %d timestamp: %w", block, err)
	}
	cache[block] = ts
	return ts, nil
}

func toEvent(tokenAddress string, l chain.TransferLog, blockTime time.Time) *models.IndexedEvent {
	return &models.IndexedEvent{
		TokenAddress: strings.ToLower(tokenAddress),
		TxHash:       strings.ToLower(l.TxHash),
		LogIndex:     l.LogIndex,
		BlockNumber:  l.BlockNumber,
		BlockHash:    strings.ToLower(l.BlockHash),
		FromAddr:     strings.ToLower(l.From),
		ToAddr:       strings.ToLower(l.To),
		AmountRaw:    l.Amount.String(),
		MemoHex:      chain.MemoHex(l.Memo),
		BlockTime:    blockTime,
	}
}

// Ingest stores an externally observed transfer under the same composite key the
// scanner uses. An existing row is never overwritten.
func (ix *Indexer) Ingest(ctx context.Context, in ExternalTransfer) (IngestResult, error) {
	memoHex := models.ZeroMemoHex
	if memo, err := chain.ParseMemoHex(in.MemoHex); err == nil {
		memoHex = chain.MemoHex(memo)
	}
	if _, err := chain.ParseUnits(in.Amount); err != nil {
		return IngestResult{}, apperr.InvalidErr("amount must be a base-10 integer")
	}

	created, err := ix.events.InsertIfNotExists(&models.IndexedEvent{
		TokenAddress: strings.ToLower(in.TokenAddress),
		TxHash:       strings.ToLower(in.TxHash),
		LogIndex:     in.LogIndex,
		BlockNumber:  in.BlockNumber,
		FromAddr:     strings.ToLower(in.From),
		ToAddr:       strings.ToLower(in.To),
		AmountRaw:    strings.TrimSpace(in.Amount),
		MemoHex:      memoHex,
		BlockTime:    ix.now().UTC(),
	})
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Accepted: true, Deduplicated: !created}, nil
}
