package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/cache"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/identity"
	"github.com/ManuelReschke/HandlePay/internal/pkg/indexer"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

// Balance is one token position of a wallet.
type Balance struct {
	Asset        string          `json:"asset"`
	Amount       decimal.Decimal `json:"amount"`
	USDValue     decimal.Decimal `json:"usdValue"`
	TokenAddress string          `json:"tokenAddress"`
}

type WalletBalances struct {
	UserID        string          `json:"userId"`
	WalletAddress string          `json:"walletAddress"`
	Balances      []Balance       `json:"balances"`
	TotalUSD      decimal.Decimal `json:"totalUsd"`
}

type WeeklySpendView struct {
	UserID        string `json:"userId"`
	WalletAddress string `json:"walletAddress"`
	Spend
}

// Service serves the read models to authenticated callers.
type Service struct {
	identity  *identity.Service
	events    repository.EventRepository
	indexer   *indexer.Indexer
	chain     chain.Client
	tokens    *config.Stablecoins
	cache     cache.Store
	cacheTTL  time.Duration
	projector Projector
	now       func() time.Time
}

func NewService(
	ids *identity.Service,
	events repository.EventRepository,
	ix *indexer.Indexer,
	client chain.Client,
	cfg *config.Config,
	store cache.Store,
) *Service {
	return &Service{
		identity: ids,
		events:   events,
		indexer:  ix,
		chain:    client,
		tokens:   cfg.Stablecoins,
		cache:    store,
		cacheTTL: cfg.Cache.BalanceTTL,
		projector: Projector{
			Tokens:       cfg.Stablecoins,
			Directory:    ids,
			ChainName:    cfg.Chain.Name,
			SponsoredFee: cfg.Chain.FeeSponsored,
		},
		now: time.Now,
	}
}

// userTransfers refreshes the index best-effort and projects the owner's events.
func (s *Service) userTransfers(ctx context.Context, owner *models.User) ([]Transfer, error) {
	if s.indexer != nil && s.indexer.Enabled() {
		if _, err := s.indexer.Sync(ctx); err != nil {
			log.Warnf("[Ledger] Inline indexer sync failed: %v", err)
		}
	}
	events, err := s.events.ListByWallet(owner.WalletAddress)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return s.projector.Transfers(owner.WalletAddress, events), nil
}

func (s *Service) GetLedger(ctx context.Context, actor usercontext.Identity, userID string) ([]LedgerEntry, error) {
	owner, err := s.identity.AccessibleUser(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	transfers, err := s.userTransfers(ctx, owner)
	if err != nil {
		return nil, err
	}
	return NetLedger(transfers, s.projector.Directory), nil
}

func (s *Service) GetTransfers(ctx context.Context, actor usercontext.Identity, userID, cursor string) (Page, error) {
	owner, err := s.identity.AccessibleUser(ctx, actor, userID)
	if err != nil {
		return Page{}, err
	}
	transfers, err := s.userTransfers(ctx, owner)
	if err != nil {
		return Page{}, err
	}
	return Paginate(transfers, cursor, PageSize)
}

func (s *Service) GetWeeklySpend(ctx context.Context, actor usercontext.Identity, userID string) (*WeeklySpendView, error) {
	owner, err := s.identity.AccessibleUser(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	transfers, err := s.userTransfers(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &WeeklySpendView{
		UserID:        owner.ID,
		WalletAddress: owner.WalletAddress,
		Spend:         WeeklySpend(transfers, s.now()),
	}, nil
}

// GetWalletBalances reads balanceOf for every configured token. Results are cached
// briefly when a cache store is configured.
func (s *Service) GetWalletBalances(ctx context.Context, actor usercontext.Identity, userID string) (*WalletBalances, error) {
	if s.chain == nil {
		return nil, apperr.ChainUnavailableErr("Chain RPC is required for onchain integration", indexer.ErrNoChain)
	}
	owner, err := s.identity.AccessibleUser(ctx, actor, userID)
	if err != nil {
		return nil, err
	}

	key := "balances:" + models.NormalizeAddress(owner.WalletAddress)
	if s.cache != nil {
		var cached WalletBalances
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			log.Warnf("[Ledger] Balance cache read failed: %v", err)
		}
		if hit {
			cached.UserID = owner.ID
			return &cached, nil
		}
	}

	tokens := s.tokens.All()
	balances := make([]Balance, len(tokens))
	errs := make([]error, len(tokens))
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token config.Stablecoin) {
			defer wg.Done()
			raw, err := s.chain.BalanceOf(ctx, token.Address, owner.WalletAddress)
			if err != nil {
				errs[i] = err
				return
			}
			amount := chain.UnitsToUSD(raw, token.Decimals)
			balances[i] = Balance{
				Asset:        token.Symbol,
				Amount:       amount.Round(6),
				USDValue:     amount.Round(2),
				TokenAddress: token.Address,
			}
		}(i, token)
	}
	wg.Wait()

	total := decimal.Zero
	for i := range balances {
		if errs[i] != nil {
			return nil, apperr.ChainUnavailableErr("Unable to read wallet balance", errs[i])
		}
		total = total.Add(balances[i].USDValue)
	}

	out := &WalletBalances{
		UserID:        owner.ID,
		WalletAddress: owner.WalletAddress,
		Balances:      balances,
		TotalUSD:      total.Round(2),
	}
	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetJSON(ctx, key, out, s.cacheTTL); err != nil {
			log.Warnf("[Ledger] Balance cache write failed: %v", err)
		}
	}
	return out, nil
}

// InvalidateBalances drops cached balances after a settlement touches the wallet.
func (s *Service) InvalidateBalances(ctx context.Context, wallets ...string) {
	if s.cache == nil {
		return
	}
	for _, w := range wallets {
		if err := s.cache.Delete(ctx, "balances:"+models.NormalizeAddress(w)); err != nil {
			log.Warnf("[Ledger] Balance cache invalidation failed: %v", err)
		}
	}
}
