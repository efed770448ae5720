package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/audit"
	"github.com/ManuelReschke/HandlePay/internal/pkg/cache"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain/chaintest"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/database"
	"github.com/ManuelReschke/HandlePay/internal/pkg/identity"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

const tokenB = "0x20c0000000000000000000000000000000000002"

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ cache.Store = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string][]byte{}}
}

func (m *memoryStore) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memoryStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fixture struct {
	svc    *Service
	repos  *repository.Repositories
	client *chaintest.Client
	store  *memoryStore
	actor  usercontext.Identity
	self   *models.User
}

func newFixture(t *testing.T, withChain bool) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	tokens, err := config.NewStablecoins([]config.Stablecoin{
		{Symbol: "AlphaUSD", Address: token, Decimals: 6},
		{Symbol: "BetaUSD", Address: tokenB, Decimals: 18},
	})
	require.NoError(t, err)
	cfg := &config.Config{
		Chain:       config.ChainConfig{Name: "tempo", FeeSponsored: true},
		Cache:       config.CacheConfig{BalanceTTL: time.Minute},
		Stablecoins: tokens,
	}

	repos := repository.NewRepositories(db)
	ids := identity.NewService(repos.User, nil, audit.NewWriter(repos.Audit), "tempo")

	f := &fixture{repos: repos, store: newMemoryStore()}
	var client chain.Client
	if withChain {
		f.client = chaintest.New()
		client = f.client
	}
	f.svc = NewService(ids, repos.Event, nil, client, cfg, f.store)
	f.svc.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(24 * time.Hour) }

	require.NoError(t, repos.User.Create(&models.User{ID: "user_bob", Handle: "bob@example.com", WalletAddress: bob, Chain: "tempo"}))
	f.actor = usercontext.Identity{Subject: "did:privy:me", Email: "me@example.com", WalletAddress: me}
	f.self, err = ids.ResolveActor(context.Background(), f.actor)
	require.NoError(t, err)
	return f
}

func (f *fixture) addEvent(t *testing.T, tx string, block uint64, from, to, raw string) {
	t.Helper()
	require.NoError(t, f.repos.Event.Upsert(&models.IndexedEvent{
		TokenAddress: token,
		TxHash:       tx,
		BlockNumber:  block,
		FromAddr:     from,
		ToAddr:       to,
		AmountRaw:    raw,
		MemoHex:      models.ZeroMemoHex,
		BlockTime:    time.Unix(1_700_000_000+int64(block), 0).UTC(),
	}))
}

func TestService_LedgerAndTransfers(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.addEvent(t, "0x01", 1, bob, me, "30000000")
	f.addEvent(t, "0x02", 2, me, bob, "10000000")
	f.addEvent(t, "0x03", 3, me, carol, "2500000")

	entries, err := f.svc.GetLedger(ctx, f.actor, f.self.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, carol, entries[0].ContactID)
	assert.Equal(t, StatusYouOwe, entries[0].Status)
	assert.Equal(t, "user_bob", entries[1].ContactID)
	assert.Equal(t, "20", entries[1].NetUSD.String())

	page, err := f.svc.GetTransfers(ctx, f.actor, f.self.ID, "")
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	assert.Equal(t, "0x03", page.Data[0].TxHash)
	assert.Nil(t, page.NextCursor)

	_, err = f.svc.GetTransfers(ctx, f.actor, f.self.ID, "nope")
	assert.True(t, apperr.Is(err, apperr.Invalid))

	spend, err := f.svc.GetWeeklySpend(ctx, f.actor, f.self.ID)
	require.NoError(t, err)
	assert.Equal(t, f.self.ID, spend.UserID)
	assert.Equal(t, 2, spend.TransactionCount)
	assert.Equal(t, "12.5", spend.TotalSpentUSD.String())
}

func TestService_RejectsOtherUsers(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.GetLedger(ctx, f.actor, "user_bob")
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	_, err = f.svc.GetWalletBalances(ctx, f.actor, "user_bob")
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	_, err = f.svc.GetTransfers(ctx, usercontext.Identity{}, f.self.ID, "")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}

func TestService_WalletBalances(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.client.SetBalance(token, me, big.NewInt(12_345_678))
	oneAndHalf, _ := new(big.Int).SetString("1500000000000000000", 10)
	f.client.SetBalance(tokenB, me, oneAndHalf)

	got, err := f.svc.GetWalletBalances(ctx, f.actor, f.self.ID)
	require.NoError(t, err)
	require.Len(t, got.Balances, 2)
	assert.Equal(t, "AlphaUSD", got.Balances[0].Asset)
	assert.Equal(t, "12.345678", got.Balances[0].Amount.String())
	assert.Equal(t, "12.35", got.Balances[0].USDValue.String())
	assert.Equal(t, "1.5", got.Balances[1].Amount.String())
	assert.Equal(t, "13.85", got.TotalUSD.String())
	assert.Equal(t, 2, f.client.BalanceCalls)

	// second read is served from the cache
	again, err := f.svc.GetWalletBalances(ctx, f.actor, f.self.ID)
	require.NoError(t, err)
	assert.Equal(t, "13.85", again.TotalUSD.String())
	assert.Equal(t, 2, f.client.BalanceCalls)

	f.svc.InvalidateBalances(ctx, me)
	_, err = f.svc.GetWalletBalances(ctx, f.actor, f.self.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, f.client.BalanceCalls)
}

func TestService_WalletBalancesErrors(t *testing.T) {
	ctx := context.Background()

	noChain := newFixture(t, false)
	_, err := noChain.svc.GetWalletBalances(ctx, noChain.actor, noChain.self.ID)
	assert.True(t, apperr.Is(err, apperr.ChainUnavailable))

	f := newFixture(t, true)
	f.client.BalanceErr = errors.New("rpc down")
	_, err = f.svc.GetWalletBalances(ctx, f.actor, f.self.ID)
	assert.True(t, apperr.Is(err, apperr.ChainUnavailable))
}
