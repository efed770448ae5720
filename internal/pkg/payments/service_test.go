package payments

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/audit"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain/chaintest"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/database"
	"github.com/ManuelReschke/HandlePay/internal/pkg/identity"
	"github.com/ManuelReschke/HandlePay/internal/pkg/keyvault"
	"github.com/ManuelReschke/HandlePay/internal/pkg/notify"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

type invalidations struct {
	mu      sync.Mutex
	wallets []string
}

func (i *invalidations) InvalidateBalances(_ context.Context, wallets ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.wallets = append(i.wallets, wallets...)
}

// racingPayments lets a competing confirm win right before MarkSubmitted runs,
// and can hide an intent from the first idempotency lookups as if a concurrent
// prepare inserted it just after.
type racingPayments struct {
	repository.PaymentRepository
	competitor   string
	staleLookups int
	lookups      int
}

func (r *racingPayments) FindByIdempotencyKey(key, senderID string) (*models.PaymentIntent, error) {
	r.lookups++
	if r.staleLookups > 0 {
		r.staleLookups--
		return nil, gorm.ErrRecordNotFound
	}
	return r.PaymentRepository.FindByIdempotencyKey(key, senderID)
}

func (r *racingPayments) MarkSubmitted(id, txHash string) (bool, error) {
	if r.competitor != "" {
		if _, err := r.PaymentRepository.MarkSubmitted(id, r.competitor); err != nil {
			return false, err
		}
	}
	return r.PaymentRepository.MarkSubmitted(id, txHash)
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	repos    *repository.Repositories
	client   *chaintest.Client
	payments *racingPayments
	balances *invalidations
	actor    usercontext.Identity
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

	tokens, err := config.NewStablecoins([]config.Stablecoin{{Symbol: "AlphaUSD", Address: tokenAddr, Decimals: 6}})
	require.NoError(t, err)
	vault, err := keyvault.New("payments-test-secret")
	require.NoError(t, err)

	repos := repository.NewRepositories(db)
	auditWriter := audit.NewWriter(repos.Audit)
	ids := identity.NewService(repos.User, vault, auditWriter, "tempo")
	queue := notify.NewQueue(repos.Notification, nil, config.NotifyConfig{Enabled: true, RetryMax: 3, RetryBase: time.Second, BatchSize: 10})

	f := &fixture{
		db:       db,
		repos:    repos,
		payments: &racingPayments{PaymentRepository: repos.Payment},
		balances: &invalidations{},
		actor:    usercontext.Identity{Subject: "did:privy:alice", Email: "alice@example.com", WalletAddress: aliceWallet},
	}
	deps := Deps{
		Identity: ids,
		Payments: f.payments,
		Tokens:   tokens,
		Queue:    queue,
		Audit:    auditWriter,
		Balances: f.balances,
		ChainCfg: config.ChainConfig{ChainID: 42431, Name: "tempo", FeeSponsored: true, ReceiptTimeout: 50 * time.Millisecond},
	}
	if withChain {
		f.client = chaintest.New()
		deps.Chain = f.client
	}
	f.svc = NewService(deps)

	require.NoError(t, repos.User.Create(&models.User{ID: "user_bob", Handle: "bob@example.com", WalletAddress: bobWallet, Chain: "tempo"}))
	return f
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func tenDollars(key string) PrepareInput {
	return PrepareInput{
		RecipientHandle: "bob@example.com",
		AmountUSD:       decimal.NewFromInt(10),
		Stablecoin:      "AlphaUSD",
		Memo:            "lunch",
		IdempotencyKey:  key,
	}
}

// broadcast registers the signed form of a prepared request on the fake chain.
func (f *fixture) broadcast(t *testing.T, res *PrepareResult, hash string, success *bool) {
	t.Helper()
	data, err := hexutil.Decode(res.TxRequest.Data)
	require.NoError(t, err)
	tx := &chain.Transaction{Hash: hash, From: aliceWallet, To: res.TxRequest.To, Input: data, Value: big.NewInt(0)}
	var receipt *chain.Receipt
	if success != nil {
		receipt = &chain.Receipt{TxHash: hash, BlockNumber: 100, Success: *success}
	}
	f.client.AddTx(tx, receipt)
}

func ptr[T any](v T) *T { return &v }

func TestPrepare(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
	require.NoError(t, err)
	assert.Regexp(t, `^pay_\d+_[0-9a-f]{6}$`, res.PaymentID)
	assert.Equal(t, "user_bob", res.RecipientUserID)
	assert.Equal(t, models.PaymentStatusInitiated, res.Status)

	req := res.TxRequest
	assert.Equal(t, tokenAddr, req.To)
	assert.Equal(t, "0x0", req.Value)
	assert.Equal(t, int64(42431), req.ChainID)
	assert.Equal(t, "21000", req.GasLimit)
	assert.Equal(t, "10000000", req.AmountUnits)
	assert.Equal(t, "AlphaUSD", req.Stablecoin)

	data, err := hexutil.Decode(req.Data)
	require.NoError(t, err)
	call, err := chain.DecodeTransferWithMemo(data)
	require.NoError(t, err)
	assert.Equal(t, bobWallet, call.To)
	assert.Equal(t, "10000000", call.Amount.String())
	assert.Equal(t, req.MemoHex, call.MemoHex())

	stored, err := f.repos.Payment.GetByID(res.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, stored.Memo)
	assert.Equal(t, "lunch", *stored.Memo)
	assert.True(t, stored.SponsoredFee)
	assert.Equal(t, "tempo", stored.Chain)
}

func TestPrepare_Idempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.svc.Prepare(ctx, f.actor, tenDollars("abc123"))
	require.NoError(t, err)

	changed := tenDollars("abc123")
	changed.AmountUSD = decimal.NewFromInt(99)
	changed.RecipientHandle = "someone-else@example.com"
	second, err := f.svc.Prepare(ctx, f.actor, changed)
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.TxRequest, second.TxRequest, "the stored intent is replayed unchanged")

	_, err = f.repos.User.FindByHandle("someone-else@example.com")
	assert.True(t, repository.IsNotFound(err), "replay provisions nobody")
}

func TestPrepare_ConcurrentInsertReturnsWinner(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	winner, err := f.svc.Prepare(ctx, f.actor, tenDollars("abc123"))
	require.NoError(t, err)

	// the second prepare misses the row in its lookup and then hits the unique index
	f.payments.staleLookups = 1
	f.payments.lookups = 0
	loser, err := f.svc.Prepare(ctx, f.actor, tenDollars("abc123"))
	require.NoError(t, err)

	assert.Equal(t, winner.PaymentID, loser.PaymentID)
	assert.Equal(t, winner.TxRequest, loser.TxRequest)
	assert.Equal(t, 2, f.payments.lookups, "the winner is re-read after the duplicate insert")

	var count int64
	require.NoError(t, f.db.Model(&models.PaymentIntent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPrepare_ProvisionsRecipient(t *testing.T) {
	f := newFixture(t, true)
	in := tenDollars("idem-new")
	in.RecipientHandle = "carol@example.com"

	res, err := f.svc.Prepare(context.Background(), f.actor, in)
	require.NoError(t, err)

	carol, err := f.repos.User.FindByHandle("carol@example.com")
	require.NoError(t, err)
	assert.True(t, carol.Custodial)
	assert.Equal(t, carol.ID, res.RecipientUserID)
}

func TestPrepare_GasFallback(t *testing.T) {
	f := newFixture(t, true)
	f.client.GasErr = errors.New("execution reverted")

	res, err := f.svc.Prepare(context.Background(), f.actor, tenDollars("idem-gas"))
	require.NoError(t, err)
	assert.Equal(t, "300000", res.TxRequest.GasLimit)
}

func TestPrepare_Rejects(t *testing.T) {
	ctx := context.Background()

	t.Run("no chain", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.svc.Prepare(ctx, f.actor, tenDollars("k"))
		assert.True(t, apperr.Is(err, apperr.ChainUnavailable))
	})

	tests := []struct {
		name   string
		actor  *usercontext.Identity
		mutate func(in *PrepareInput)
		kind   apperr.Kind
	}{
		{name: "anonymous", actor: &usercontext.Identity{}, mutate: func(in *PrepareInput) {}, kind: apperr.Unauthorized},
		{name: "blank key", mutate: func(in *PrepareInput) { in.IdempotencyKey = "  " }, kind: apperr.Invalid},
		{name: "unknown stablecoin", mutate: func(in *PrepareInput) { in.Stablecoin = "EURC" }, kind: apperr.Invalid},
		{name: "zero amount", mutate: func(in *PrepareInput) { in.AmountUSD = decimal.Zero }, kind: apperr.Invalid},
		{name: "negative amount", mutate: func(in *PrepareInput) { in.AmountUSD = decimal.NewFromInt(-5) }, kind: apperr.Invalid},
		{name: "dust amount", mutate: func(in *PrepareInput) { in.AmountUSD = decimal.RequireFromString("0.0000001") }, kind: apperr.Invalid},
		{name: "memo too long", mutate: func(in *PrepareInput) { in.Memo = "this memo is definitely longer than 32 bytes" }, kind: apperr.Invalid},
		{name: "blank recipient", mutate: func(in *PrepareInput) { in.RecipientHandle = " " }, kind: apperr.Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			actor := f.actor
			if tt.actor != nil {
				actor = *tt.actor
			}
			in := tenDollars("k-" + tt.name)
			tt.mutate(&in)
			_, err := f.svc.Prepare(ctx, actor, in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err), err.Error())
		})
	}
}

func TestConfirm_Settles(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
	require.NoError(t, err)
	hash := txHash(1)
	f.broadcast(t, prepared, hash, ptr(true))

	view, err := f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSettled, view.Status)
	require.NotNil(t, view.TxHash)
	assert.Equal(t, hash, *view.TxHash)
	assert.Nil(t, view.FailureCode)

	rows, total, err := f.repos.Notification.ListByUser("user_bob", prepared.PaymentID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.ChannelEmail, rows[0].Channel)
	assert.ElementsMatch(t, []string{aliceWallet, bobWallet}, f.balances.wallets)

	// the same hash again is answered from the stored intent
	f.client.ReceiptErr = errors.New("should not be awaited")
	again, err := f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: "0X" + hash[2:]})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSettled, again.Status)

	_, total, err = f.repos.Notification.ListByUser("user_bob", prepared.PaymentID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "no duplicate notifications")
}

func TestConfirm_ReceiptFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
	require.NoError(t, err)
	hash := txHash(2)
	f.broadcast(t, prepared, hash, ptr(false))

	view, err := f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, view.Status)
	require.NotNil(t, view.FailureCode)
	assert.Equal(t, FailureReceiptFailed, *view.FailureCode)

	_, total, err := f.repos.Notification.ListByUser("user_bob", "", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total, "failed payments notify nobody")
	assert.Empty(t, f.balances.wallets)

	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
	assert.True(t, apperr.Is(err, apperr.Conflict), "failed is terminal")
	assert.Equal(t, "Payment intent is already failed", apperr.PublicMessage(err))
}

func TestConfirm_Mismatch(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
	require.NoError(t, err)

	memo, err := chain.ParseMemoHex(prepared.TxRequest.MemoHex)
	require.NoError(t, err)
	short, err := chain.EncodeTransferWithMemo(bobWallet, big.NewInt(9_999_999), memo)
	require.NoError(t, err)
	hash := txHash(3)
	f.client.AddTx(&chain.Transaction{Hash: hash, From: aliceWallet, To: tokenAddr, Input: short}, &chain.Receipt{Success: true})

	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ChainMismatch, ae.Kind)
	assert.Equal(t, string(MismatchAmount), ae.Reason)

	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: txHash(404)})
	ae, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, string(MismatchNotFound), ae.Reason)

	stored, err := f.repos.Payment.GetByID(prepared.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusInitiated, stored.Status, "rejected confirms change nothing")
}

func TestConfirm_ReceiptTimeoutLeavesSubmitted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
	require.NoError(t, err)
	hash := txHash(4)
	f.broadcast(t, prepared, hash, nil)
	f.client.ReceiptErr = context.DeadlineExceeded

	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
	assert.True(t, apperr.Is(err, apperr.ChainUnavailable))

	stored, err := f.repos.Payment.GetByID(prepared.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSubmitted, stored.Status)

	view, err := f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSubmitted, view.Status)

	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: txHash(5)})
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.Equal(t, errDifferentTx, apperr.PublicMessage(err), "a submitted intent is not terminal")
}

func TestConfirm_ReceiptNeverArrives(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
	require.NoError(t, err)
	hash := txHash(8)
	f.broadcast(t, prepared, hash, nil)

	start := time.Now()
	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
	assert.True(t, apperr.Is(err, apperr.ChainUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	stored, err := f.repos.Payment.GetByID(prepared.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSubmitted, stored.Status)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, hash, *stored.TxHash)
}

func TestConfirm_LostRace(t *testing.T) {
	ctx := context.Background()

	t.Run("different transaction won", func(t *testing.T) {
		f := newFixture(t, true)
		prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
		require.NoError(t, err)
		hash := txHash(6)
		f.broadcast(t, prepared, hash, ptr(true))
		f.payments.competitor = txHash(7)

		_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
		assert.True(t, apperr.Is(err, apperr.Conflict))
	})

	t.Run("same transaction won", func(t *testing.T) {
		f := newFixture(t, true)
		prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
		require.NoError(t, err)
		hash := txHash(8)
		f.broadcast(t, prepared, hash, ptr(true))
		f.payments.competitor = hash

		view, err := f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: hash})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSubmitted, view.Status)
	})
}

func TestConfirm_Rejects(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	prepared, err := f.svc.Prepare(ctx, f.actor, tenDollars("idem-1"))
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: "0x1234"})
	assert.True(t, apperr.Is(err, apperr.Invalid))

	_, err = f.svc.Confirm(ctx, f.actor, ConfirmInput{PaymentID: "pay_missing", TxHash: txHash(9)})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	mallory := usercontext.Identity{Subject: "did:privy:mallory", WalletAddress: "0x000000000000000000000000000000000000dead"}
	_, err = f.svc.Confirm(ctx, mallory, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: txHash(9)})
	assert.True(t, apperr.Is(err, apperr.NotFound), "intents of other senders are invisible")

	noChain := newFixture(t, false)
	_, err = noChain.svc.Confirm(ctx, noChain.actor, ConfirmInput{PaymentID: prepared.PaymentID, TxHash: txHash(9)})
	assert.True(t, apperr.Is(err, apperr.ChainUnavailable))
}

func TestSendDirect(t *testing.T) {
	f := newFixture(t, false)
	err := f.svc.SendDirect(context.Background(), f.actor)
	assert.True(t, apperr.Is(err, apperr.Invalid))

	err = f.svc.SendDirect(context.Background(), usercontext.Identity{})
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}
