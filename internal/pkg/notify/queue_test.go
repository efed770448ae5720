package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/database"
)

type fakeProvider struct {
	mu        sync.Mutex
	err       error
	delivered []Delivery
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Deliver(_ context.Context, d Delivery) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, d)
	if p.err != nil {
		return "", p.err
	}
	return "msg-" + d.ID, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, cfg config.NotifyConfig) (*Queue, *fakeProvider, *clock, repository.NotificationRepository) {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := repository.NewNotificationRepository(db)
	provider := &fakeProvider{}
	c := &clock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	q := NewQueue(repo, provider, cfg)
	q.now = c.now
	return q, provider, c, repo
}

func defaultConfig() config.NotifyConfig {
	return config.NotifyConfig{Enabled: true, Provider: "log", RetryMax: 3, RetryBase: 10 * time.Second, BatchSize: 10}
}

func settledPayment() *models.PaymentIntent {
	tx := "0xfeed"
	memo := "tacos"
	return &models.PaymentIntent{
		ID:         "pay_1",
		AmountUSD:  decimal.RequireFromString("12.5"),
		Stablecoin: "AlphaUSD",
		Memo:       &memo,
		TxHash:     &tx,
		Status:     models.PaymentStatusSettled,
	}
}

func TestHandleClassification(t *testing.T) {
	assert.True(t, LooksLikeEmail(" bob@example.com "))
	assert.False(t, LooksLikeEmail("bob@example"))
	assert.False(t, LooksLikeEmail("bob smith@example.com"))

	assert.True(t, LooksLikePhone("+4915112345678"))
	assert.True(t, LooksLikePhone("12345678"))
	assert.False(t, LooksLikePhone("1234567"))
	assert.False(t, LooksLikePhone("+49 151 1234"))
}

func TestBackoff(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, Backoff(base, 1))
	assert.Equal(t, 10*time.Second, Backoff(base, 2))
	assert.Equal(t, 20*time.Second, Backoff(base, 3))
	assert.Equal(t, 5*time.Second, Backoff(base, 0))
	assert.Equal(t, base*time.Duration(1<<30), Backoff(base, 99))
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	sender := &models.User{ID: "user_alice", Handle: "alice@example.com"}

	t.Run("email handle", func(t *testing.T) {
		q, _, c, _ := newTestQueue(t, defaultConfig())
		rows, err := q.Enqueue(ctx, settledPayment(), &models.User{ID: "user_bob", Handle: "bob@example.com"}, sender)
		require.NoError(t, err)
		require.Len(t, rows, 1)

		n := rows[0]
		assert.Equal(t, models.ChannelEmail, n.Channel)
		assert.Equal(t, "bob@example.com", n.Destination)
		assert.Equal(t, "fake", n.Provider)
		assert.Equal(t, models.NotificationStatusPending, n.Status)
		assert.Equal(t, 0, n.Attempts)
		assert.True(t, n.NextRetryAt.Equal(c.t))

		var payload PaymentReceived
		require.NoError(t, json.Unmarshal(n.Payload, &payload))
		assert.Equal(t, "pay_1", payload.PaymentID)
		assert.Equal(t, "alice@example.com", payload.SenderHandle)
		assert.True(t, payload.AmountUSD.Equal(decimal.RequireFromString("12.5")))
	})

	t.Run("phone handle", func(t *testing.T) {
		q, _, _, _ := newTestQueue(t, defaultConfig())
		rows, err := q.Enqueue(ctx, settledPayment(), &models.User{ID: "user_bob", Handle: "+4915112345678"}, sender)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, models.ChannelSMS, rows[0].Channel)
	})

	t.Run("opaque handle gets nothing", func(t *testing.T) {
		q, _, _, _ := newTestQueue(t, defaultConfig())
		rows, err := q.Enqueue(ctx, settledPayment(), &models.User{ID: "user_bob", Handle: "privy:did:privy:bob"}, sender)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Enabled = false
		q, _, _, _ := newTestQueue(t, cfg)
		rows, err := q.Enqueue(ctx, settledPayment(), &models.User{ID: "user_bob", Handle: "bob@example.com"}, sender)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestProcessOnce_Sends(t *testing.T) {
	q, provider, _, repo := newTestQueue(t, defaultConfig())
	ctx := context.Background()

	rows, err := q.Enqueue(ctx, settledPayment(), &models.User{ID: "user_bob", Handle: "bob@example.com"}, &models.User{Handle: "alice"})
	require.NoError(t, err)

	res, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Picked: 1, Sent: 1}, res)
	require.Len(t, provider.delivered, 1)
	assert.Equal(t, models.TemplatePaymentReceived, provider.delivered[0].Template)

	n, err := repo.GetByID(rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusSent, n.Status)
	assert.Equal(t, 1, n.Attempts)
	require.NotNil(t, n.ProviderMessageID)
	assert.Equal(t, "msg-"+n.ID, *n.ProviderMessageID)

	res, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Picked, "sent rows are never picked again")
}

func TestProcessOnce_RetriesThenFails(t *testing.T) {
	q, provider, c, repo := newTestQueue(t, defaultConfig())
	provider.err = errors.New("smtp 451")
	ctx := context.Background()

	rows, err := q.Enqueue(ctx, settledPayment(), &models.User{ID: "user_bob", Handle: "bob@example.com"}, &models.User{Handle: "alice"})
	require.NoError(t, err)
	id := rows[0].ID
	start := c.t

	res, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Picked: 1, Retrying: 1}, res)

	n, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, n.Attempts)
	assert.True(t, n.NextRetryAt.Equal(start.Add(10*time.Second)))
	require.NotNil(t, n.LastError)
	assert.Equal(t, "smtp 451", *n.LastError)

	c.advance(5 * time.Second)
	res, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Picked, "not due yet")

	c.advance(5 * time.Second)
	res, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retrying)

	n, err = repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 2, n.Attempts)
	assert.True(t, n.NextRetryAt.Equal(c.t.Add(20*time.Second)), "backoff doubles")

	c.advance(20 * time.Second)
	res, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	n, err = repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusFailed, n.Status)
	assert.Equal(t, 3, n.Attempts)
	assert.True(t, n.NextRetryAt.Equal(c.t), "terminal rows keep their last retry time")

	c.advance(time.Hour)
	res, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Picked)
	assert.Len(t, provider.delivered, 3)
}

func TestProcessOnce_SkipsWhenRunning(t *testing.T) {
	q, _, _, _ := newTestQueue(t, defaultConfig())
	q.running.Store(true)

	res, err := q.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestDeliveries(t *testing.T) {
	q, _, c, _ := newTestQueue(t, defaultConfig())
	ctx := context.Background()
	recipient := &models.User{ID: "user_bob", Handle: "bob@example.com"}

	for i := 0; i < 3; i++ {
		p := settledPayment()
		p.ID = []string{"pay_a", "pay_b", "pay_c"}[i]
		_, err := q.Enqueue(ctx, p, recipient, &models.User{Handle: "alice"})
		require.NoError(t, err)
		c.advance(time.Second)
	}

	page, err := q.Deliveries(ctx, "user_bob", DeliveryQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Data, 2)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, "2", *page.NextCursor)
	require.NotNil(t, page.Data[0].PaymentID)
	assert.Equal(t, "pay_c", *page.Data[0].PaymentID, "newest first")

	page, err = q.Deliveries(ctx, "user_bob", DeliveryQuery{Limit: 2, Cursor: "2"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Nil(t, page.NextCursor)

	page, err = q.Deliveries(ctx, "user_bob", DeliveryQuery{PaymentID: "pay_b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	page, err = q.Deliveries(ctx, "user_nobody", DeliveryQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.NotNil(t, page.Data)

	for _, limit := range []int{-1, 101} {
		_, err = q.Deliveries(ctx, "user_bob", DeliveryQuery{Limit: limit})
		assert.True(t, apperr.Is(err, apperr.Invalid), "limit %d", limit)
	}
	_, err = q.Deliveries(ctx, "user_bob", DeliveryQuery{Cursor: "x"})
	assert.True(t, apperr.Is(err, apperr.Invalid))
}
