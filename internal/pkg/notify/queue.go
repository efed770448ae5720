// Package notify is the durable notification outbox: settled payments become
// per-channel delivery rows that a worker retries with exponential backoff.
package notify

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/metrics"
	"github.com/ManuelReschke/HandlePay/internal/pkg/pagination"
)

const (
	DefaultDeliveriesLimit = 20
	MaxDeliveriesLimit     = 100

	maxBackoffShift = 30
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
)

// LooksLikeEmail reports whether a handle can receive email.
func LooksLikeEmail(handle string) bool {
	return emailPattern.MatchString(strings.TrimSpace(handle))
}

// LooksLikePhone reports whether a handle can receive SMS.
func LooksLikePhone(handle string) bool {
	return phonePattern.MatchString(strings.TrimSpace(handle))
}

// PaymentReceived is the payload of the payment_received template.
type PaymentReceived struct {
	PaymentID       string          `json:"paymentId"`
	TxHash          *string         `json:"txHash"`
	AmountUSD       decimal.Decimal `json:"amountUsd"`
	Stablecoin      string          `json:"stablecoin"`
	Memo            *string         `json:"memo"`
	SenderHandle    string          `json:"senderHandle"`
	RecipientHandle string          `json:"recipientHandle"`
}

// ProcessResult summarises one worker tick.
type ProcessResult struct {
	Skipped  bool `json:"skipped"`
	Picked   int  `json:"picked"`
	Sent     int  `json:"sent"`
	Retrying int  `json:"retrying"`
	Failed   int  `json:"failed"`
}

// DeliveryQuery pages a user's deliveries.
type DeliveryQuery struct {
	PaymentID string
	Cursor    string
	Limit     int
}

// DeliveryView is the public shape of a notification row.
type DeliveryView struct {
	ID                string          `json:"id"`
	PaymentID         *string         `json:"paymentId"`
	UserID            string          `json:"userId"`
	Channel           string          `json:"channel"`
	Destination       string          `json:"destination"`
	Provider          string          `json:"provider"`
	Template          string          `json:"template"`
	Status            string          `json:"status"`
	Attempts          int             `json:"attempts"`
	ProviderMessageID *string         `json:"providerMessageId"`
	LastError         *string         `json:"lastError"`
	NextRetryAt       time.Time       `json:"nextRetryAt"`
	SentAt            *time.Time      `json:"sentAt"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	Payload           json.RawMessage `json:"payload"`
}

type DeliveryPage struct {
	UserID     string         `json:"userId"`
	Total      int64          `json:"total"`
	Data       []DeliveryView `json:"data"`
	NextCursor *string        `json:"nextCursor"`
}

// Queue enqueues and dispatches notifications.
type Queue struct {
	repo     repository.NotificationRepository
	provider Provider
	cfg      config.NotifyConfig
	now      func() time.Time

	running atomic.Bool
}

func NewQueue(repo repository.NotificationRepository, provider Provider, cfg config.NotifyConfig) *Queue {
	if provider == nil {
		provider = LogProvider{}
	}
	return &Queue{
		repo:     repo,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Enabled reports whether enqueueing and dispatch are switched on.
func (q *Queue) Enabled() bool {
	return q.cfg.Enabled
}

// Enqueue creates one pending row per channel the recipient handle supports.
func (q *Queue) Enqueue(ctx context.Context, payment *models.PaymentIntent, recipient, sender *models.User) ([]models.Notification, error) {
	if !q.cfg.Enabled {
		return nil, nil
	}

	type job struct{ channel, destination string }
	handle := strings.TrimSpace(recipient.Handle)
	var jobs []job
	if LooksLikeEmail(handle) {
		jobs = append(jobs, job{models.ChannelEmail, handle})
	}
	if LooksLikePhone(handle) {
		jobs = append(jobs, job{models.ChannelSMS, handle})
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(PaymentReceived{
		PaymentID:       payment.ID,
		TxHash:          payment.TxHash,
		AmountUSD:       payment.AmountUSD,
		Stablecoin:      payment.Stablecoin,
		Memo:            payment.Memo,
		SenderHandle:    sender.Handle,
		RecipientHandle: recipient.Handle,
	})
	if err != nil {
		return nil, err
	}

	now := q.now().UTC()
	paymentID := payment.ID
	created := make([]models.Notification, 0, len(jobs))
	for _, j := range jobs {
		n := models.Notification{
			ID:          models.NewNotificationID(),
			PaymentID:   &paymentID,
			UserID:      recipient.ID,
			Channel:     j.channel,
			Destination: j.destination,
			Provider:    q.provider.Name(),
			Template:    models.TemplatePaymentReceived,
			Payload:     datatypes.JSON(payload),
			Status:      models.NotificationStatusPending,
			Attempts:    0,
			NextRetryAt: now,
			CreatedAt:   now,
		}
		if err := q.repo.Create(&n); err != nil {
			return created, err
		}
		log.Debugf("[Notify] Enqueued %s %s for payment %s", n.ID, n.Channel, payment.ID)
		created = append(created, n)
	}
	return created, nil
}

// ProcessOnce delivers one batch of due rows. Overlapping ticks are skipped.
func (q *Queue) ProcessOnce(ctx context.Context) (ProcessResult, error) {
	if !q.running.CompareAndSwap(false, true) {
		return ProcessResult{Skipped: true}, nil
	}
	defer q.running.Store(false)

	batch := q.cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	rows, err := q.repo.ListDue(q.now().UTC(), batch)
	if err != nil {
		return ProcessResult{}, err
	}

	res := ProcessResult{Picked: len(rows)}
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		status, err := q.processOne(ctx, &rows[i])
		if err != nil {
			log.Errorf("[Notify] Failed to record outcome for %s: %v", rows[i].ID, err)
			continue
		}
		switch status {
		case models.NotificationStatusSent:
			res.Sent++
		case models.NotificationStatusFailed:
			res.Failed++
		default:
			res.Retrying++
		}
	}
	if res.Picked > 0 {
		log.Infof("[Notify] Processed %d notifications: %d sent, %d retrying, %d failed", res.Picked, res.Sent, res.Retrying, res.Failed)
	}
	return res, nil
}

func (q *Queue) processOne(ctx context.Context, n *models.Notification) (string, error) {
	attempts := n.Attempts + 1
	messageID, deliverErr := q.provider.Deliver(ctx, Delivery{
		ID:          n.ID,
		Channel:     n.Channel,
		Destination: n.Destination,
		Template:    n.Template,
		Payload:     json.RawMessage(n.Payload),
	})
	now := q.now().UTC()

	if deliverErr == nil {
		var id *string
		if messageID != "" {
			id = &messageID
		}
		metrics.IncNotification(models.NotificationStatusSent, n.Channel, n.Provider)
		return models.NotificationStatusSent, q.repo.MarkSent(n.ID, attempts, id, now)
	}

	metrics.IncNotification(models.NotificationStatusFailed, n.Channel, n.Provider)
	if attempts >= q.cfg.RetryMax {
		log.Warnf("[Notify] Giving up on %s after %d attempts: %v", n.ID, attempts, deliverErr)
		return models.NotificationStatusFailed, q.repo.MarkAttemptFailed(n.ID, models.NotificationStatusFailed, attempts, deliverErr.Error(), n.NextRetryAt)
	}
	next := now.Add(Backoff(q.cfg.RetryBase, attempts))
	log.Warnf("[Notify] Delivery of %s failed (attempt %d), retrying at %s: %v", n.ID, attempts, next.Format(time.RFC3339), deliverErr)
	return models.NotificationStatusPending, q.repo.MarkAttemptFailed(n.ID, models.NotificationStatusPending, attempts, deliverErr.Error(), next)
}

// Backoff is base * 2^(attempts-1).
func Backoff(base time.Duration, attempts int) time.Duration {
	shift := min(max(attempts-1, 0), maxBackoffShift)
	return base * time.Duration(int64(1)<<shift)
}

// Deliveries pages the notifications of userID, newest first.
func (q *Queue) Deliveries(ctx context.Context, userID string, query DeliveryQuery) (*DeliveryPage, error) {
	limit := query.Limit
	if limit == 0 {
		limit = DefaultDeliveriesLimit
	}
	if limit < 1 || limit > MaxDeliveriesLimit {
		return nil, apperr.InvalidErrf("limit must be between 1 and %d", MaxDeliveriesLimit)
	}
	start, err := pagination.ParseCursor(query.Cursor)
	if err != nil {
		return nil, err
	}

	rows, total, err := q.repo.ListByUser(userID, query.PaymentID, start, limit)
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	data := make([]DeliveryView, 0, len(rows))
	for _, n := range rows {
		data = append(data, toView(n))
	}
	return &DeliveryPage{
		UserID:     userID,
		Total:      total,
		Data:       data,
		NextCursor: pagination.NextCursor(start, limit, int(total)),
	}, nil
}

func toView(n models.Notification) DeliveryView {
	payload := json.RawMessage(n.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return DeliveryView{
		ID:                n.ID,
		PaymentID:         n.PaymentID,
		UserID:            n.UserID,
		Channel:           n.Channel,
		Destination:       n.Destination,
		Provider:          n.Provider,
		Template:          n.Template,
		Status:            n.Status,
		Attempts:          n.Attempts,
		ProviderMessageID: n.ProviderMessageID,
		LastError:         n.LastError,
		NextRetryAt:       n.NextRetryAt,
		SentAt:            n.SentAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
		Payload:           payload,
	}
}
