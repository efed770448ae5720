package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/HandlePay/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	CreateIfNotExists(user *models.User) (bool, error)
	GetByID(id string) (*models.User, error)
	FindByHandle(handle string) (*models.User, error)
	FindByWallet(wallet string) (*models.User, error)
	FindBySubject(subject string) (*models.User, error)
	LinkSubject(id, subject string) error
	Update(user *models.User) error
	Count() (int64, error)
}

// PaymentRepository defines the persistence of payment intents. Status writes are
// conditional on the expected prior status and report whether a row changed.
type PaymentRepository interface {
	Create(payment *models.PaymentIntent) error
	GetByID(id string) (*models.PaymentIntent, error)
	GetForSender(id, senderUserID string) (*models.PaymentIntent, error)
	FindByIdempotencyKey(key, senderUserID string) (*models.PaymentIntent, error)
	MarkSubmitted(id, txHash string) (bool, error)
	MarkOutcome(id, status string, failureCode, failureMessage *string) (bool, error)
}

// EventRepository defines indexed transfer event storage
type EventRepository interface {
	Upsert(event *models.IndexedEvent) error
	InsertIfNotExists(event *models.IndexedEvent) (bool, error)
	Get(tokenAddress, txHash string, logIndex uint) (*models.IndexedEvent, error)
	ListByWallet(wallet string) ([]models.IndexedEvent, error)
}

// IndexerStateRepository defines access to the singleton watermark
type IndexerStateRepository interface {
	Ensure(initial int64) error
	LastSyncedBlock() (int64, error)
	Advance(block int64) error
}

// NotificationRepository defines the delivery outbox
type NotificationRepository interface {
	Create(notification *models.Notification) error
	GetByID(id string) (*models.Notification, error)
	ListDue(now time.Time, limit int) ([]models.Notification, error)
	MarkSent(id string, attempts int, providerMessageID *string, sentAt time.Time) error
	MarkAttemptFailed(id, status string, attempts int, lastError string, nextRetryAt time.Time) error
	ListByUser(userID, paymentID string, offset, limit int) ([]models.Notification, int64, error)
}

// AuditRepository appends audit entries
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByAction(action string, limit int) ([]models.AuditLog, error)
}
