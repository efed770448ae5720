package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/HandlePay/app/models"
)

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification outbox repository instance
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(notification *models.Notification) error {
	return r.db.Create(notification).Error
}

func (r *notificationRepository) GetByID(id string) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// ListDue returns pending rows whose retry time has come, oldest first.
func (r *notificationRepository) ListDue(now time.Time, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	err := r.db.
		Where("status = ? AND next_retry_at <= ?", models.NotificationStatusPending, now).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *notificationRepository) MarkSent(id string, attempts int, providerMessageID *string, sentAt time.Time) error {
	return r.db.Model(&models.Notification{}).
		Where("id = ? AND status = ?", id, models.NotificationStatusPending).
		Updates(map[string]any{
			"status":              models.NotificationStatusSent,
			"attempts":            attempts,
			"provider_message_id": providerMessageID,
			"sent_at":             sentAt,
		}).Error
}

func (r *notificationRepository) MarkAttemptFailed(id, status string, attempts int, lastError string, nextRetryAt time.Time) error {
	return r.db.Model(&models.Notification{}).
		Where("id = ? AND status = ?", id, models.NotificationStatusPending).
		Updates(map[string]any{
			"status":        status,
			"attempts":      attempts,
			"last_error":    lastError,
			"next_retry_at": nextRetryAt,
		}).Error
}

// ListByUser pages a user's deliveries newest first, optionally for one payment.
func (r *notificationRepository) ListByUser(userID, paymentID string, offset, limit int) ([]models.Notification, int64, error) {
	query := r.db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if paymentID != "" {
		query = query.Where("payment_id = ?", paymentID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Notification
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	return rows, total, err
}
