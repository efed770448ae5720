package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"

	ChannelEmail = "email"
	ChannelSMS   = "sms"

	TemplatePaymentReceived = "payment_received"
)

// Notification is one delivery record per (payment, channel).
type Notification struct {
	ID                string         `gorm:"primaryKey;type:varchar(32)" json:"id"`
	PaymentID         *string        `gorm:"type:varchar(40);index" json:"payment_id"`
	UserID            string         `gorm:"type:varchar(32);not null;index" json:"user_id"`
	Channel           string         `gorm:"type:varchar(16);not null" json:"channel" validate:"oneof=email sms"`
	Destination       string         `gorm:"type:varchar(255);not null" json:"destination"`
	Provider          string         `gorm:"type:varchar(32);not null" json:"provider"`
	Template          string         `gorm:"type:varchar(64);not null" json:"template"`
	Payload           datatypes.JSON `json:"payload"`
	Status            string         `gorm:"type:varchar(16);not null;default:'pending';index:idx_notifications_due,priority:1" json:"status"`
	Attempts          int            `gorm:"not null;default:0" json:"attempts"`
	ProviderMessageID *string        `gorm:"type:varchar(191)" json:"provider_message_id"`
	LastError         *string        `gorm:"type:text" json:"last_error"`
	NextRetryAt       time.Time      `gorm:"not null;index:idx_notifications_due,priority:2" json:"next_retry_at"`
	SentAt            *time.Time     `json:"sent_at"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewNotificationID returns an id of the form ntf_<12 hex>.
func NewNotificationID() string {
	return "ntf_" + shortHex(12)
}

// IsTerminal reports whether the worker will never pick this row again.
func (n *Notification) IsTerminal() bool {
	return n.Status == NotificationStatusSent || n.Status == NotificationStatusFailed
}
