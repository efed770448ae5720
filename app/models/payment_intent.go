package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusSubmitted = "submitted"
	PaymentStatusSettled   = "settled"
	PaymentStatusFailed    = "failed"
)

// ZeroMemoHex is the encoded form of an empty memo.
const ZeroMemoHex = "0x0000000000000000000000000000000000000000000000000000000000000000"

// PaymentIntent is one payment attempt from prepare through settlement.
type PaymentIntent struct {
	ID              string          `gorm:"primaryKey;type:varchar(40)" json:"payment_id"`
	IdempotencyKey  string          `gorm:"type:varchar(128);not null;uniqueIndex:ux_payment_intents_idem_sender,priority:1" json:"idempotency_key"`
	SenderUserID    string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_intents_idem_sender,priority:2;index" json:"sender_user_id"`
	RecipientUserID string          `gorm:"type:varchar(32);not null;index" json:"recipient_user_id"`
	RecipientHandle string          `gorm:"type:varchar(255);not null" json:"recipient_handle"`
	AmountUSD       decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount_usd"`
	Stablecoin      string          `gorm:"type:varchar(32);not null" json:"stablecoin"`
	Memo            *string         `gorm:"type:varchar(255)" json:"memo,omitempty"`
	MemoHex         string          `gorm:"type:varchar(66);not null" json:"memo_hex"`
	Status          string          `gorm:"type:varchar(20);not null;default:'initiated';index" json:"status"`
	Chain           string          `gorm:"type:varchar(50);not null" json:"chain"`
	TxHash          *string         `gorm:"type:varchar(66);index" json:"tx_hash,omitempty"`
	SponsoredFee    bool            `gorm:"default:false" json:"sponsored_fee"`
	FailureCode     *string         `gorm:"type:varchar(64)" json:"failure_code,omitempty"`
	FailureMessage  *string         `gorm:"type:text" json:"failure_message,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewPaymentID returns an id of the form pay_<unix ms>_<6 hex>.
func NewPaymentID(now time.Time) string {
	return fmt.Sprintf("pay_%d_%s", now.UnixMilli(), shortHex(6))
}

// IsTerminal reports whether no further transition is allowed.
func (p *PaymentIntent) IsTerminal() bool {
	return p.Status == PaymentStatusSettled || p.Status == PaymentStatusFailed
}

// CanTransition enforces initiated -> submitted -> settled|failed.
func CanTransition(from, to string) bool {
	switch from {
	case PaymentStatusInitiated:
		return to == PaymentStatusSubmitted
	case PaymentStatusSubmitted:
		return to == PaymentStatusSettled || to == PaymentStatusFailed
	default:
		return false
	}
}
