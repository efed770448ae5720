package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/HandlePay/app/models"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment intent repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(payment *models.PaymentIntent) error {
	return r.db.Create(payment).Error
}

func (r *paymentRepository) GetByID(id string) (*models.PaymentIntent, error) {
	var p models.PaymentIntent
	if err := r.db.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetForSender only returns intents owned by the given sender.
func (r *paymentRepository) GetForSender(id, senderUserID string) (*models.PaymentIntent, error) {
	var p models.PaymentIntent
	if err := r.db.Where("id = ? AND sender_user_id = ?", id, senderUserID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) FindByIdempotencyKey(key, senderUserID string) (*models.PaymentIntent, error) {
	var p models.PaymentIntent
	err := r.db.
		Where("idempotency_key = ? AND sender_user_id = ?", key, senderUserID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkSubmitted moves an initiated intent to submitted. It returns false when the
// intent was no longer initiated, i.e. a concurrent confirm got there first.
func (r *paymentRepository) MarkSubmitted(id, txHash string) (bool, error) {
	res := r.db.Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusInitiated).
		Updates(map[string]any{
			"status":  models.PaymentStatusSubmitted,
			"tx_hash": txHash,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkOutcome records settled or failed on a submitted intent.
func (r *paymentRepository) MarkOutcome(id, status string, failureCode, failureMessage *string) (bool, error) {
	res := r.db.Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusSubmitted).
		Updates(map[string]any{
			"status":          status,
			"failure_code":    failureCode,
			"failure_message": failureMessage,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
