package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/HandlePay/app/models"
)

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit log repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListByAction(action string, limit int) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.db.Where("action = ?", action).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
