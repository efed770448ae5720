package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/HandlePay/app/models"
)

type indexerStateRepository struct {
	db *gorm.DB
}

// NewIndexerStateRepository creates a new watermark repository instance
func NewIndexerStateRepository(db *gorm.DB) IndexerStateRepository {
	return &indexerStateRepository{db: db}
}

// Ensure seeds the watermark row once; an existing row is left untouched.
func (r *indexerStateRepository) Ensure(initial int64) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.IndexerState{ID: models.IndexerStateID, LastSyncedBlock: initial}).Error
}

func (r *indexerStateRepository) LastSyncedBlock() (int64, error) {
	var state models.IndexerState
	if err := r.db.Where("id = ?", models.IndexerStateID).First(&state).Error; err != nil {
		return 0, err
	}
	return state.LastSyncedBlock, nil
}

func (r *indexerStateRepository) Advance(block int64) error {
	return r.db.Model(&models.IndexerState{}).
		Where("id = ?", models.IndexerStateID).
		Update("last_synced_block", block).Error
}
