package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/HandlePay/app/models"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new indexed event repository instance
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Upsert inserts the event or overwrites the block metadata of an existing one.
func (r *eventRepository) Upsert(event *models.IndexedEvent) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "token_address"},
			{Name: "tx_hash"},
			{Name: "log_index"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"block_number",
			"block_hash",
			"from_addr",
			"to_addr",
			"amount_raw",
			"memo_hex",
			"block_time",
			"indexed_at",
		}),
	}).Create(event).Error
}

// InsertIfNotExists never overwrites; it reports whether a new row was written.
func (r *eventRepository) InsertIfNotExists(event *models.IndexedEvent) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "token_address"},
			{Name: "tx_hash"},
			{Name: "log_index"},
		},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *eventRepository) Get(tokenAddress, txHash string, logIndex uint) (*models.IndexedEvent, error) {
	var e models.IndexedEvent
	err := r.db.
		Where("token_address = ? AND tx_hash = ? AND log_index = ?", tokenAddress, txHash, logIndex).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByWallet returns every event touching the wallet, newest first.
func (r *eventRepository) ListByWallet(wallet string) ([]models.IndexedEvent, error) {
	key := models.NormalizeAddress(wallet)
	var events []models.IndexedEvent
	err := r.db.
		Where("from_addr = ? OR to_addr = ?", key, key).
		Order("block_number DESC").
		Order("log_index DESC").
		Find(&events).Error
	return events, err
}
