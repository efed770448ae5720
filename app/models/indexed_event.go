package models

import "time"

// IndexedEvent is one TransferWithMemo log. The composite key (token, tx, log index)
// is the only thing preventing duplicate ingestion across overlapping scans.
type IndexedEvent struct {
	TokenAddress string    `gorm:"primaryKey;type:varchar(64)" json:"token_address"`
	TxHash       string    `gorm:"primaryKey;type:varchar(66)" json:"tx_hash"`
	LogIndex     uint      `gorm:"primaryKey;autoIncrement:false" json:"log_index"`
	BlockNumber  uint64    `gorm:"not null;index" json:"block_number"`
	BlockHash    string    `gorm:"type:varchar(66)" json:"block_hash"`
	FromAddr     string    `gorm:"type:varchar(64);not null;index" json:"from_addr"`
	ToAddr       string    `gorm:"type:varchar(64);not null;index" json:"to_addr"`
	AmountRaw    string    `gorm:"type:varchar(78);not null" json:"amount_raw"`
	MemoHex      string    `gorm:"type:varchar(66);not null" json:"memo_hex"`
	BlockTime    time.Time `gorm:"not null" json:"block_time"`
	IndexedAt    time.Time `gorm:"autoUpdateTime" json:"indexed_at"`
}

// IndexerState is the singleton watermark row.
type IndexerState struct {
	ID              uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	LastSyncedBlock int64     `gorm:"not null" json:"last_synced_block"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IndexerStateID is the primary key of the watermark row.
const IndexerStateID = 1
