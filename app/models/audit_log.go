package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is an append-only record of a privileged action.
type AuditLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ActorSubject *string        `gorm:"type:varchar(191);index" json:"actor_subject"`
	Action       string         `gorm:"type:varchar(64);not null;index" json:"action"`
	Target       string         `gorm:"type:varchar(191)" json:"target"`
	Payload      datatypes.JSON `json:"payload"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
