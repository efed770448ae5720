package repository

import (
	"gorm.io/gorm"
)

// Repositories groups every repository over one database handle
type Repositories struct {
	User         UserRepository
	Payment      PaymentRepository
	Event        EventRepository
	IndexerState IndexerStateRepository
	Notification NotificationRepository
	Audit        AuditRepository
}

// NewRepositories creates all repositories for the given handle
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Payment:      NewPaymentRepository(db),
		Event:        NewEventRepository(db),
		IndexerState: NewIndexerStateRepository(db),
		Notification: NewNotificationRepository(db),
		Audit:        NewAuditRepository(db),
	}
}
