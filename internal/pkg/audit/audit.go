package audit

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
)

// Writer appends audit entries. Failures are logged, never returned, so an audit
// outage cannot fail the action being audited.
type Writer struct {
	repo repository.AuditRepository
}

func NewWriter(repo repository.AuditRepository) *Writer {
	return &Writer{repo: repo}
}

// Record stores one entry; a nil Writer is a no-op.
func (w *Writer) Record(ctx context.Context, actorSubject, action, target string, payload any) {
	if w == nil || w.repo == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[Audit] Cannot encode payload for %s/%s: %v", action, target, err)
		raw = []byte("{}")
	}
	entry := &models.AuditLog{
		Action:  action,
		Target:  target,
		Payload: datatypes.JSON(raw),
	}
	if actorSubject != "" {
		entry.ActorSubject = &actorSubject
	}
	if err := w.repo.Create(ctx, entry); err != nil {
		log.Errorf("[Audit] Failed to record %s on %s: %v", action, target, err)
	}
}
