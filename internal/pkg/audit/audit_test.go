package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/database"
)

func newRepo(t *testing.T) repository.AuditRepository {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewAuditRepository(db)
}

func TestRecord(t *testing.T) {
	repo := newRepo(t)
	w := NewWriter(repo)

	w.Record(context.Background(), "did:ops", "indexer_sync", "tempo", map[string]any{"newEvents": 3})
	w.Record(context.Background(), "", "indexer_sync", "tempo", nil)

	rows, err := repo.ListByAction("indexer_sync", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	anonymous, signed := rows[0], rows[1]
	assert.Nil(t, anonymous.ActorSubject)
	require.NotNil(t, signed.ActorSubject)
	assert.Equal(t, "did:ops", *signed.ActorSubject)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(signed.Payload, &payload))
	assert.Equal(t, float64(3), payload["newEvents"])
}

func TestRecord_UsesCallerContext(t *testing.T) {
	repo := newRepo(t)
	w := NewWriter(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Record(ctx, "did:ops", "link_identity", "user_1", nil)

	rows, err := repo.ListByAction("link_identity", 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "a cancelled request writes nothing")
}

func TestRecord_NilWriter(t *testing.T) {
	var w *Writer
	assert.NotPanics(t, func() {
		w.Record(context.Background(), "did:ops", "noop", "x", nil)
	})
}
