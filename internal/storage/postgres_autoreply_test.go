package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

func TestLastAutoReplySentAt(t *testing.T) {
	t.Run("Never Replied", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectQuery(`SELECT \* FROM "auto_reply_logs" WHERE .*ORDER BY sent_at DESC`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "sent_at"}))

		last, err := repo.LastAutoReplySentAt(context.Background(), testTenantID, testPhone)
		require.NoError(t, err)
		assert.Nil(t, last)
	})

	t.Run("Most Recent", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		sentAt := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT \* FROM "auto_reply_logs" WHERE .*ORDER BY sent_at DESC`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "sent_at"}).AddRow("log-1", sentAt))

		last, err := repo.LastAutoReplySentAt(context.Background(), testTenantID, testPhone)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, sentAt.Equal(*last))
	})
}

func TestCompleteAutoReplyLog_OnlyFromQueued(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectExec(`UPDATE "auto_reply_logs" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.CompleteAutoReplyLog(context.Background(), testTenantID, "log-1", model.AutoReplyUpdate{Status: model.AutoReplySent})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetAutoReplySettings_NotFound(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectQuery(`SELECT \* FROM "auto_reply_settings" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "enabled"}))

	settings, err := repo.GetAutoReplySettings(context.Background(), testTenantID)
	assert.Nil(t, settings)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
