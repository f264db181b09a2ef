package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

func TestCreateFollowupMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Inserted", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`INSERT INTO "followup_messages" .* ON CONFLICT .* DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		msg := model.NewFollowupMessage(&model.FollowupMessage{TenantID: testTenantID})
		created, err := repo.CreateFollowupMessage(ctx, msg)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("Step Already Materialized", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`INSERT INTO "followup_messages" .* ON CONFLICT .* DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		msg := model.NewFollowupMessage(&model.FollowupMessage{TenantID: testTenantID})
		created, err := repo.CreateFollowupMessage(ctx, msg)
		require.NoError(t, err)
		assert.False(t, created)
	})
}

func TestIncrementFollowupCounters(t *testing.T) {
	t.Run("Empty Delta Is A No-op", func(t *testing.T) {
		gormDB, _, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		assert.NoError(t, repo.IncrementFollowupCounters(context.Background(), testTenantID, "fc-1", model.FollowupCounters{}))
	})

	t.Run("Adds In Place", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`UPDATE "followup_campaigns" SET .*total_sent \+ \$`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.IncrementFollowupCounters(context.Background(), testTenantID, "fc-1", model.FollowupCounters{Sent: 1})
		assert.NoError(t, err)
	})
}

func TestDeleteFollowupCampaign(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "followup_campaigns" WHERE .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "status", "is_active"}).
			AddRow("fc-1", testTenantID, "ACTIVE", true))
	mock.ExpectExec(`UPDATE "followup_messages" SET`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`UPDATE "followup_campaigns" SET .*"is_active"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "followup_campaigns" SET "deleted_at"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cancelled, err := repo.DeleteFollowupCampaign(context.Background(), testTenantID, "fc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cancelled)
}

func TestFindDueFollowupMessages(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	due := time.Now().Add(-time.Minute)
	mock.ExpectQuery(`SELECT followup_messages\.\* FROM "followup_messages" JOIN followup_campaigns fc ON fc\.id = followup_messages\.followup_campaign_id .*WHERE .*followup_messages\.status = .*fc\.status = .*fc\.is_active AND fc\.deleted_at IS NULL.*ORDER BY followup_messages\.scheduled_at ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "phone", "status", "step", "scheduled_at"}).
			AddRow("fm-1", testTenantID, testPhone, "SCHEDULED", 1, due).
			AddRow("fm-2", "tenant-other", "628111", "SCHEDULED", 2, due))

	messages, err := repo.FindDueFollowupMessages(context.Background(), time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "tenant-other", messages[1].TenantID)
	assert.Equal(t, 2, messages[1].Step)
}

func TestTransitionContactFollowup(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectExec(`UPDATE "contact_followups" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionContactFollowup(context.Background(), testTenantID, "cf-1",
		model.ContactFollowupUpdate{Status: model.ContactFollowupCancelled}, model.ContactFollowupScheduled)
	require.NoError(t, err)
	assert.False(t, ok)
}
