package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

var campaignColumns = []string{"id", "tenant_id", "name", "status", "recipient_count", "sent_count", "failed_count", "invalid_count", "pending_count"}

func TestApplyCampaignOutcome(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	testCases := []struct {
		name          string
		campaign      model.Campaign
		outcome       model.CampaignOutcome
		wantCompleted bool
		wantStatus    model.CampaignStatus
		wantPending   int
	}{
		{
			name:        "Pending remains",
			campaign:    model.Campaign{Status: model.CampaignProcessing, PendingCount: 3},
			outcome:     model.CampaignOutcome{Sent: 1},
			wantStatus:  model.CampaignProcessing,
			wantPending: 2,
		},
		{
			name:          "Last message sent completes",
			campaign:      model.Campaign{Status: model.CampaignProcessing, PendingCount: 1},
			outcome:       model.CampaignOutcome{Sent: 1},
			wantCompleted: true,
			wantStatus:    model.CampaignCompleted,
		},
		{
			name:          "Nothing sent fails the campaign",
			campaign:      model.Campaign{Status: model.CampaignProcessing, PendingCount: 1, InvalidCount: 4},
			outcome:       model.CampaignOutcome{Failed: 1},
			wantCompleted: true,
			wantStatus:    model.CampaignFailed,
		},
		{
			name:       "Cancelled campaign keeps its status",
			campaign:   model.Campaign{Status: model.CampaignCancelled, PendingCount: 1, SentCount: 2},
			outcome:    model.CampaignOutcome{Sent: 1},
			wantStatus: model.CampaignCancelled,
		},
		{
			name:        "Pending never goes negative",
			campaign:    model.Campaign{Status: model.CampaignCompleted, SentCount: 1},
			outcome:     model.CampaignOutcome{Invalid: 1},
			wantStatus:  model.CampaignCompleted,
			wantPending: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.campaign
			completed := applyCampaignOutcome(&c, tc.outcome, at)

			assert.Equal(t, tc.wantCompleted, completed)
			assert.Equal(t, tc.wantStatus, c.Status)
			assert.Equal(t, tc.wantPending, c.PendingCount)
			if tc.wantCompleted {
				require.NotNil(t, c.CompletedAt)
				assert.Equal(t, at, *c.CompletedAt)
			}
		})
	}
}

func TestFindCampaign(t *testing.T) {
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	t.Run("Found", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE`).
			WillReturnRows(sqlmock.NewRows(campaignColumns).
				AddRow("c-1", testTenantID, "Promo", "PROCESSING", 3, 1, 0, 0, 2))

		campaign, err := repo.FindCampaign(ctx, testTenantID, "c-1")
		require.NoError(t, err)
		assert.Equal(t, model.CampaignProcessing, campaign.Status)
		assert.Equal(t, 2, campaign.PendingCount)
	})

	t.Run("Not Found", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE`).
			WillReturnRows(sqlmock.NewRows(campaignColumns))

		campaign, err := repo.FindCampaign(ctx, testTenantID, "missing")
		assert.Nil(t, campaign)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestStartCampaign(t *testing.T) {
	ctx := context.Background()
	at := time.Now()

	t.Run("Pending Campaign Starts", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`UPDATE "campaigns" SET`).WillReturnResult(sqlmock.NewResult(0, 1))

		started, err := repo.StartCampaign(ctx, testTenantID, "c-1", at)
		require.NoError(t, err)
		assert.True(t, started)
	})

	t.Run("Already Started", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`UPDATE "campaigns" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

		started, err := repo.StartCampaign(ctx, testTenantID, "c-1", at)
		require.NoError(t, err)
		assert.False(t, started)
	})
}

func TestTransitionCampaignMessage(t *testing.T) {
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	sentAt := time.Now()
	update := model.MessageUpdate{Status: model.MessageSent, TransportMessageID: "wamid-1", SentAt: &sentAt}

	t.Run("Wins", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`UPDATE "campaign_messages" SET`).WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.TransitionCampaignMessage(ctx, testTenantID, "m-1", update, model.MessageQueued)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Already Terminal", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`UPDATE "campaign_messages" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.TransitionCampaignMessage(ctx, testTenantID, "m-1", update, model.MessageQueued)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Retries Serialization Failure", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`UPDATE "campaign_messages" SET`).WillReturnError(&pgconn.PgError{Code: "40001"})
		mock.ExpectExec(`UPDATE "campaign_messages" SET`).WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.TransitionCampaignMessage(ctx, testTenantID, "m-1", update)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Permanent Error", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectExec(`UPDATE "campaign_messages" SET`).WillReturnError(&pgconn.PgError{Code: "22001", ColumnName: "transport_message_id"})

		ok, err := repo.TransitionCampaignMessage(ctx, testTenantID, "m-1", update)
		assert.False(t, ok)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}

func TestIncrementCampaignMessageRetry(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "campaign_messages" WHERE .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "status", "retry_count"}).
			AddRow("m-1", testTenantID, "QUEUED", 1))
	mock.ExpectExec(`UPDATE "campaign_messages" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := repo.IncrementCampaignMessageRetry(context.Background(), testTenantID, "m-1", model.ErrorKindNetwork, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordCampaignOutcome(t *testing.T) {
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	at := time.Now()

	t.Run("Last Outcome Completes", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(campaignColumns).
				AddRow("c-1", testTenantID, "Promo", "PROCESSING", 2, 1, 0, 0, 1))
		mock.ExpectExec(`UPDATE "campaigns" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		campaign, completed, err := repo.RecordCampaignOutcome(ctx, testTenantID, "c-1", model.CampaignOutcome{Sent: 1}, at)
		require.NoError(t, err)
		assert.True(t, completed)
		assert.Equal(t, model.CampaignCompleted, campaign.Status)
		assert.Equal(t, 2, campaign.SentCount)
		assert.Equal(t, 0, campaign.PendingCount)
	})

	t.Run("Missing Campaign Rolls Back", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(campaignColumns))
		mock.ExpectRollback()

		campaign, completed, err := repo.RecordCampaignOutcome(ctx, testTenantID, "c-404", model.CampaignOutcome{Failed: 1}, at)
		assert.Nil(t, campaign)
		assert.False(t, completed)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
