package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

const (
	testTenantID = "tenant-test-123"
	testPhone    = "628123456789"
)

// newMockDB opens gorm over sqlmock with regexp query matching, so expectations quote only
// the stable prefix of the generated SQL.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db, PreferSimpleProtocol: true}),
		&gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return gormDB, mock, func() { assert.NoError(t, mock.ExpectationsWereMet()) }
}

func TestIsTransientError(t *testing.T) {
	transient := map[string]error{
		"deadline":               context.DeadlineExceeded,
		"wrapped deadline":       fmt.Errorf("claim due followups: %w", context.DeadlineExceeded),
		"connection exception":   &pgconn.PgError{Code: "08000"},
		"insufficient resources": &pgconn.PgError{Code: "53100"},
		"deadlock":               &pgconn.PgError{Code: "40P01"},
		"serialization":          &pgconn.PgError{Code: "40001"},
		"refused":                errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
		"io timeout":             errors.New("read tcp 10.0.0.1:1234->10.0.0.2:5432: i/o timeout"),
		"broken pipe":            errors.New("write: broken pipe"),
		"starting up":            errors.New("pq: the database system is starting up"),
	}
	for name, err := range transient {
		assert.True(t, isTransientError(err), name)
	}

	permanent := map[string]error{
		"nil":                 nil,
		"not found":           gorm.ErrRecordNotFound,
		"invalid transaction": gorm.ErrInvalidTransaction,
		"syntax":              &pgconn.PgError{Code: "42601"},
		"generic":             errors.New("column \"stage\" does not exist"),
	}
	for name, err := range permanent {
		assert.False(t, isTransientError(err), name)
	}
}

func TestPostgresRepo_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db, PreferSimpleProtocol: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectPing()
	assert.NoError(t, repo.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = repo.Ping(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx(t *testing.T) {
	t.Run("Commit", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "campaigns" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.inTx(context.Background(), func(tx *gorm.DB) error {
			return tx.Exec(`UPDATE "campaigns" SET pending_count = 0`).Error
		})
		assert.NoError(t, err)
	})

	t.Run("Rollback On Error", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := repo.inTx(context.Background(), func(tx *gorm.DB) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Begin Fails", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := repo.inTx(context.Background(), func(tx *gorm.DB) error { return nil })
		assert.ErrorIs(t, err, apperrors.ErrDatabase)
	})

	t.Run("Commit Conflict", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_funnel_tenant_phone"})

		err := repo.inTx(context.Background(), func(tx *gorm.DB) error { return nil })
		assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	})
}

func TestStatusStrings(t *testing.T) {
	got := statusStrings([]model.MessageStatus{model.MessagePending, model.MessageQueued})
	assert.Equal(t, []string{"PENDING", "QUEUED"}, got)
	assert.Empty(t, statusStrings([]model.Stage{}))
}

func TestPostgresRepo_Close(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectClose()

		err := repo.Close(context.Background())
		assert.NoError(t, err)
	})

	t.Run("Close Fails", func(t *testing.T) {
		gormDB, mock, teardown := newMockDB(t)
		t.Cleanup(teardown)
		repo := &PostgresRepo{db: gormDB}

		mock.ExpectClose().WillReturnError(errors.New("db close error"))

		err := repo.Close(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close SQL DB")
		assert.Contains(t, err.Error(), "db close error")
	})
}

func TestCheckConstraintViolation(t *testing.T) {
	assert.NoError(t, checkConstraintViolation(nil))

	tests := []struct {
		name    string
		err     error
		want    error
		message string
	}{
		{"record not found", gorm.ErrRecordNotFound, apperrors.ErrNotFound, "record not found"},
		{"wrapped not found", fmt.Errorf("find funnel: %w", gorm.ErrRecordNotFound), apperrors.ErrNotFound, "record not found"},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "idx_followup_messages_step"}, apperrors.ErrDuplicate, "idx_followup_messages_step"},
		{"wrapped unique", fmt.Errorf("claim: %w", &pgconn.PgError{Code: "23505", ConstraintName: "campaigns_pkey"}), apperrors.ErrDuplicate, "campaigns_pkey"},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "fk_campaign_messages_campaign"}, apperrors.ErrBadRequest, "fk_campaign_messages_campaign"},
		{"not null", &pgconn.PgError{Code: "23502", ColumnName: "phone"}, apperrors.ErrBadRequest, "phone"},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "pending_count_check"}, apperrors.ErrBadRequest, "pending_count_check"},
		{"truncation", &pgconn.PgError{Code: "22001", ColumnName: "close_reason"}, apperrors.ErrBadRequest, "close_reason"},
		{"invalid text", &pgconn.PgError{Code: "22P02", DataTypeName: "integer"}, apperrors.ErrBadRequest, "integer"},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, apperrors.ErrDatabase, "40P01"},
		{"serialization", &pgconn.PgError{Code: "40001"}, apperrors.ErrDatabase, "40001"},
		{"out of memory", &pgconn.PgError{Code: "53200"}, apperrors.ErrDatabase, "53200"},
		{"connection gone", &pgconn.PgError{Code: "08003"}, apperrors.ErrDatabase, "08003"},
		{"internal", &pgconn.PgError{Code: "XX000"}, apperrors.ErrDatabase, "XX000"},
		{"generic", errors.New("some generic DB error"), apperrors.ErrDatabase, "some generic DB error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := checkConstraintViolation(tc.err)
			assert.ErrorIs(t, out, tc.want)
			assert.ErrorIs(t, out, tc.err, "original error stays in the chain")
			assert.ErrorContains(t, out, tc.message)
		})
	}
}

func TestSaveAutoReplySettings_Invalid(t *testing.T) {
	gormDB, _, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	settings := model.NewAutoReplySettings(&model.AutoReplySettings{
		TenantID: testTenantID, Enabled: true, WorkingHoursEnabled: true, WorkingHoursStart: "8am", WorkingHoursEnd: "17:00",
	})
	err := repo.SaveAutoReplySettings(context.Background(), settings)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.ErrorContains(t, err, "working_hours_start")
}
