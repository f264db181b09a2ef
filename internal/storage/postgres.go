package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/observer"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// Retry budgets per call class. Reads give up sooner than commits so a slow database shows
// up as a failed job attempt rather than a stalled worker.
const (
	retryInitialInterval       = 50 * time.Millisecond
	retryMaxInterval           = 2 * time.Second
	defaultRetryMaxElapsedTime = 10 * time.Second
	readRetryMaxElapsedTime    = 5 * time.Second
	commitRetryMaxElapsedTime  = 15 * time.Second
)

// permanentGormErrors never improve on retry.
var permanentGormErrors = []error{
	gorm.ErrRecordNotFound,
	gorm.ErrInvalidTransaction,
	gorm.ErrDuplicatedKey,
	gorm.ErrForeignKeyViolated,
}

// transientMessages catch driver errors that arrive without a pg error code.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"network is unreachable",
	"no route to host",
	"could not translate host name",
	"i/o timeout",
	"broken pipe",
	"database system is starting up",
}

// observe runs operation with exponential backoff on transient errors and records its
// duration under op/entity.
func observe(ctx context.Context, maxElapsed time.Duration, op, entity, tenantID string, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = maxElapsed
	b.Reset()

	attempt := func() error {
		err := operation()
		if err == nil || isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", op+" "+entity),
			zap.String("tenant_id", tenantID),
			zap.Duration("after", d),
			zap.Error(err))
	}

	start := time.Now()
	err := backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), notify)
	observer.ObserveDbOperationDuration(op, entity, tenantID, time.Since(start), err)
	return err
}

// isTransientError reports whether err looks like a connectivity, resource or concurrency
// failure that a retry can clear. Codes follow
// https://www.postgresql.org/docs/current/errcodes-appendix.html.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range permanentGormErrors {
		if errors.Is(err, permanent) {
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"):
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// PostgresRepo implements every repository on a shared, tenant-keyed schema.
type PostgresRepo struct {
	db *gorm.DB
}

var _ Store = (*PostgresRepo)(nil)

// allModels lists the tables owned by this service, in migration order.
func allModels() []interface{} {
	return []interface{}{
		&model.Campaign{},
		&model.CampaignMessage{},
		&model.FollowupCampaign{},
		&model.FollowupMessage{},
		&model.ContactFollowup{},
		&model.ConversationFunnel{},
		&model.FunnelSettings{},
		&model.AutoReplyLog{},
		&model.AutoReplySettings{},
		&model.ExhaustedJob{},
	}
}

// PoolOptions sizes the connection pool. Zero values keep the database/sql defaults.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresRepo connects with retries for up to a minute, sizes the pool and optionally
// migrates the schema.
func NewPostgresRepo(dsn string, autoMigrate bool, pool PoolOptions) (*PostgresRepo, error) {
	connect := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			return db, nil
		}
		if isTransientError(err) {
			return nil, err
		}
		return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres: %w", err))
	}
	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Postgres not reachable yet, retrying", zap.Error(err), zap.Duration("after", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = time.Minute

	db, err := backoff.RetryNotifyWithData(connect, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
	}
	repo := &PostgresRepo{db: db}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if autoMigrate {
		logger.Log.Info("Running database auto-migration", zap.Int("tables", len(allModels())))
		if err := db.AutoMigrate(allModels()...); err != nil {
			_ = repo.Close(context.Background())
			return nil, fmt.Errorf("%w: auto-migration failed: %w", apperrors.ErrDatabase, err)
		}
	}
	return repo, nil
}

// Ping checks the database connection, used by the readiness probe.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

// Close closes the database connection
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

// inTx runs fn inside a transaction. The transaction is rolled back when fn returns an
// error or panics, and committed otherwise.
func (r *PostgresRepo) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
	}

	var txErr error
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback().Error; rbErr != nil {
				logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
			}
		}
	}()

	if txErr = fn(tx); txErr != nil {
		return txErr
	}

	if commitErr := tx.Commit().Error; commitErr != nil {
		txErr = checkConstraintViolation(commitErr)
		return txErr
	}
	return nil
}

type pgErrorClass struct {
	sentinel error
	describe func(*pgconn.PgError) string
}

func byConstraint(e *pgconn.PgError) string { return "constraint " + e.ConstraintName }

// pgErrorClasses maps exact SQLSTATE codes. Unlisted codes fall back to ErrDatabase.
var pgErrorClasses = map[string]pgErrorClass{
	"23505": {apperrors.ErrDuplicate, byConstraint},
	"23503": {apperrors.ErrBadRequest, byConstraint},
	"23514": {apperrors.ErrBadRequest, byConstraint},
	"23502": {apperrors.ErrBadRequest, func(e *pgconn.PgError) string { return "null value in column " + e.ColumnName }},
	"22001": {apperrors.ErrBadRequest, func(e *pgconn.PgError) string { return "value too long for column " + e.ColumnName }},
	"22P02": {apperrors.ErrBadRequest, func(e *pgconn.PgError) string { return "invalid input syntax for type " + e.DataTypeName }},
	"40001": {apperrors.ErrDatabase, func(e *pgconn.PgError) string { return "transaction rollback (" + e.Code + ")" }},
	"40P01": {apperrors.ErrDatabase, func(e *pgconn.PgError) string { return "transaction rollback (" + e.Code + ")" }},
}

// checkConstraintViolation wraps a gorm or pgx error in the matching apperrors sentinel,
// keeping the original error in the chain.
func checkConstraintViolation(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if class, ok := pgErrorClasses[pgErr.Code]; ok {
		return fmt.Errorf("%w: %s: %w", class.sentinel, class.describe(pgErr), err)
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "53"):
		return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
	case strings.HasPrefix(pgErr.Code, "08"):
		return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
	default:
		return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
	}
}

// statusStrings converts typed status values for IN clauses.
func statusStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
