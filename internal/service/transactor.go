package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/repository"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

// Transactor runs a unit of work atomically. fn may be invoked more than once
// when the storage reports a transient failure, so it must not have side
// effects outside the stores it receives.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}

// SQLTransactor runs units of work in Postgres transactions.
type SQLTransactor struct {
	db         *sqlx.DB
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
	metrics    *MetricsService
}

// NewSQLTransactor constructs a transactor from the engine settings.
func NewSQLTransactor(db *sqlx.DB, cfg config.EngineConfig, logger *zap.Logger, metrics *MetricsService) *SQLTransactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 2 * time.Second
	}
	if cfg.TxMaxRetries < 0 {
		cfg.TxMaxRetries = 0
	}
	return &SQLTransactor{
		db:         db,
		timeout:    cfg.TxTimeout,
		maxRetries: cfg.TxMaxRetries,
		backoff:    cfg.TxRetryBackoff,
		logger:     logger,
		metrics:    metrics,
	}
}

// WithinTx runs fn in a READ COMMITTED transaction bounded by the configured
// timeout. Transient failures are retried with linear backoff and surface as
// TRANSIENT once the retries are spent.
func (t *SQLTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	return retryTransient(ctx, t.maxRetries, t.backoff, t.logger, t.metrics, func() error {
		return t.attempt(ctx, fn)
	})
}

func (t *SQLTransactor) attempt(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	txCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	start := time.Now()
	err := repository.RunInTx(txCtx, t.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sqlx.Tx) error {
		return fn(txCtx, NewSQLStores(tx))
	})
	t.metrics.ObserveTx(err == nil, time.Since(start))
	return err
}

// retryTransient repeats run while it fails with a transient error and the
// caller's context is alive. Non-transient errors pass through as typed
// errors.
func retryTransient(ctx context.Context, maxRetries int, backoff time.Duration, logger *zap.Logger, metrics *MetricsService, run func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = run()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return wrapStorage(err, "storage failure")
		}
		if attempt >= maxRetries || ctx.Err() != nil {
			break
		}
		metrics.RecordTxRetry()
		logger.Warn("retrying transaction after transient failure",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return appErrors.WrapAs(appErrors.ErrTransient, ctx.Err(), "")
		case <-time.After(time.Duration(attempt+1) * backoff):
		}
	}
	return appErrors.WrapAs(appErrors.ErrTransient, err, "")
}

func isTransient(err error) bool {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErr.Retryable() {
		return true
	}
	return repository.IsTransient(err)
}
