package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

const maxReconcileBatchSize = 1000

// ReconciliationService repairs state that violates the enrollment/card
// invariant or leaves request notifications out of sync. Every item is
// repaired in its own transaction; no lock is held across a batch.
type ReconciliationService struct {
	tx        Transactor
	scanner   IntegrityScanner
	activator *Activator
	cache     *CacheService
	cfg       config.ReconcileConfig
	clock     func() time.Time
	metrics   *MetricsService
	logger    *zap.Logger
}

// ReconciliationOption configures the service.
type ReconciliationOption func(*ReconciliationService)

// WithReconcileClock overrides the clock used to find expired requests.
func WithReconcileClock(fn func() time.Time) ReconciliationOption {
	return func(s *ReconciliationService) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// NewReconciliationService constructs the service. cache may be nil.
func NewReconciliationService(tx Transactor, scanner IntegrityScanner, activator *Activator, cache *CacheService, cfg config.ReconcileConfig, metrics *MetricsService, logger *zap.Logger, opts ...ReconciliationOption) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxFailuresReported <= 0 {
		cfg.MaxFailuresReported = 50
	}
	svc := &ReconciliationService{
		tx:        tx,
		scanner:   scanner,
		activator: activator,
		cache:     cache,
		cfg:       cfg,
		clock:     time.Now,
		metrics:   metrics,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Reconcile runs one repair pass. batchSize <= 0 uses the configured size.
// Per-item failures are reported in the summary; only a failing scan or a
// cancelled context aborts the run.
func (s *ReconciliationService) Reconcile(ctx context.Context, batchSize int) (*models.ReconcileSummary, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	if batchSize > maxReconcileBatchSize {
		batchSize = maxReconcileBatchSize
	}
	summary := &models.ReconcileSummary{StartedAt: s.clock().UTC()}
	logger := s.logger.With(zap.Int("batch_size", batchSize))
	logger.Info("reconciliation started")

	steps := []func(context.Context, *models.ReconcileSummary, int) error{
		func(ctx context.Context, summary *models.ReconcileSummary, batchSize int) error {
			return s.repairPairs(ctx, summary, batchSize, models.IssueMissingCard, s.scanner.ListEnrollmentsMissingCard)
		},
		func(ctx context.Context, summary *models.ReconcileSummary, batchSize int) error {
			return s.repairPairs(ctx, summary, batchSize, models.IssueMissingEnrollment, s.scanner.ListCardsMissingEnrollment)
		},
		s.repairNotifications,
		s.sweepExpired,
	}
	for _, step := range steps {
		if err := step(ctx, summary, batchSize); err != nil {
			logger.Error("reconciliation aborted", zap.Error(err))
			return nil, err
		}
	}
	summary.FinishedAt = s.clock().UTC()

	if summary.Repaired > 0 || (s.cfg.AutoExpire && summary.Expired > 0) {
		_ = s.cache.Invalidate(ctx, IntegrityReportCacheKey)
	}
	s.metrics.RecordReconcile(summary)
	logger.Info("reconciliation finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("repaired", summary.Repaired),
		zap.Int("failed", summary.Failed),
		zap.Int("expired", summary.Expired),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (s *ReconciliationService) repairPairs(ctx context.Context, summary *models.ReconcileSummary, batchSize int, kind models.IssueKind, list func(context.Context, models.EnrollmentKey, int) ([]models.PairCandidate, error)) error {
	after := models.EnrollmentKey{}
	for {
		if err := interrupted(ctx); err != nil {
			return err
		}
		batch, err := list(ctx, after, batchSize)
		if err != nil {
			return wrapStorage(err, fmt.Sprintf("failed to scan %s candidates", kind))
		}
		for _, candidate := range batch {
			summary.Scanned++
			changed, err := s.activatePair(ctx, candidate)
			if err != nil {
				s.recordFailure(summary, models.ReconcileFailure{Kind: kind, CustomerID: candidate.CustomerID, ProgramID: candidate.ProgramID}, err)
				continue
			}
			if changed {
				summary.Repaired++
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		after = batch[len(batch)-1].Key()
	}
}

func (s *ReconciliationService) activatePair(ctx context.Context, candidate models.PairCandidate) (bool, error) {
	var changed bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context, stores Stores) error {
		result, err := s.activator.Activate(ctx, stores, candidate.Key(), candidate.BusinessID)
		if err != nil {
			return err
		}
		changed = result.Changed()
		return nil
	})
	return changed, err
}

// repairNotifications marks the notifications of resolved requests actioned.
// Requests without a notification row cannot be repaired here and are left
// to the integrity report.
func (s *ReconciliationService) repairNotifications(ctx context.Context, summary *models.ReconcileSummary, batchSize int) error {
	afterID := ""
	for {
		if err := interrupted(ctx); err != nil {
			return err
		}
		batch, err := s.scanner.ListRequestAnomalies(ctx, afterID, batchSize)
		if err != nil {
			return wrapStorage(err, "failed to scan approval requests")
		}
		for _, row := range batch {
			if !row.NotificationFound || row.NotificationID == nil || !row.Status.Resolved() || row.ActionTaken {
				continue
			}
			summary.Scanned++
			notificationID := *row.NotificationID
			var changed bool
			err := s.tx.WithinTx(ctx, func(ctx context.Context, stores Stores) error {
				var err error
				changed, err = stores.Notifications.MarkActioned(ctx, notificationID)
				return err
			})
			if err != nil {
				s.recordFailure(summary, models.ReconcileFailure{
					Kind:       models.IssueUnsyncedNotification,
					CustomerID: row.CustomerID,
					ProgramID:  row.ProgramID,
					RequestID:  row.ID,
				}, err)
				continue
			}
			if changed {
				summary.Repaired++
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		afterID = batch[len(batch)-1].ID
	}
}

// sweepExpired counts pending requests past their expiry and, when enabled,
// moves them to EXPIRED.
func (s *ReconciliationService) sweepExpired(ctx context.Context, summary *models.ReconcileSummary, batchSize int) error {
	now := s.clock().UTC()
	afterID := ""
	for {
		if err := interrupted(ctx); err != nil {
			return err
		}
		batch, err := s.scanner.ListExpiredPending(ctx, now, afterID, batchSize)
		if err != nil {
			return wrapStorage(err, "failed to scan expired requests")
		}
		for i := range batch {
			req := batch[i]
			summary.Expired++
			if !s.cfg.AutoExpire {
				continue
			}
			err := s.tx.WithinTx(ctx, func(ctx context.Context, stores Stores) error {
				return expireRequest(ctx, stores, &req, now)
			})
			if err != nil {
				s.recordFailure(summary, models.ReconcileFailure{
					Kind:       models.IssueExpiredApprovalRequest,
					CustomerID: req.CustomerID,
					ProgramID:  req.ProgramID,
					RequestID:  req.ID,
				}, err)
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		afterID = batch[len(batch)-1].ID
	}
}

func (s *ReconciliationService) recordFailure(summary *models.ReconcileSummary, failure models.ReconcileFailure, cause error) {
	wrapped := appErrors.WrapAs(appErrors.ErrDataIntegrity, cause, fmt.Sprintf("%s repair failed", failure.Kind))
	summary.Failed++
	s.logger.Error("reconciliation item failed",
		zap.String("kind", string(failure.Kind)),
		zap.Int64("customer_id", int64(failure.CustomerID)),
		zap.Int64("program_id", int64(failure.ProgramID)),
		zap.String("request_id", failure.RequestID),
		zap.Error(wrapped),
	)
	if len(summary.Failures) >= s.cfg.MaxFailuresReported {
		return
	}
	failure.Code = wrapped.Code
	failure.Error = wrapped.Error()
	summary.Failures = append(summary.Failures, failure)
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return appErrors.WrapAs(appErrors.ErrTransient, err, "reconciliation interrupted")
	}
	return nil
}
