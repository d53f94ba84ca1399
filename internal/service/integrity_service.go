package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/config"
)

const (
	// IntegrityReportCacheKey holds the last integrity report.
	IntegrityReportCacheKey = "integrity:report"
	integrityPageSize       = 500
)

// IntegrityService reports consistency violations without changing data.
type IntegrityService struct {
	scanner  IntegrityScanner
	cache    *CacheService
	cacheTTL time.Duration
	pageSize int
	clock    func() time.Time
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewIntegrityService constructs the validator. cache may be nil.
func NewIntegrityService(scanner IntegrityScanner, cache *CacheService, cfg config.IntegrityConfig, metrics *MetricsService, logger *zap.Logger) *IntegrityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.CacheEnabled {
		cache = nil
	}
	return &IntegrityService{
		scanner:  scanner,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		pageSize: integrityPageSize,
		clock:    time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// Validate scans every table pair and returns all violations found.
func (s *IntegrityService) Validate(ctx context.Context) ([]models.IntegrityIssue, error) {
	issues := make([]models.IntegrityIssue, 0)

	missingCards, err := s.scanPairs(ctx, s.scanner.ListEnrollmentsMissingCard)
	if err != nil {
		return nil, wrapStorage(err, "failed to scan enrollments")
	}
	for _, pair := range missingCards {
		issues = append(issues, pairIssue(models.IssueMissingCard, pair, "active enrollment has no active loyalty card"))
	}

	missingEnrollments, err := s.scanPairs(ctx, s.scanner.ListCardsMissingEnrollment)
	if err != nil {
		return nil, wrapStorage(err, "failed to scan loyalty cards")
	}
	for _, pair := range missingEnrollments {
		issues = append(issues, pairIssue(models.IssueMissingEnrollment, pair, "active loyalty card has no active enrollment"))
	}

	afterID := ""
	for {
		rows, err := s.scanner.ListRequestAnomalies(ctx, afterID, s.pageSize)
		if err != nil {
			return nil, wrapStorage(err, "failed to scan approval requests")
		}
		for _, row := range rows {
			if issue, ok := anomalyIssue(row); ok {
				issues = append(issues, issue)
			}
		}
		if len(rows) < s.pageSize {
			break
		}
		afterID = rows[len(rows)-1].ID
	}

	s.metrics.SetIntegrityIssues(issues)
	if len(issues) > 0 {
		s.logger.Warn("integrity violations found", zap.Int("issues", len(issues)))
	}
	return issues, nil
}

// Report returns the validation result, served from cache when fresh.
func (s *IntegrityService) Report(ctx context.Context) (*models.IntegrityReport, error) {
	var cached models.IntegrityReport
	if hit, _ := s.cache.Get(ctx, IntegrityReportCacheKey, &cached); hit {
		cached.Cached = true
		return &cached, nil
	}
	issues, err := s.Validate(ctx)
	if err != nil {
		return nil, err
	}
	report := &models.IntegrityReport{
		Issues:      issues,
		Total:       len(issues),
		GeneratedAt: s.clock().UTC(),
	}
	_ = s.cache.Set(ctx, IntegrityReportCacheKey, report, s.cacheTTL)
	return report, nil
}

func (s *IntegrityService) scanPairs(ctx context.Context, list func(context.Context, models.EnrollmentKey, int) ([]models.PairCandidate, error)) ([]models.PairCandidate, error) {
	var all []models.PairCandidate
	after := models.EnrollmentKey{}
	for {
		rows, err := list(ctx, after, s.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < s.pageSize {
			return all, nil
		}
		after = rows[len(rows)-1].Key()
	}
}

func pairIssue(kind models.IssueKind, pair models.PairCandidate, detail string) models.IntegrityIssue {
	return models.IntegrityIssue{
		Kind:       kind,
		CustomerID: pair.CustomerID,
		ProgramID:  pair.ProgramID,
		BusinessID: pair.BusinessID,
		Detail:     detail,
	}
}

func anomalyIssue(row models.RequestAnomaly) (models.IntegrityIssue, bool) {
	issue := models.IntegrityIssue{
		CustomerID: row.CustomerID,
		ProgramID:  row.ProgramID,
		BusinessID: row.BusinessID,
		RequestID:  row.ID,
	}
	switch {
	case !row.NotificationFound:
		issue.Kind = models.IssueOrphanedApprovalRequest
		issue.Detail = "approval request has no notification"
	case row.Status == models.ApprovalStatusPending && row.ActionTaken:
		issue.Kind = models.IssueOrphanedApprovalRequest
		issue.Detail = "pending approval request has an actioned notification"
	case row.Status.Resolved() && !row.ActionTaken:
		issue.Kind = models.IssueUnsyncedNotification
		issue.Detail = fmt.Sprintf("%s approval request has an unactioned notification", row.Status)
	default:
		return issue, false
	}
	return issue, true
}
