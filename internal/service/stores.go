package service

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

// ApprovalRequestStore persists approval requests.
type ApprovalRequestStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error)
	FindPending(ctx context.Context, key models.EnrollmentKey, kind models.RequestKind) (*models.ApprovalRequest, error)
	MarkResolved(ctx context.Context, id string, status models.ApprovalStatus, respondedAt time.Time) error
}

// NotificationStore is the durable notification sink.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	MarkActioned(ctx context.Context, id string) (bool, error)
}

// EnrollmentStore persists enrollments.
type EnrollmentStore interface {
	FindByKey(ctx context.Context, key models.EnrollmentKey) (*models.Enrollment, error)
	FindForUpdate(ctx context.Context, key models.EnrollmentKey) (*models.Enrollment, error)
	InsertIfAbsent(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	UpdateStatus(ctx context.Context, key models.EnrollmentKey, status models.RecordStatus, at time.Time) error
	SyncPoints(ctx context.Context, key models.EnrollmentKey, points int64, at time.Time) error
}

// CardStore persists loyalty cards.
type CardStore interface {
	FindForUpdate(ctx context.Context, key models.EnrollmentKey) (*models.LoyaltyCard, error)
	FindActive(ctx context.Context, key models.EnrollmentKey) (*models.LoyaltyCard, error)
	Insert(ctx context.Context, card *models.LoyaltyCard) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.RecordStatus, at time.Time) error
}

// RelationshipStore is the customer-business relationship ledger.
type RelationshipStore interface {
	Upsert(ctx context.Context, rel *models.Relationship) error
}

// IntegrityScanner runs the read-only consistency scans.
type IntegrityScanner interface {
	ListEnrollmentsMissingCard(ctx context.Context, after models.EnrollmentKey, limit int) ([]models.PairCandidate, error)
	ListCardsMissingEnrollment(ctx context.Context, after models.EnrollmentKey, limit int) ([]models.PairCandidate, error)
	ListRequestAnomalies(ctx context.Context, afterID string, limit int) ([]models.RequestAnomaly, error)
	ListExpiredPending(ctx context.Context, now time.Time, afterID string, limit int) ([]models.ApprovalRequest, error)
}

// Stores groups the repositories of one unit of work. Every member is bound
// to the same transaction.
type Stores struct {
	Requests      ApprovalRequestStore
	Notifications NotificationStore
	Enrollments   EnrollmentStore
	Cards         CardStore
	Relationships RelationshipStore
}

// NewSQLStores binds the Postgres repositories to db, usually a *sqlx.Tx.
func NewSQLStores(db repository.DBTX) Stores {
	return Stores{
		Requests:      repository.NewApprovalRequestRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Enrollments:   repository.NewEnrollmentRepository(db),
		Cards:         repository.NewLoyaltyCardRepository(db),
		Relationships: repository.NewRelationshipRepository(db),
	}
}

// wrapStorage turns an untyped storage error into INTERNAL_ERROR and keeps
// typed errors as they are.
func wrapStorage(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.WrapAs(appErrors.ErrInternal, err, message)
}
