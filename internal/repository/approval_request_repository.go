package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

const approvalRequestColumns = `id, customer_id, business_id, program_id, kind, status, notification_id,
       requested_at, responded_at, expires_at`

// ApprovalRequestRepository persists approval requests.
type ApprovalRequestRepository struct {
	db DBTX
}

// NewApprovalRequestRepository constructs the repository.
func NewApprovalRequestRepository(db DBTX) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// Create inserts a new request row.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ApprovalStatusPending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_requests
	(id, customer_id, business_id, program_id, kind, status, notification_id, requested_at, responded_at, expires_at)
	VALUES (:id, :customer_id, :business_id, :program_id, :kind, :status, :notification_id, :requested_at, :responded_at, :expires_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetForUpdate fetches and row-locks a request so concurrent resolves of
// the same request serialize.
func (r *ApprovalRequestRepository) GetForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPending returns the pending request of a kind for the pair, or nil.
func (r *ApprovalRequestRepository) FindPending(ctx context.Context, key models.EnrollmentKey, kind models.RequestKind) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests
	WHERE customer_id = $1 AND program_id = $2 AND kind = $3 AND status = $4
	ORDER BY requested_at DESC LIMIT 1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, key.CustomerID, key.ProgramID, kind, models.ApprovalStatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending approval request: %w", err)
	}
	return &req, nil
}

// MarkResolved moves a PENDING request to its terminal status. It returns
// sql.ErrNoRows when the request was not pending anymore.
func (r *ApprovalRequestRepository) MarkResolved(ctx context.Context, id string, status models.ApprovalStatus, respondedAt time.Time) error {
	const query = `UPDATE approval_requests SET status = $2, responded_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, status, respondedAt, models.ApprovalStatusPending)
	if err != nil {
		return fmt.Errorf("resolve approval request: %w", err)
	}
	changed, err := rowsChanged(result, "approval request")
	if err != nil {
		return err
	}
	if !changed {
		return sql.ErrNoRows
	}
	return nil
}
