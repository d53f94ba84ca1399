package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

// IntegrityRepository runs the read-only scans behind reconciliation and
// the integrity report. Every scan is keyset-paged so no statement holds
// locks across a whole table.
type IntegrityRepository struct {
	db DBTX
}

// NewIntegrityRepository constructs the repository.
func NewIntegrityRepository(db DBTX) *IntegrityRepository {
	return &IntegrityRepository{db: db}
}

// ListEnrollmentsMissingCard returns ACTIVE enrollments without an ACTIVE
// card, ordered by pair, strictly after the given key.
func (r *IntegrityRepository) ListEnrollmentsMissingCard(ctx context.Context, after models.EnrollmentKey, limit int) ([]models.PairCandidate, error) {
	const query = `SELECT e.customer_id, e.program_id, e.business_id
FROM enrollments e
WHERE e.status = 'ACTIVE'
  AND (e.customer_id, e.program_id) > ($1, $2)
  AND NOT EXISTS (
	SELECT 1 FROM loyalty_cards c
	WHERE c.customer_id = e.customer_id AND c.program_id = e.program_id AND c.status = 'ACTIVE'
  )
ORDER BY e.customer_id, e.program_id
LIMIT $3`
	var rows []models.PairCandidate
	if err := r.db.SelectContext(ctx, &rows, query, after.CustomerID, after.ProgramID, limit); err != nil {
		return nil, fmt.Errorf("list enrollments missing card: %w", err)
	}
	return rows, nil
}

// ListCardsMissingEnrollment returns ACTIVE cards without an ACTIVE
// enrollment, ordered by pair, strictly after the given key.
func (r *IntegrityRepository) ListCardsMissingEnrollment(ctx context.Context, after models.EnrollmentKey, limit int) ([]models.PairCandidate, error) {
	const query = `SELECT c.customer_id, c.program_id, c.business_id
FROM loyalty_cards c
WHERE c.status = 'ACTIVE'
  AND (c.customer_id, c.program_id) > ($1, $2)
  AND NOT EXISTS (
	SELECT 1 FROM enrollments e
	WHERE e.customer_id = c.customer_id AND e.program_id = c.program_id AND e.status = 'ACTIVE'
  )
ORDER BY c.customer_id, c.program_id
LIMIT $3`
	var rows []models.PairCandidate
	if err := r.db.SelectContext(ctx, &rows, query, after.CustomerID, after.ProgramID, limit); err != nil {
		return nil, fmt.Errorf("list cards missing enrollment: %w", err)
	}
	return rows, nil
}

// ListRequestAnomalies returns requests whose notification is missing, or
// whose notification action flag disagrees with the request status.
// afterID is exclusive; pass "" to start from the beginning.
func (r *IntegrityRepository) ListRequestAnomalies(ctx context.Context, afterID string, limit int) ([]models.RequestAnomaly, error) {
	const query = `SELECT ar.id, ar.customer_id, ar.business_id, ar.program_id, ar.kind, ar.status, ar.notification_id,
       ar.requested_at, ar.responded_at, ar.expires_at,
       (n.id IS NOT NULL) AS notification_found,
       COALESCE(n.action_taken, FALSE) AS action_taken
FROM approval_requests ar
LEFT JOIN notifications n ON n.id = ar.notification_id
WHERE ar.id > $1::uuid
  AND (n.id IS NULL
       OR (ar.status <> 'PENDING' AND n.action_taken = FALSE)
       OR (ar.status = 'PENDING' AND n.action_taken = TRUE))
ORDER BY ar.id
LIMIT $2`
	var rows []models.RequestAnomaly
	if err := r.db.SelectContext(ctx, &rows, query, cursorID(afterID), limit); err != nil {
		return nil, fmt.Errorf("list approval request anomalies: %w", err)
	}
	return rows, nil
}

// ListExpiredPending returns PENDING requests whose expiry is not after now.
func (r *IntegrityRepository) ListExpiredPending(ctx context.Context, now time.Time, afterID string, limit int) ([]models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests
WHERE status = 'PENDING' AND expires_at <= $1 AND id > $2::uuid
ORDER BY id
LIMIT $3`
	var rows []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &rows, query, now, cursorID(afterID), limit); err != nil {
		return nil, fmt.Errorf("list expired approval requests: %w", err)
	}
	return rows, nil
}

func cursorID(afterID string) string {
	if afterID == "" {
		return uuid.Nil.String()
	}
	return afterID
}
