package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

// RelationshipRepository is the customer-business relationship ledger.
type RelationshipRepository struct {
	db DBTX
}

// NewRelationshipRepository constructs the repository.
func NewRelationshipRepository(db DBTX) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

// Upsert writes the relationship status; the latest write wins.
func (r *RelationshipRepository) Upsert(ctx context.Context, rel *models.Relationship) error {
	const query = `INSERT INTO relationships (customer_id, business_id, status, updated_at)
VALUES (:customer_id, :business_id, :status, :updated_at)
ON CONFLICT (customer_id, business_id)
DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, rel); err != nil {
		return fmt.Errorf("upsert relationship: %w", err)
	}
	return nil
}
