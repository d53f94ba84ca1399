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

const cardColumns = `id, customer_id, program_id, business_id, card_number, status, points, created_at, updated_at`

// LoyaltyCardRepository persists loyalty cards.
type LoyaltyCardRepository struct {
	db DBTX
}

// NewLoyaltyCardRepository constructs the repository.
func NewLoyaltyCardRepository(db DBTX) *LoyaltyCardRepository {
	return &LoyaltyCardRepository{db: db}
}

// FindForUpdate returns the row-locked card of the pair regardless of its
// status, or nil when none was ever issued.
func (r *LoyaltyCardRepository) FindForUpdate(ctx context.Context, key models.EnrollmentKey) (*models.LoyaltyCard, error) {
	query := `SELECT ` + cardColumns + ` FROM loyalty_cards WHERE customer_id = $1 AND program_id = $2 FOR UPDATE`
	return r.get(ctx, query, key.CustomerID, key.ProgramID)
}

// FindActive returns the ACTIVE card of the pair, or nil.
func (r *LoyaltyCardRepository) FindActive(ctx context.Context, key models.EnrollmentKey) (*models.LoyaltyCard, error) {
	query := `SELECT ` + cardColumns + ` FROM loyalty_cards WHERE customer_id = $1 AND program_id = $2 AND status = $3`
	return r.get(ctx, query, key.CustomerID, key.ProgramID, models.StatusActive)
}

func (r *LoyaltyCardRepository) get(ctx context.Context, query string, args ...interface{}) (*models.LoyaltyCard, error) {
	var card models.LoyaltyCard
	if err := r.db.GetContext(ctx, &card, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find loyalty card: %w", err)
	}
	return &card, nil
}

// Insert stores a freshly minted card. A collision on the card number is
// not an error: it reports false so the issuer can pick another number.
// A collision on the (customer, program) pair still fails.
func (r *LoyaltyCardRepository) Insert(ctx context.Context, card *models.LoyaltyCard) (bool, error) {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	const query = `INSERT INTO loyalty_cards (` + cardColumns + `)
	VALUES (:id, :customer_id, :program_id, :business_id, :card_number, :status, :points, :created_at, :updated_at)
	ON CONFLICT (card_number) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, card)
	if err != nil {
		return false, fmt.Errorf("insert loyalty card: %w", err)
	}
	return rowsChanged(result, "loyalty card")
}

// UpdateStatus sets a card status.
func (r *LoyaltyCardRepository) UpdateStatus(ctx context.Context, id string, status models.RecordStatus, at time.Time) error {
	const query = `UPDATE loyalty_cards SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, at); err != nil {
		return fmt.Errorf("update loyalty card status: %w", err)
	}
	return nil
}
