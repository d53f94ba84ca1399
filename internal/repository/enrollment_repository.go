package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

const enrollmentColumns = `customer_id, program_id, business_id, status, current_points, enrolled_at, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db DBTX
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db DBTX) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByKey returns the enrollment for the pair, or nil when absent.
func (r *EnrollmentRepository) FindByKey(ctx context.Context, key models.EnrollmentKey) (*models.Enrollment, error) {
	return r.find(ctx, key, "")
}

// FindForUpdate returns the row-locked enrollment for the pair, or nil when
// absent. Must be called inside a transaction.
func (r *EnrollmentRepository) FindForUpdate(ctx context.Context, key models.EnrollmentKey) (*models.Enrollment, error) {
	return r.find(ctx, key, " FOR UPDATE")
}

func (r *EnrollmentRepository) find(ctx context.Context, key models.EnrollmentKey, lock string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE customer_id = $1 AND program_id = $2` + lock
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, key.CustomerID, key.ProgramID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// InsertIfAbsent inserts the enrollment unless a row for the pair exists.
// It reports whether this call created the row; a concurrent inserter blocks
// on the unique index until the other transaction finishes.
func (r *EnrollmentRepository) InsertIfAbsent(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
	VALUES (:customer_id, :program_id, :business_id, :status, :current_points, :enrolled_at, :updated_at)
	ON CONFLICT (customer_id, program_id) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, enrollment)
	if err != nil {
		return false, fmt.Errorf("insert enrollment: %w", err)
	}
	return rowsChanged(result, "enrollment")
}

// UpdateStatus sets the status of the pair's enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, key models.EnrollmentKey, status models.RecordStatus, at time.Time) error {
	const query = `UPDATE enrollments SET status = $3, updated_at = $4 WHERE customer_id = $1 AND program_id = $2`
	if _, err := r.db.ExecContext(ctx, query, key.CustomerID, key.ProgramID, status, at); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// SyncPoints copies a card balance onto the enrollment.
func (r *EnrollmentRepository) SyncPoints(ctx context.Context, key models.EnrollmentKey, points int64, at time.Time) error {
	const query = `UPDATE enrollments SET current_points = $3, updated_at = $4 WHERE customer_id = $1 AND program_id = $2`
	if _, err := r.db.ExecContext(ctx, query, key.CustomerID, key.ProgramID, points, at); err != nil {
		return fmt.Errorf("sync enrollment points: %w", err)
	}
	return nil
}
