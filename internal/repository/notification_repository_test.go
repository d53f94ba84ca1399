package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

func TestNotificationRepositoryCreateBindsDataAsText(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	data := json.RawMessage(`{"requestId":"req-1"}`)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs(sqlmock.AnyArg(), int64(10), int64(3), "BUSINESS", "ENROLLMENT_REQUEST", "New enrollment request", "Customer 10 asked to join", `{"requestId":"req-1"}`, true, false, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	n := &models.Notification{
		CustomerID:     10,
		BusinessID:     3,
		Recipient:      models.RecipientBusiness,
		Type:           models.NotificationEnrollmentRequest,
		Title:          "New enrollment request",
		Message:        "Customer 10 asked to join",
		Data:           data,
		RequiresAction: true,
	}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NotEmpty(t, n.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkActioned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	query := regexp.QuoteMeta("UPDATE notifications SET action_taken = TRUE, is_read = TRUE WHERE id = $1 AND action_taken = FALSE")
	mock.ExpectExec(query).WithArgs("n-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("n-1").WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.MarkActioned(context.Background(), "n-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkActioned(context.Background(), "n-1")
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}
