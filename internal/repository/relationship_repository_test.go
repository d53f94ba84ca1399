package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

func TestRelationshipRepositoryUpsertLastWriteWins(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRelationshipRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (customer_id, business_id)")).
		WithArgs(int64(10), int64(3), "DECLINED", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET status = EXCLUDED.status")).
		WithArgs(int64(10), int64(3), "ACTIVE", at.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), &models.Relationship{CustomerID: 10, BusinessID: 3, Status: models.RelationshipDeclined, UpdatedAt: at}))
	require.NoError(t, repo.Upsert(context.Background(), &models.Relationship{CustomerID: 10, BusinessID: 3, Status: models.RelationshipActive, UpdatedAt: at.Add(time.Minute)}))
	require.NoError(t, mock.ExpectationsWereMet())
}
