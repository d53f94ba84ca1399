package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/loyalty-enrollment-api/internal/middleware"
	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

type fakeReconciler struct {
	summary   *models.ReconcileSummary
	err       error
	batchSize int
	calls     int
}

func (f *fakeReconciler) Reconcile(_ context.Context, batchSize int) (*models.ReconcileSummary, error) {
	f.calls++
	f.batchSize = batchSize
	return f.summary, f.err
}

type fakeIntegrity struct {
	report *models.IntegrityReport
	err    error
}

func (f *fakeIntegrity) Report(context.Context) (*models.IntegrityReport, error) {
	return f.report, f.err
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestOperationsHandlerReconcileDefaultsBatch(t *testing.T) {
	rec := &fakeReconciler{summary: &models.ReconcileSummary{Scanned: 4, Repaired: 3, Failed: 1}}
	handler := NewOperationsHandler(rec, nil)

	c, w := newTestContext(http.MethodPost, "/ops/reconciliation", "", admin)
	handler.Reconcile(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, rec.batchSize)
	envelope := decodeEnvelope(t, w)
	assert.Equal(t, float64(3), envelope.Data["repaired"])
	assert.Equal(t, float64(1), envelope.Data["failed"])
}

func TestOperationsHandlerReconcileBatchSize(t *testing.T) {
	rec := &fakeReconciler{summary: &models.ReconcileSummary{}}
	handler := NewOperationsHandler(rec, nil)

	c, w := newTestContext(http.MethodPost, "/ops/reconciliation", `{"batchSize":25}`, admin)
	handler.Reconcile(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 25, rec.batchSize)

	c, w = newTestContext(http.MethodPost, "/ops/reconciliation", `{"batchSize":5000}`, admin)
	handler.Reconcile(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, rec.calls)
}

func TestOperationsHandlerReconcileAborted(t *testing.T) {
	handler := NewOperationsHandler(&fakeReconciler{err: appErrors.WrapAs(appErrors.ErrTransient, context.Canceled, "reconciliation interrupted")}, nil)

	c, w := newTestContext(http.MethodPost, "/ops/reconciliation", "", admin)
	handler.Reconcile(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestOperationsHandlerIntegrityReportsCacheHit(t *testing.T) {
	report := &models.IntegrityReport{
		Issues:      []models.IntegrityIssue{{Kind: models.IssueMissingCard, CustomerID: 10, ProgramID: 5}},
		Total:       1,
		GeneratedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Cached:      true,
	}
	handler := NewOperationsHandler(nil, &fakeIntegrity{report: report})

	c, w := newTestContext(http.MethodGet, "/ops/integrity", "", admin)
	middleware.WithResponseMeta()(c)
	handler.Integrity(c)

	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.Equal(t, float64(1), envelope.Data["total"])
	assert.Equal(t, true, envelope.Meta["cache_hit"])
}

func TestOperationsHandlerIntegrityError(t *testing.T) {
	handler := NewOperationsHandler(nil, &fakeIntegrity{err: appErrors.ErrInternal})

	c, w := newTestContext(http.MethodGet, "/ops/integrity", "", admin)
	handler.Integrity(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(nil, pingerFunc(func(context.Context) error { return nil }))
	c, w := newTestContext(http.MethodGet, "/ready", "", nil)
	healthy.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	down := NewMetricsHandler(nil, pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))
	c, w = newTestContext(http.MethodGet, "/ready", "", nil)
	down.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "refused")
}
