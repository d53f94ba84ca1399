package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/loyalty-enrollment-api/internal/dto"
	"github.com/noah-isme/loyalty-enrollment-api/internal/middleware"
	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/response"
)

type reconciler interface {
	Reconcile(ctx context.Context, batchSize int) (*models.ReconcileSummary, error)
}

type integrityReporter interface {
	Report(ctx context.Context) (*models.IntegrityReport, error)
}

// OperationsHandler exposes the repair and audit jobs to operators.
type OperationsHandler struct {
	reconciler reconciler
	integrity  integrityReporter
}

// NewOperationsHandler constructs the handler.
func NewOperationsHandler(reconciler reconciler, integrity integrityReporter) *OperationsHandler {
	return &OperationsHandler{reconciler: reconciler, integrity: integrity}
}

// Reconcile godoc
// @Summary Run a reconciliation pass
// @Description Repairs missing enrollments, missing cards and unsynced notifications. Item failures are listed in the summary.
// @Tags Operations
// @Accept json
// @Produce json
// @Param payload body dto.ReconcileRequest false "Batch settings"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /ops/reconciliation [post]
func (h *OperationsHandler) Reconcile(c *gin.Context) {
	if h.reconciler == nil {
		serviceMissing(c, "reconciliation")
		return
	}
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.WrapAs(appErrors.ErrValidation, err, "batchSize must be between 0 and 1000"))
		return
	}
	summary, err := h.reconciler.Reconcile(c.Request.Context(), req.BatchSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// Integrity godoc
// @Summary Report consistency violations
// @Tags Operations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ops/integrity [get]
func (h *OperationsHandler) Integrity(c *gin.Context) {
	if h.integrity == nil {
		serviceMissing(c, "integrity")
		return
	}
	report, err := h.integrity.Report(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, report.Cached)
	response.JSON(c, http.StatusOK, report, middleware.ExtractMeta(c))
}
