package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/loyalty-enrollment-api/internal/dto"
	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/response"
)

type approvalService interface {
	CreateEnrollmentRequest(ctx context.Context, in service.CreateEnrollmentRequestInput) (*models.ApprovalRequest, error)
	Resolve(ctx context.Context, in service.ResolveInput) (*models.ResolveOutcome, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error)
}

// ApprovalHandler exposes enrollment approval requests over REST.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(service approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// Create godoc
// @Summary Open an enrollment approval request
// @Description Businesses invite a customer into one of their programs. Returns the existing request when one is still pending.
// @Tags Enrollment Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests [post]
func (h *ApprovalHandler) Create(c *gin.Context) {
	if h.service == nil {
		serviceMissing(c, "approval")
		return
	}
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.WrapAs(appErrors.ErrValidation, err, "invalid enrollment request payload"))
		return
	}
	if businessID, ok := claims.BusinessID(); claims.Role != models.RoleAdmin && (!ok || businessID != req.BusinessID) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "requests can only be opened for your own business"))
		return
	}
	created, err := h.service.CreateEnrollmentRequest(c.Request.Context(), service.CreateEnrollmentRequestInput{
		CustomerID: req.CustomerID,
		BusinessID: req.BusinessID,
		ProgramID:  req.ProgramID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Resolve godoc
// @Summary Approve or reject an enrollment request
// @Description Replaying the decision a request already carries returns the earlier outcome with alreadyResolved set.
// @Tags Enrollment Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ResolveRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /enrollment-requests/{id}/resolve [post]
func (h *ApprovalHandler) Resolve(c *gin.Context) {
	if h.service == nil {
		serviceMissing(c, "approval")
		return
	}
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.WrapAs(appErrors.ErrValidation, err, "approved must be true or false"))
		return
	}
	in := service.ResolveInput{RequestID: c.Param("id"), Approve: *req.Approved}
	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleCustomer:
		customerID, _ := claims.CustomerID()
		in.ActorCustomerID = &customerID
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only the invited customer can resolve this request"))
		return
	}
	outcome, err := h.service.Resolve(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome)
}

// Get godoc
// @Summary Get an enrollment request
// @Tags Enrollment Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollment-requests/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	if h.service == nil {
		serviceMissing(c, "approval")
		return
	}
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req)
}
