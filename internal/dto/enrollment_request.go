package dto

import "github.com/noah-isme/loyalty-enrollment-api/internal/models"

// CreateEnrollmentRequest opens an enrollment approval request. IDs accept
// JSON numbers or numeric strings.
type CreateEnrollmentRequest struct {
	CustomerID models.CustomerID `json:"customerId" binding:"required"`
	BusinessID models.BusinessID `json:"businessId" binding:"required"`
	ProgramID  models.ProgramID  `json:"programId" binding:"required"`
}

// ResolveRequest carries the decision on an approval request.
type ResolveRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

// ReconcileRequest tunes a reconciliation run. A zero batch size uses the
// configured default.
type ReconcileRequest struct {
	BatchSize int `json:"batchSize" binding:"gte=0,lte=1000"`
}
