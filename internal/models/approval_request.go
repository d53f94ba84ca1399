package models

import "time"

// RequestKind is the closed set of approval request variants.
type RequestKind string

const (
	RequestKindEnrollment      RequestKind = "ENROLLMENT"
	RequestKindPointsDeduction RequestKind = "POINTS_DEDUCTION"
)

// Valid reports whether k is a known kind.
func (k RequestKind) Valid() bool {
	switch k {
	case RequestKindEnrollment, RequestKindPointsDeduction:
		return true
	}
	return false
}

// ApprovalStatus captures the lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
	// ApprovalStatusExpired is written by the auto-expiry sweep and when a new
	// request replaces an expired pending one.
	ApprovalStatusExpired ApprovalStatus = "EXPIRED"
)

// Resolved reports whether the request left PENDING.
func (s ApprovalStatus) Resolved() bool {
	return s != ApprovalStatusPending
}

// DecisionStatus maps a customer decision to its terminal status.
func DecisionStatus(approve bool) ApprovalStatus {
	if approve {
		return ApprovalStatusApproved
	}
	return ApprovalStatusRejected
}

// ApprovalRequest is a decision a customer owes a business.
type ApprovalRequest struct {
	ID             string         `db:"id" json:"id"`
	CustomerID     CustomerID     `db:"customer_id" json:"customerId"`
	BusinessID     BusinessID     `db:"business_id" json:"businessId"`
	ProgramID      ProgramID      `db:"program_id" json:"programId"`
	Kind           RequestKind    `db:"kind" json:"kind"`
	Status         ApprovalStatus `db:"status" json:"status"`
	NotificationID *string        `db:"notification_id" json:"notificationId,omitempty"`
	RequestedAt    time.Time      `db:"requested_at" json:"requestedAt"`
	RespondedAt    *time.Time     `db:"responded_at" json:"respondedAt,omitempty"`
	ExpiresAt      time.Time      `db:"expires_at" json:"expiresAt"`
}

// Key returns the enrollment pair the request targets.
func (r *ApprovalRequest) Key() EnrollmentKey {
	return EnrollmentKey{CustomerID: r.CustomerID, ProgramID: r.ProgramID}
}

// ExpiredAt reports whether the request can no longer be resolved at now.
func (r *ApprovalRequest) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ResolveOutcome is returned by a successful resolve.
type ResolveOutcome struct {
	RequestID       string         `json:"requestId"`
	Status          ApprovalStatus `json:"status"`
	CardID          *string        `json:"cardId,omitempty"`
	AlreadyResolved bool           `json:"alreadyResolved"`
}
