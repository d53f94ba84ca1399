package models

import "time"

// IssueKind classifies integrity violations.
type IssueKind string

const (
	IssueMissingCard             IssueKind = "MISSING_CARD"
	IssueMissingEnrollment       IssueKind = "MISSING_ENROLLMENT"
	IssueOrphanedApprovalRequest IssueKind = "ORPHANED_APPROVAL_REQUEST"
	IssueUnsyncedNotification    IssueKind = "UNSYNCED_NOTIFICATION"
)

// IssueKinds lists every kind the validator reports.
var IssueKinds = []IssueKind{IssueMissingCard, IssueMissingEnrollment, IssueOrphanedApprovalRequest, IssueUnsyncedNotification}

// IntegrityIssue is one violation found by the validator.
type IntegrityIssue struct {
	Kind       IssueKind  `json:"kind"`
	CustomerID CustomerID `json:"customerId"`
	ProgramID  ProgramID  `json:"programId"`
	BusinessID BusinessID `json:"businessId"`
	RequestID  string     `json:"requestId,omitempty"`
	Detail     string     `json:"detail"`
}

// PairCandidate is a row returned by the pairing scans.
type PairCandidate struct {
	CustomerID CustomerID `db:"customer_id"`
	ProgramID  ProgramID  `db:"program_id"`
	BusinessID BusinessID `db:"business_id"`
}

// Key returns the enrollment pair.
func (p PairCandidate) Key() EnrollmentKey {
	return EnrollmentKey{CustomerID: p.CustomerID, ProgramID: p.ProgramID}
}

// RequestAnomaly is a request whose notification is missing or out of sync.
type RequestAnomaly struct {
	ApprovalRequest
	NotificationFound bool `db:"notification_found"`
	ActionTaken       bool `db:"action_taken"`
}

// ReconcileFailure describes one item the reconciliation pass could not repair.
type ReconcileFailure struct {
	Kind       IssueKind  `json:"kind"`
	CustomerID CustomerID `json:"customerId,omitempty"`
	ProgramID  ProgramID  `json:"programId,omitempty"`
	RequestID  string     `json:"requestId,omitempty"`
	Code       string     `json:"code"`
	Error      string     `json:"error"`
}

// ReconcileSummary is the result of one reconciliation run.
type ReconcileSummary struct {
	Scanned    int                `json:"scanned"`
	Repaired   int                `json:"repaired"`
	Failed     int                `json:"failed"`
	Expired    int                `json:"expired"`
	Failures   []ReconcileFailure `json:"failures,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// IssueExpiredApprovalRequest labels reconciliation failures of the expiry
// sweep. The validator does not report it.
const IssueExpiredApprovalRequest IssueKind = "EXPIRED_APPROVAL_REQUEST"

// IntegrityReport is the validator result as served to operators.
type IntegrityReport struct {
	Issues      []IntegrityIssue `json:"issues"`
	Total       int              `json:"total"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Cached      bool             `json:"cached"`
}
