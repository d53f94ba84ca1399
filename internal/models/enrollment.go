package models

import "time"

// RecordStatus is shared by enrollments and loyalty cards. Rows are never
// deleted, only deactivated.
type RecordStatus string

const (
	StatusActive   RecordStatus = "ACTIVE"
	StatusInactive RecordStatus = "INACTIVE"
)

// Enrollment records that a customer participates in a program.
type Enrollment struct {
	CustomerID    CustomerID   `db:"customer_id" json:"customerId"`
	ProgramID     ProgramID    `db:"program_id" json:"programId"`
	BusinessID    BusinessID   `db:"business_id" json:"businessId"`
	Status        RecordStatus `db:"status" json:"status"`
	CurrentPoints int64        `db:"current_points" json:"currentPoints"`
	EnrolledAt    time.Time    `db:"enrolled_at" json:"enrolledAt"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updatedAt"`
}

// Key returns the enrollment pair.
func (e *Enrollment) Key() EnrollmentKey {
	return EnrollmentKey{CustomerID: e.CustomerID, ProgramID: e.ProgramID}
}

// LoyaltyCard is the customer-facing account holding points for one enrollment.
type LoyaltyCard struct {
	ID         string       `db:"id" json:"id"`
	CustomerID CustomerID   `db:"customer_id" json:"customerId"`
	ProgramID  ProgramID    `db:"program_id" json:"programId"`
	BusinessID BusinessID   `db:"business_id" json:"businessId"`
	CardNumber string       `db:"card_number" json:"cardNumber"`
	Status     RecordStatus `db:"status" json:"status"`
	Points     int64        `db:"points" json:"points"`
	CreatedAt  time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updatedAt"`
}

// Key returns the enrollment pair the card belongs to.
func (c *LoyaltyCard) Key() EnrollmentKey {
	return EnrollmentKey{CustomerID: c.CustomerID, ProgramID: c.ProgramID}
}

// ActivationResult describes what an activation changed.
type ActivationResult struct {
	CardID                string `json:"cardId"`
	EnrollmentCreated     bool   `json:"enrollmentCreated"`
	EnrollmentReactivated bool   `json:"enrollmentReactivated"`
	CardMinted            bool   `json:"cardMinted"`
	CardReactivated       bool   `json:"cardReactivated"`
}

// Changed reports whether any row was written.
func (r *ActivationResult) Changed() bool {
	return r != nil && (r.EnrollmentCreated || r.EnrollmentReactivated || r.CardMinted || r.CardReactivated)
}

// RelationshipStatus is the coarse customer-business status.
type RelationshipStatus string

const (
	RelationshipActive   RelationshipStatus = "ACTIVE"
	RelationshipDeclined RelationshipStatus = "DECLINED"
)

// Relationship is a last-write-wins customer-business status row.
type Relationship struct {
	CustomerID CustomerID         `db:"customer_id" json:"customerId"`
	BusinessID BusinessID         `db:"business_id" json:"businessId"`
	Status     RelationshipStatus `db:"status" json:"status"`
	UpdatedAt  time.Time          `db:"updated_at" json:"updatedAt"`
}
