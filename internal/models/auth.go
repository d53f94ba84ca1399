package models

import "github.com/golang-jwt/jwt/v5"

// Role names the kind of principal calling the engine.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleBusiness Role = "BUSINESS"
	RoleAdmin    Role = "ADMIN"
)

// JWTClaims is the access token payload issued by the external auth service.
type JWTClaims struct {
	SubjectID int64 `json:"subject_id"`
	Role      Role  `json:"role"`
	jwt.RegisteredClaims
}

// CustomerID returns the subject as a customer when the role matches.
func (c *JWTClaims) CustomerID() (CustomerID, bool) {
	if c == nil || c.Role != RoleCustomer {
		return 0, false
	}
	return CustomerID(c.SubjectID), true
}

// BusinessID returns the subject as a business when the role matches.
func (c *JWTClaims) BusinessID() (BusinessID, bool) {
	if c == nil || c.Role != RoleBusiness {
		return 0, false
	}
	return BusinessID(c.SubjectID), true
}
