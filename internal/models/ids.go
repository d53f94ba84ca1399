package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CustomerID identifies a customer account.
type CustomerID int64

// BusinessID identifies a business owning loyalty programs.
type BusinessID int64

// ProgramID identifies a loyalty program.
type ProgramID int64

// ParseCustomerID parses a canonical customer identifier.
func ParseCustomerID(raw string) (CustomerID, error) {
	v, err := parseCanonicalID("customerId", raw)
	return CustomerID(v), err
}

// ParseBusinessID parses a canonical business identifier.
func ParseBusinessID(raw string) (BusinessID, error) {
	v, err := parseCanonicalID("businessId", raw)
	return BusinessID(v), err
}

// ParseProgramID parses a canonical program identifier.
func ParseProgramID(raw string) (ProgramID, error) {
	v, err := parseCanonicalID("programId", raw)
	return ProgramID(v), err
}

func (id CustomerID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id BusinessID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id ProgramID) String() string  { return strconv.FormatInt(int64(id), 10) }

// UnmarshalJSON accepts a JSON number or a quoted canonical decimal.
func (id *CustomerID) UnmarshalJSON(data []byte) error {
	raw, err := idText("customerId", data)
	if err != nil {
		return err
	}
	*id, err = ParseCustomerID(raw)
	return err
}

// UnmarshalJSON accepts a JSON number or a quoted canonical decimal.
func (id *BusinessID) UnmarshalJSON(data []byte) error {
	raw, err := idText("businessId", data)
	if err != nil {
		return err
	}
	*id, err = ParseBusinessID(raw)
	return err
}

// UnmarshalJSON accepts a JSON number or a quoted canonical decimal.
func (id *ProgramID) UnmarshalJSON(data []byte) error {
	raw, err := idText("programId", data)
	if err != nil {
		return err
	}
	*id, err = ParseProgramID(raw)
	return err
}

// InvalidIDError reports a non-canonical identifier.
type InvalidIDError struct {
	Field string
	Value string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("%s must be a positive integer without sign or leading zeros, got %q", e.Field, e.Value)
}

// idText returns the digits of a JSON number or quoted string.
func idText(field string, data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", &InvalidIDError{Field: field, Value: string(data)}
		}
		return s, nil
	}
	return string(data), nil
}

// parseCanonicalID only admits the form produced by strconv.FormatInt for a
// positive value, so "05", "+5", "5.0" and " 5" are all rejected.
func parseCanonicalID(field, raw string) (int64, error) {
	if raw == "" || raw[0] == '0' {
		return 0, &InvalidIDError{Field: field, Value: raw}
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, &InvalidIDError{Field: field, Value: raw}
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, &InvalidIDError{Field: field, Value: raw}
	}
	return v, nil
}

// EnrollmentKey is the (customer, program) pair that enrollments and cards
// are unique on.
type EnrollmentKey struct {
	CustomerID CustomerID `db:"customer_id" json:"customerId"`
	ProgramID  ProgramID  `db:"program_id" json:"programId"`
}

// Less orders keys the way the keyset scans do.
func (k EnrollmentKey) Less(other EnrollmentKey) bool {
	if k.CustomerID != other.CustomerID {
		return k.CustomerID < other.CustomerID
	}
	return k.ProgramID < other.ProgramID
}

func (k EnrollmentKey) String() string {
	return fmt.Sprintf("customer=%d program=%d", k.CustomerID, k.ProgramID)
}
