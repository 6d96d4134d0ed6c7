// Package models contains the data models shared by the licensectl client,
// its services and the command-line console.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LicenseStatus is the lifecycle status of a license. Transitions are decided
// by the license server; the client only requests them.
type LicenseStatus string

const (
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusInactive LicenseStatus = "inactive"
	LicenseStatusPending  LicenseStatus = "pending"
	LicenseStatusExpired  LicenseStatus = "expired"
	LicenseStatusRevoked  LicenseStatus = "revoked"
)

// LicenseStatuses lists every status in display order.
var LicenseStatuses = []LicenseStatus{
	LicenseStatusActive,
	LicenseStatusInactive,
	LicenseStatusPending,
	LicenseStatusExpired,
	LicenseStatusRevoked,
}

// ParseLicenseStatus returns the status named by s (case-insensitive).
func ParseLicenseStatus(s string) (LicenseStatus, error) {
	v := LicenseStatus(strings.ToLower(strings.TrimSpace(s)))
	if v.Valid() {
		return v, nil
	}
	return "", fmt.Errorf("unknown license status %q", s)
}

// Valid reports whether s is one of the known statuses.
func (s LicenseStatus) Valid() bool {
	for _, v := range LicenseStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// License is a license record as returned by the license server.
type License struct {
	ID            string          `json:"id"`
	LicenseKey    string          `json:"license_key"`
	Status        LicenseStatus   `json:"status"`
	Type          string          `json:"type"`
	ProductName   string          `json:"product_name"`
	CustomerName  *string         `json:"customer_name"`
	CustomerEmail *string         `json:"customer_email"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	IssuedAt      *time.Time      `json:"issued_at,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasMetadata reports whether the license carries a non-null metadata document.
func (l License) HasMetadata() bool {
	m := strings.TrimSpace(string(l.Metadata))
	return m != "" && m != "null"
}

// LicensePage is one server-side page of licenses.
type LicensePage struct {
	Licenses   []License `json:"licenses"`
	TotalCount int       `json:"totalCount"`
}

// CreateLicenseRequest is the body of POST /licenses. Optional fields are sent
// as explicit nulls when unset.
type CreateLicenseRequest struct {
	Type          string          `json:"type"`
	ProductName   string          `json:"product_name"`
	CustomerName  *string         `json:"customer_name"`
	CustomerEmail *string         `json:"customer_email"`
	Metadata      json.RawMessage `json:"metadata"`
	ExpiresAt     *time.Time      `json:"expires_at"`
}

// UpdateLicenseRequest is the partial body of PATCH /licenses/{id}. Only set
// fields are sent; nullable fields can be cleared with an explicit null.
type UpdateLicenseRequest struct {
	Type          *string                   `json:"type,omitempty"`
	ProductName   *string                   `json:"product_name,omitempty"`
	CustomerName  Nullable[string]          `json:"customer_name,omitzero"`
	CustomerEmail Nullable[string]          `json:"customer_email,omitzero"`
	Metadata      Nullable[json.RawMessage] `json:"metadata,omitzero"`
	ExpiresAt     Nullable[time.Time]       `json:"expires_at,omitzero"`
}

// Empty reports whether the request carries no changes.
func (r UpdateLicenseRequest) Empty() bool {
	return r.Type == nil && r.ProductName == nil &&
		!r.CustomerName.Set && !r.CustomerEmail.Set &&
		!r.Metadata.Set && !r.ExpiresAt.Set
}

// ChangeStatusRequest is the body of PATCH /licenses/{id}/status.
type ChangeStatusRequest struct {
	Status LicenseStatus `json:"status"`
}
