package models

import (
	"time"

	id "forgecert/pkg/domain"
)

// Status is the certificate lifecycle state. ACTIVE is the only non-terminal
// status: revocation and expiry are both one-way.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
	StatusExpired Status = "EXPIRED"
)

// Certificate binds a certified forge to a publicly verifiable credential.
//
// Invariants: at most one ACTIVE certificate per forge; VerificationCode is
// globally unique and immutable after issuance. Revoking a certificate never
// un-certifies the underlying forge - pipeline state and credential trust
// are separate facts.
type Certificate struct {
	ID               id.CertificateID `json:"id"`
	ForgeID          id.ForgeID       `json:"forge_id"`
	DigitalTwinID    id.TwinID        `json:"digital_twin_id"`
	IssuedAt         time.Time        `json:"issued_at"`
	IssuedBy         id.ActorID       `json:"issued_by"`
	Status           Status           `json:"status"`
	VerificationCode string           `json:"verification_code"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	RevokedAt        *time.Time       `json:"revoked_at,omitempty"`
	RevokedReason    string           `json:"revoked_reason,omitempty"`
}

// Clone returns a deep copy for store snapshots.
func (c *Certificate) Clone() *Certificate {
	out := *c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// EffectiveStatus recomputes the status against wall-clock time so read
// paths never depend on the advisory sweep having run.
func (c *Certificate) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusActive && c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return StatusExpired
	}
	return c.Status
}
