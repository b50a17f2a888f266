package models

import (
	"time"

	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

// Status is the license lifecycle state. ACTIVE may become EXPIRED
// (time-driven, lazily evaluated) or REVOKED (actor-driven); both are
// terminal.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// UsageType classifies what the grantee may do with the certified twin.
type UsageType string

const (
	UsageCommercial UsageType = "COMMERCIAL"
	UsageEditorial  UsageType = "EDITORIAL"
	UsagePersonal   UsageType = "PERSONAL"
)

var validUsageTypes = map[UsageType]bool{
	UsageCommercial: true,
	UsageEditorial:  true,
	UsagePersonal:   true,
}

// ParseUsageType constructs a UsageType from external input.
func ParseUsageType(s string) (UsageType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "usage type cannot be empty")
	}
	u := UsageType(s)
	if !validUsageTypes[u] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown usage type")
	}
	return u, nil
}

// License is a time-boxed, quota-limited commercial grant against a
// certified digital twin.
//
// Invariants: CurrentDownloads never exceeds MaxDownloads when set; status
// is monotonic. A license references the twin, not the certificate row, so
// later certificate revocation does not cascade here - revocation affects
// trust in the identity claim, not previously granted commercial rights.
type License struct {
	ID               id.LicenseID `json:"id"`
	DigitalTwinID    id.TwinID    `json:"digital_twin_id"`
	GranteeID        id.ActorID   `json:"grantee_id"`
	UsageType        UsageType    `json:"usage_type"`
	Territories      []string     `json:"territories"`
	ValidFrom        time.Time    `json:"valid_from"`
	ValidUntil       time.Time    `json:"valid_until"`
	Status           Status       `json:"status"`
	MaxDownloads     *int         `json:"max_downloads,omitempty"`
	CurrentDownloads int          `json:"current_downloads"`
	CreatedBy        id.ActorID   `json:"created_by"`
	CreatedAt        time.Time    `json:"created_at"`
	RevokedAt        *time.Time   `json:"revoked_at,omitempty"`
	RevokedReason    string       `json:"revoked_reason,omitempty"`
}

// Clone returns a deep copy for store snapshots.
func (l *License) Clone() *License {
	out := *l
	out.Territories = append([]string{}, l.Territories...)
	if l.MaxDownloads != nil {
		n := *l.MaxDownloads
		out.MaxDownloads = &n
	}
	if l.RevokedAt != nil {
		t := *l.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// EffectiveStatus recomputes status against wall-clock time. A license past
// ValidUntil reads as EXPIRED even before the advisory sweep flips the
// stored row.
func (l *License) EffectiveStatus(now time.Time) Status {
	if l.Status == StatusActive && now.After(l.ValidUntil) {
		return StatusExpired
	}
	return l.Status
}
