package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "forgecert/pkg/domain-errors"
)

// Typed identifiers keep forge, certificate and license IDs from being
// swapped at call sites. Construct via the Parse helpers at trust boundaries;
// direct casting bypasses validation.
type (
	ForgeID       uuid.UUID
	CertificateID uuid.UUID
	LicenseID     uuid.UUID
)

// TwinID is the digital twin identifier minted when a forge is certified.
// It is a string (not a UUID) because it is embedded in certificates,
// licenses and external verification responses.
type TwinID string

// ActorID identifies who performed an action. It is a string to support the
// identification schemes of the upstream auth layer (user UUIDs, service
// accounts, API key IDs).
type ActorID string

// NewForgeID mints a random forge ID.
func NewForgeID() ForgeID { return ForgeID(uuid.New()) }

// NewCertificateID mints a random certificate ID.
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

// NewLicenseID mints a random license ID.
func NewLicenseID() LicenseID { return LicenseID(uuid.New()) }

// NewTwinID mints the digital twin identifier for a certified forge.
func NewTwinID() TwinID { return TwinID("twin_" + uuid.NewString()) }

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil uuid")
	}
	return u, nil
}

// ParseForgeID validates external input into a ForgeID.
func ParseForgeID(s string) (ForgeID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ForgeID{}, err
	}
	return ForgeID(u), nil
}

// ParseCertificateID validates external input into a CertificateID.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return CertificateID{}, err
	}
	return CertificateID(u), nil
}

// ParseLicenseID validates external input into a LicenseID.
func ParseLicenseID(s string) (LicenseID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return LicenseID{}, err
	}
	return LicenseID(u), nil
}

// ParseTwinID validates external input into a TwinID.
func ParseTwinID(s string) (TwinID, error) {
	if !strings.HasPrefix(s, "twin_") || len(s) <= len("twin_") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid twin id")
	}
	return TwinID(s), nil
}

func (id ForgeID) String() string       { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id LicenseID) String() string     { return uuid.UUID(id).String() }
func (id TwinID) String() string        { return string(id) }
func (id ActorID) String() string       { return string(id) }

func (id ForgeID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id LicenseID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id TwinID) IsNil() bool        { return id == "" }
func (id ActorID) IsNil() bool       { return id == "" }
