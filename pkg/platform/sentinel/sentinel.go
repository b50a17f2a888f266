package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: unique constraint or insertion race lost
// - ErrVersionMismatch: optimistic version check failed on update
// - ErrExpired: record's validity window has passed
// - ErrRevoked: record was explicitly revoked
// - ErrQuotaExceeded: metered counter is at its limit
// - ErrInvalidState: record in wrong state for the requested operation
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrExpired         = errors.New("expired")
	ErrRevoked         = errors.New("revoked")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrInvalidState    = errors.New("invalid state")
)
