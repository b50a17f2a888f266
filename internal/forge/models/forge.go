package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

// Forge is the entity progressing through the certification pipeline.
//
// Invariants:
//   - CurrentState is always one of the ordered pipeline stages.
//   - DigitalTwinID is set if and only if CurrentState is CERTIFIED.
//   - Once certified the forge is immutable; no field changes thereafter.
//     Certificate revocation is a side record and never touches the forge.
//
// Version implements optimistic concurrency: stores reject updates whose
// version does not match the stored row.
type Forge struct {
	ID            id.ForgeID       `json:"id"`
	OwnerID       id.ActorID       `json:"owner_id"`
	Name          string           `json:"name"`
	CurrentState  id.PipelineState `json:"current_state"`
	Version       int64            `json:"version"`
	SeedHash      string           `json:"seed_hash,omitempty"`
	DigitalTwinID id.TwinID        `json:"digital_twin_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CertifiedAt   *time.Time       `json:"certified_at,omitempty"`
}

// Clone returns a deep copy so store snapshots cannot be mutated by callers.
func (f *Forge) Clone() *Forge {
	out := *f
	if f.CertifiedAt != nil {
		t := *f.CertifiedAt
		out.CertifiedAt = &t
	}
	return &out
}

// ValidateTransition enforces the pipeline's movement rules:
// advance by exactly one stage, or roll back to any earlier stage.
// Same-state moves and forward skips are rejected, and a certified forge
// rejects every target.
//
// Errors: CodeInvariantViolation when the forge is terminally locked,
// CodeValidation for any other illegal move.
func ValidateTransition(current, target id.PipelineState) error {
	if !current.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "current state is not a pipeline stage")
	}
	if !target.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "target state is not a pipeline stage")
	}
	if current.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "forge is certified and permanently locked")
	}

	ci, ti := current.Index(), target.Index()
	switch {
	case ti == ci+1:
		return nil // single-step advance
	case ti < ci:
		return nil // rollback to any earlier stage
	case ti == ci:
		return dErrors.New(dErrors.CodeValidation, "transition to the same state is not allowed")
	default:
		return dErrors.New(dErrors.CodeValidation, "forward transitions may only advance one stage")
	}
}

// DeriveSeedHash computes the deterministic processing seed minted when a
// forge enters the parametrization stage. Deterministic in the forge
// identity so a retried transition regenerates the identical value.
func DeriveSeedHash(forgeID id.ForgeID, ownerID id.ActorID) string {
	sum := sha256.Sum256([]byte(forgeID.String() + ":" + ownerID.String()))
	return hex.EncodeToString(sum[:])
}
