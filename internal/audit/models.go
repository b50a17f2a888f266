package audit

import (
	"time"

	"github.com/google/uuid"

	id "forgecert/pkg/domain"
)

// Action names recorded in the chain. Each privileged mutation in the system
// appends exactly one entry with one of these actions.
const (
	ActionForgeCreated        = "FORGE_CREATED"
	ActionForgeDeleted        = "FORGE_DELETED"
	ActionStateChanged        = "STATE_CHANGED"
	ActionCertified           = "CERTIFIED"
	ActionCertificateIssued   = "CERTIFICATE_ISSUED"
	ActionCertificateRevoked  = "CERTIFICATE_REVOKED"
	ActionLicenseCreated      = "LICENSE_CREATED"
	ActionLicenseUsage        = "LICENSE_USAGE_RECORDED"
	ActionLicenseRevoked      = "LICENSE_REVOKED"
	ActionLicenseExpiredSweep = "LICENSE_EXPIRED_SWEEP"
)

// Entry is one link of the hash chain. Once written it is never mutated or
// deleted; IntegrityHash covers PreviousHash, so editing any stored entry
// breaks verification at that entry.
type Entry struct {
	ID            uuid.UUID         `json:"id"`
	ActorID       id.ActorID        `json:"actor_id"`
	ActorName     string            `json:"actor_name"`
	Action        string            `json:"action"`
	EntityID      string            `json:"entity_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PreviousHash  string            `json:"previous_hash,omitempty"`
	IntegrityHash string            `json:"integrity_hash"`
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	ActorID  id.ActorID
	Action   string
	EntityID string
	From     time.Time
	To       time.Time
	Limit    int
}

// VerificationResult reports the outcome of a full chain walk. BrokenAt is
// the zero-based insertion index of the first entry whose stored hash
// disagrees with the recomputed one; nil when the chain is consistent.
type VerificationResult struct {
	Valid    bool `json:"valid"`
	BrokenAt *int `json:"broken_at_index,omitempty"`
	Entries  int  `json:"entries"`
}
