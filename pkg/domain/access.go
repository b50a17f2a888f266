package domain

import dErrors "forgecert/pkg/domain-errors"

// Role is the capability class resolved for an actor by the upstream auth
// layer. The core never derives roles itself; it only evaluates them.
type Role string

const (
	// RoleAdmin holds every capability, including certificate revocation.
	RoleAdmin Role = "admin"
	// RoleOperator drives forges through the pipeline and issues certificates.
	RoleOperator Role = "operator"
	// RoleOwner creates forges and may delete their own non-certified forges.
	RoleOwner Role = "owner"
	// RoleGrantee consumes licensed downloads.
	RoleGrantee Role = "grantee"
	// RoleAuditor reads and verifies the audit chain.
	RoleAuditor Role = "auditor"
)

var validRoles = map[Role]bool{
	RoleAdmin:    true,
	RoleOperator: true,
	RoleOwner:    true,
	RoleGrantee:  true,
	RoleAuditor:  true,
}

// ParseRole constructs a Role from external input (JWT claims).
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
	return r, nil
}

func (r Role) String() string { return string(r) }

// Action enumerates every privileged operation the access policy governs.
// Values double as audit action names for policy denials.
type Action string

const (
	ActionForgeCreate       Action = "forge.create"
	ActionForgeTransition   Action = "forge.transition"
	ActionForgeRollback     Action = "forge.rollback"
	ActionForgeDelete       Action = "forge.delete"
	ActionCertificateIssue  Action = "certificate.issue"
	ActionCertificateRevoke Action = "certificate.revoke"
	ActionLicenseCreate     Action = "license.create"
	ActionLicenseUsage      Action = "license.usage"
	ActionLicenseRevoke     Action = "license.revoke"
	ActionAuditRead         Action = "audit.read"
	ActionAuditVerify       Action = "audit.verify"
)

func (a Action) String() string { return string(a) }
