// Package policy is the pure capability map for the certification pipeline.
//
// Allowed is a function of (role, action, pipeline state) only. It holds no
// state and performs no I/O, so every other component can consult it before
// mutating anything. Ownership checks (an owner may only delete their own
// forge) stay in the services; the policy answers capability, not identity.
package policy

import (
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
	"forgecert/pkg/requestcontext"
)

// capabilities maps each role to the actions it may perform.
var capabilities = map[id.Role]map[id.Action]bool{
	id.RoleAdmin: {
		id.ActionForgeCreate:       true,
		id.ActionForgeTransition:   true,
		id.ActionForgeRollback:     true,
		id.ActionForgeDelete:       true,
		id.ActionCertificateIssue:  true,
		id.ActionCertificateRevoke: true,
		id.ActionLicenseCreate:     true,
		id.ActionLicenseUsage:      true,
		id.ActionLicenseRevoke:     true,
		id.ActionAuditRead:         true,
		id.ActionAuditVerify:       true,
	},
	id.RoleOperator: {
		id.ActionForgeCreate:      true,
		id.ActionForgeTransition:  true,
		id.ActionForgeRollback:    true,
		id.ActionCertificateIssue: true,
		id.ActionLicenseCreate:    true,
		id.ActionLicenseRevoke:    true,
	},
	id.RoleOwner: {
		id.ActionForgeCreate: true,
		id.ActionForgeDelete: true,
	},
	id.RoleGrantee: {
		id.ActionLicenseUsage: true,
	},
	id.RoleAuditor: {
		id.ActionAuditRead:   true,
		id.ActionAuditVerify: true,
	},
}

// stateSensitive lists actions that are additionally denied once the forge
// has reached the terminal state. Deletion is restricted to non-certified
// forges at the policy level; transitions on a certified forge are instead
// refused by the state machine so callers see the terminal-lock invariant
// error rather than a capability denial.
var stateSensitive = map[id.Action]bool{
	id.ActionForgeDelete: true,
}

// Allowed reports whether the role may perform the action given the current
// pipeline state of the target forge. Actions that do not target a forge
// pass domain.PipelineState("") for state.
func Allowed(role id.Role, action id.Action, state id.PipelineState) bool {
	if !capabilities[role][action] {
		return false
	}
	if stateSensitive[action] && state.IsTerminal() {
		return false
	}
	return true
}

// Authorize translates a policy decision into the error taxonomy: missing
// identity is Unauthorized, a capability denial is Forbidden. Both are
// distinct from domain validation failures by code.
func Authorize(actor requestcontext.ActorInfo, action id.Action, state id.PipelineState) error {
	if actor.ID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "no actor identity resolved")
	}
	if !Allowed(actor.Role, action, state) {
		return dErrors.New(dErrors.CodeForbidden, "role "+actor.Role.String()+" may not perform "+action.String())
	}
	return nil
}
