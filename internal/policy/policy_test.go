package policy

import (
	"testing"

	"github.com/stretchr/testify/suite"

	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
	"forgecert/pkg/requestcontext"
)

type PolicySuite struct {
	suite.Suite
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

func (s *PolicySuite) TestCapabilities() {
	s.Run("admin may perform every action", func() {
		actions := []id.Action{
			id.ActionForgeCreate, id.ActionForgeTransition, id.ActionForgeRollback,
			id.ActionForgeDelete, id.ActionCertificateIssue, id.ActionCertificateRevoke,
			id.ActionLicenseCreate, id.ActionLicenseUsage, id.ActionLicenseRevoke,
			id.ActionAuditRead, id.ActionAuditVerify,
		}
		for _, action := range actions {
			s.True(Allowed(id.RoleAdmin, action, ""), action.String())
		}
	})

	s.Run("operator may drive the pipeline but not revoke certificates", func() {
		s.True(Allowed(id.RoleOperator, id.ActionForgeTransition, id.StateDraft))
		s.True(Allowed(id.RoleOperator, id.ActionCertificateIssue, ""))
		s.False(Allowed(id.RoleOperator, id.ActionCertificateRevoke, ""))
		s.False(Allowed(id.RoleOperator, id.ActionForgeDelete, id.StateDraft))
	})

	s.Run("operator manages licenses but does not consume them", func() {
		s.True(Allowed(id.RoleOperator, id.ActionLicenseCreate, ""))
		s.True(Allowed(id.RoleOperator, id.ActionLicenseRevoke, ""))
		s.False(Allowed(id.RoleOperator, id.ActionLicenseUsage, ""))
	})

	s.Run("auditor is read-only", func() {
		s.True(Allowed(id.RoleAuditor, id.ActionAuditRead, ""))
		s.True(Allowed(id.RoleAuditor, id.ActionAuditVerify, ""))
		s.False(Allowed(id.RoleAuditor, id.ActionForgeCreate, ""))
		s.False(Allowed(id.RoleAuditor, id.ActionLicenseCreate, ""))
	})

	s.Run("grantee may only draw down licenses", func() {
		s.True(Allowed(id.RoleGrantee, id.ActionLicenseUsage, ""))
		s.False(Allowed(id.RoleGrantee, id.ActionLicenseCreate, ""))
		s.False(Allowed(id.RoleGrantee, id.ActionAuditRead, ""))
	})
}

func (s *PolicySuite) TestStateSensitivity() {
	s.Run("delete is denied on a certified forge even for admin", func() {
		s.True(Allowed(id.RoleAdmin, id.ActionForgeDelete, id.StateApproved))
		s.False(Allowed(id.RoleAdmin, id.ActionForgeDelete, id.StateCertified))
	})

	s.Run("transition capability survives the terminal state", func() {
		// The state machine, not the policy, refuses moves on a certified
		// forge so callers see the invariant error.
		s.True(Allowed(id.RoleOperator, id.ActionForgeTransition, id.StateCertified))
	})
}

func (s *PolicySuite) TestAuthorize() {
	s.Run("missing identity is unauthorized", func() {
		err := Authorize(requestcontext.ActorInfo{}, id.ActionForgeCreate, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("capability denial is forbidden", func() {
		actor := requestcontext.ActorInfo{ID: "user-1", Role: id.RoleGrantee}
		err := Authorize(actor, id.ActionForgeCreate, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("granted capability passes", func() {
		actor := requestcontext.ActorInfo{ID: "user-1", Role: id.RoleOperator}
		s.NoError(Authorize(actor, id.ActionForgeCreate, ""))
	})
}
