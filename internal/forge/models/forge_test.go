package models

import (
	"testing"

	"github.com/stretchr/testify/suite"

	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

type TransitionSuite struct {
	suite.Suite
}

func TestTransitionSuite(t *testing.T) {
	suite.Run(t, new(TransitionSuite))
}

func (s *TransitionSuite) TestValidateTransition() {
	s.Run("allows every single-step advance", func() {
		states := id.PipelineStates()
		for i := 0; i < len(states)-1; i++ {
			s.NoError(ValidateTransition(states[i], states[i+1]), states[i].String())
		}
	})

	s.Run("allows rollback to any earlier stage", func() {
		s.NoError(ValidateTransition(id.StateApproved, id.StateDraft))
		s.NoError(ValidateTransition(id.StateApproved, id.StateValidated))
		s.NoError(ValidateTransition(id.StateSubmitted, id.StateDraft))
	})

	s.Run("rejects skipping ahead", func() {
		err := ValidateTransition(id.StateDraft, id.StateNormalized)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		err = ValidateTransition(id.StateDraft, id.StateCertified)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects same-state moves", func() {
		for _, st := range id.PipelineStates() {
			err := ValidateTransition(st, st)
			s.Require().Error(err, st.String())
		}
	})

	s.Run("certified rejects every target with the invariant code", func() {
		for _, target := range id.PipelineStates() {
			err := ValidateTransition(id.StateCertified, target)
			s.Require().Error(err, target.String())
			s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation), target.String())
		}
	})

	s.Run("rejects unknown states", func() {
		err := ValidateTransition(id.StateDraft, id.PipelineState("SHIPPED"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		err = ValidateTransition(id.PipelineState("SHIPPED"), id.StateDraft)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *TransitionSuite) TestDeriveSeedHash() {
	forgeID := id.NewForgeID()

	s.Run("deterministic in the forge identity", func() {
		s.Equal(DeriveSeedHash(forgeID, "owner-1"), DeriveSeedHash(forgeID, "owner-1"))
		s.Len(DeriveSeedHash(forgeID, "owner-1"), 64)
	})

	s.Run("distinct per forge and per owner", func() {
		s.NotEqual(DeriveSeedHash(forgeID, "owner-1"), DeriveSeedHash(id.NewForgeID(), "owner-1"))
		s.NotEqual(DeriveSeedHash(forgeID, "owner-1"), DeriveSeedHash(forgeID, "owner-2"))
	})
}
