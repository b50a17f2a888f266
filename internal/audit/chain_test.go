package audit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"forgecert/internal/audit"
	"forgecert/internal/audit/store/memory"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

type ChainSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	chain *audit.Chain
}

func (s *ChainSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	chain, err := audit.NewChain(s.ctx, s.store)
	s.Require().NoError(err)
	s.chain = chain
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) append(action, entityID string) audit.Entry {
	entry, err := s.chain.Append(s.ctx, id.ActorID("actor-1"), "Actor One", action, entityID, map[string]string{"k": "v"})
	s.Require().NoError(err)
	return entry
}

func (s *ChainSuite) TestAppend() {
	s.Run("first entry has an empty previous hash", func() {
		entry := s.append(audit.ActionForgeCreated, "forge-1")
		s.Empty(entry.PreviousHash)
		s.Len(entry.IntegrityHash, 64)
	})

	s.Run("each entry links to its predecessor", func() {
		first := s.append(audit.ActionForgeCreated, "forge-1")
		second := s.append(audit.ActionStateChanged, "forge-1")
		s.Equal(first.IntegrityHash, second.PreviousHash)
		s.NotEqual(first.IntegrityHash, second.IntegrityHash)
	})

	s.Run("rejects a missing actor", func() {
		_, err := s.chain.Append(s.ctx, "", "", audit.ActionForgeCreated, "forge-1", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects a missing action", func() {
		_, err := s.chain.Append(s.ctx, id.ActorID("actor-1"), "Actor One", "", "forge-1", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ChainSuite) TestVerifyIntegrity() {
	s.Run("empty chain verifies", func() {
		result, err := s.chain.VerifyIntegrity(s.ctx)
		s.Require().NoError(err)
		s.True(result.Valid)
		s.Zero(result.Entries)
	})

	s.Run("untouched chain verifies", func() {
		s.SetupTest()
		for i := 0; i < 5; i++ {
			s.append(audit.ActionStateChanged, "forge-1")
		}
		result, err := s.chain.VerifyIntegrity(s.ctx)
		s.Require().NoError(err)
		s.True(result.Valid)
		s.Nil(result.BrokenAt)
		s.Equal(5, result.Entries)
	})

	s.Run("tampered metadata is detected at the edited entry", func() {
		s.SetupTest()
		for i := 0; i < 5; i++ {
			s.append(audit.ActionStateChanged, "forge-1")
		}
		s.store.Tamper(2, func(e *audit.Entry) {
			e.Metadata["k"] = "forged"
		})

		result, err := s.chain.VerifyIntegrity(s.ctx)
		s.Require().NoError(err)
		s.False(result.Valid)
		s.Require().NotNil(result.BrokenAt)
		s.Equal(2, *result.BrokenAt)
	})

	s.Run("splitting a metadata value into extra fields is detected", func() {
		s.SetupTest()
		_, err := s.chain.Append(s.ctx, id.ActorID("actor-1"), "Actor One",
			audit.ActionCertificateRevoked, "cert-1",
			map[string]string{"reason": "compromised\nseverity=low"})
		s.Require().NoError(err)

		// Without escaping this edit would canonicalize to the same bytes
		// and slip past verification.
		s.store.Tamper(0, func(e *audit.Entry) {
			e.Metadata = map[string]string{"reason": "compromised", "severity": "low"}
		})

		result, err := s.chain.VerifyIntegrity(s.ctx)
		s.Require().NoError(err)
		s.False(result.Valid)
		s.Require().NotNil(result.BrokenAt)
		s.Equal(0, *result.BrokenAt)
	})

	s.Run("tampered action is detected even with the hash zeroed", func() {
		s.SetupTest()
		for i := 0; i < 4; i++ {
			s.append(audit.ActionStateChanged, "forge-1")
		}
		s.store.Tamper(1, func(e *audit.Entry) {
			e.Action = audit.ActionForgeDeleted
			e.IntegrityHash = "0000000000000000000000000000000000000000000000000000000000000000"
		})

		result, err := s.chain.VerifyIntegrity(s.ctx)
		s.Require().NoError(err)
		s.False(result.Valid)
		s.Require().NotNil(result.BrokenAt)
		s.Equal(1, *result.BrokenAt)
	})
}

func (s *ChainSuite) TestConcurrentAppends() {
	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				entity := fmt.Sprintf("forge-%d-%d", w, i)
				_, err := s.chain.Append(s.ctx, id.ActorID("actor-1"), "Actor One", audit.ActionStateChanged, entity, nil)
				s.NoError(err)
			}
		}(w)
	}
	wg.Wait()

	result, err := s.chain.VerifyIntegrity(s.ctx)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(writers*perWriter, result.Entries)
}

func (s *ChainSuite) TestList() {
	s.append(audit.ActionForgeCreated, "forge-1")
	s.append(audit.ActionStateChanged, "forge-1")
	s.append(audit.ActionForgeCreated, "forge-2")

	s.Run("returns entries newest-first", func() {
		entries, err := s.chain.List(s.ctx, audit.Filter{})
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Equal("forge-2", entries[0].EntityID)
	})

	s.Run("filters by entity", func() {
		entries, err := s.chain.List(s.ctx, audit.Filter{EntityID: "forge-1"})
		s.Require().NoError(err)
		s.Len(entries, 2)
	})

	s.Run("filters by action with limit", func() {
		entries, err := s.chain.List(s.ctx, audit.Filter{Action: audit.ActionForgeCreated, Limit: 1})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionForgeCreated, entries[0].Action)
	})
}

func (s *ChainSuite) TestRestartResumesChain() {
	first := s.append(audit.ActionForgeCreated, "forge-1")

	// A new Chain over the same store must continue from the stored tip,
	// not restart at the genesis hash.
	resumed, err := audit.NewChain(s.ctx, s.store)
	s.Require().NoError(err)
	second, err := resumed.Append(s.ctx, id.ActorID("actor-1"), "Actor One", audit.ActionStateChanged, "forge-1", nil)
	s.Require().NoError(err)
	s.Equal(first.IntegrityHash, second.PreviousHash)

	result, err := resumed.VerifyIntegrity(s.ctx)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(2, result.Entries)
}
