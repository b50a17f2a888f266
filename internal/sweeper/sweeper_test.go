package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"forgecert/internal/audit"
	id "forgecert/pkg/domain"
)

type stubExpirer struct {
	n   int
	err error
}

func (e *stubExpirer) ExpireDue(context.Context, time.Time) (int, error) {
	return e.n, e.err
}

type recordingAuditor struct {
	actions  []string
	metadata []map[string]string
}

func (a *recordingAuditor) Append(_ context.Context, _ id.ActorID, _, action, _ string, metadata map[string]string) (audit.Entry, error) {
	a.actions = append(a.actions, action)
	a.metadata = append(a.metadata, metadata)
	return audit.Entry{}, nil
}

type SweeperSuite struct {
	suite.Suite
	licenses *stubExpirer
	certs    *stubExpirer
	auditor  *recordingAuditor
	sweeper  *Sweeper
}

func (s *SweeperSuite) SetupTest() {
	s.licenses = &stubExpirer{}
	s.certs = &stubExpirer{}
	s.auditor = &recordingAuditor{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.sweeper = New(time.Minute, s.licenses, s.certs, s.auditor, logger)
}

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

func (s *SweeperSuite) TestSweep() {
	s.Run("a sweep with nothing due appends no audit entry", func() {
		s.sweeper.sweep(context.Background())
		s.Empty(s.auditor.actions)
	})

	s.Run("a license-only sweep is audited", func() {
		s.SetupTest()
		s.licenses.n = 3

		s.sweeper.sweep(context.Background())
		s.Require().Len(s.auditor.actions, 1)
		s.Equal(audit.ActionLicenseExpiredSweep, s.auditor.actions[0])
		s.Equal("3", s.auditor.metadata[0]["expired_licenses"])
		s.Equal("0", s.auditor.metadata[0]["expired_certificates"])
	})

	s.Run("a certificate-only sweep is audited", func() {
		s.SetupTest()
		s.certs.n = 2

		s.sweeper.sweep(context.Background())
		s.Require().Len(s.auditor.actions, 1)
		s.Equal("0", s.auditor.metadata[0]["expired_licenses"])
		s.Equal("2", s.auditor.metadata[0]["expired_certificates"])
	})

	s.Run("a failed sweep appends nothing", func() {
		s.SetupTest()
		s.licenses.err = errors.New("store unavailable")
		s.certs.n = 2

		s.sweeper.sweep(context.Background())
		s.Empty(s.auditor.actions)
	})
}
