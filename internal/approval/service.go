// Package approval resolves human review of proposals and supervision
// sessions. Records move out of PROPOSED or RUNNING exactly once.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/confidence"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/model"
)

// ErrInvalidTransition is returned when a record has already been resolved.
var ErrInvalidTransition = errors.New("approval: record is not in a resolvable state")

// ErrReviewerRequired is returned when a proposal is resolved anonymously.
var ErrReviewerRequired = errors.New("approval: reviewer is required")

// Store reads and conditionally transitions review records. The transition
// methods report false when the record exists but is in the wrong state.
type Store interface {
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	ListProposals(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error)
	ResolveProposal(ctx context.Context, id string, status model.ProposalStatus, reviewer, note string) (bool, error)
	GetSession(ctx context.Context, id string) (*model.SupervisionSession, error)
	ListSessions(ctx context.Context, status model.SessionStatus) ([]model.SupervisionSession, error)
	EndSession(ctx context.Context, id string, status model.SessionStatus, outcome string) (bool, error)
}

// Tracker receives session outcomes. *confidence.Tracker implements it.
type Tracker interface {
	Update(ctx context.Context, agentID string, positive bool, impact confidence.Impact) (confidence.Result, error)
}

// Service manages the review lifecycle.
type Service struct {
	store   Store
	tracker Tracker
	log     logging.Logger
	audit   audit.Recorder
}

// NewService creates a review service. tracker may be nil, in which case
// session outcomes do not move confidence.
func NewService(store Store, tracker Tracker, log logging.Logger, rec audit.Recorder) *Service {
	if log == nil {
		log = logging.Nop()
	}
	if rec == nil {
		rec = audit.Discard
	}
	return &Service{store: store, tracker: tracker, log: log, audit: rec}
}

// ListProposals returns proposals with the given status, or all when empty.
func (s *Service) ListProposals(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	return s.store.ListProposals(ctx, status)
}

// ListSessions returns sessions with the given status, or all when empty.
func (s *Service) ListSessions(ctx context.Context, status model.SessionStatus) ([]model.SupervisionSession, error) {
	return s.store.ListSessions(ctx, status)
}

// ApproveProposal marks a PROPOSED proposal APPROVED.
func (s *Service) ApproveProposal(ctx context.Context, id, reviewer, note string) (*model.Proposal, error) {
	return s.resolve(ctx, id, model.ProposalApproved, reviewer, note)
}

// RejectProposal marks a PROPOSED proposal REJECTED.
func (s *Service) RejectProposal(ctx context.Context, id, reviewer, note string) (*model.Proposal, error) {
	return s.resolve(ctx, id, model.ProposalRejected, reviewer, note)
}

func (s *Service) resolve(ctx context.Context, id string, status model.ProposalStatus, reviewer, note string) (*model.Proposal, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, ErrReviewerRequired
	}
	ok, err := s.store.ResolveProposal(ctx, id, status, reviewer, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrInvalidTransition)
	}
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}

	s.log.Info("proposal resolved", "proposal_id", id, "agent_id", p.AgentID, "status", string(status), "reviewer", reviewer)
	s.record(audit.AuditEntry{
		Kind:     audit.KindReview,
		AgentID:  p.AgentID,
		Subject:  "proposal:" + string(p.Kind),
		Decision: strings.ToLower(string(status)),
		Reason:   note,
		Actor:    reviewer,
		RecordID: id,
	})
	return p, nil
}

// CompleteSession ends a RUNNING session and feeds its outcome to the
// confidence tracker. The returned Result is nil when no tracker is set.
func (s *Service) CompleteSession(ctx context.Context, id string, success bool, impact confidence.Impact, outcome string) (*model.SupervisionSession, *confidence.Result, error) {
	sess, err := s.end(ctx, id, model.SessionComplete, outcome)
	if err != nil {
		return nil, nil, err
	}
	if s.tracker == nil {
		return sess, nil, nil
	}
	res, err := s.tracker.Update(ctx, sess.AgentID, success, impact)
	if err != nil {
		return sess, nil, fmt.Errorf("session %s completed but confidence update failed: %w", id, err)
	}
	return sess, &res, nil
}

// CancelSession ends a RUNNING session without a confidence signal.
func (s *Service) CancelSession(ctx context.Context, id, reason string) (*model.SupervisionSession, error) {
	return s.end(ctx, id, model.SessionCancelled, reason)
}

func (s *Service) end(ctx context.Context, id string, status model.SessionStatus, outcome string) (*model.SupervisionSession, error) {
	ok, err := s.store.EndSession(ctx, id, status, outcome)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrInvalidTransition)
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	s.log.Info("supervision session ended", "session_id", id, "agent_id", sess.AgentID, "status", string(status))
	s.record(audit.AuditEntry{
		Kind:     audit.KindReview,
		AgentID:  sess.AgentID,
		Subject:  "session:" + sess.TriggerType,
		Decision: strings.ToLower(string(status)),
		Reason:   outcome,
		Actor:    sess.SupervisorID,
		RecordID: id,
	})
	return sess, nil
}

func (s *Service) record(e audit.AuditEntry) {
	if err := s.audit.Record(e); err != nil {
		s.log.Warn("audit record failed", "error", err)
	}
}
