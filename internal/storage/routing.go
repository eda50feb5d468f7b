package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppiankov/trustgate/internal/model"
)

// --- Blocked trigger contexts ---

// CreateBlockedTrigger persists one denied automated attempt.
func (d *DB) CreateBlockedTrigger(ctx context.Context, b *model.BlockedTriggerContext) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = d.now()
	}
	tc, err := encodeContext(b.TriggerContext)
	if err != nil {
		return fmt.Errorf("create blocked trigger: encode context: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO blocked_triggers (id, agent_id, agent_name, agent_tier, confidence_score,
		 trigger_source, trigger_type, trigger_context, route, block_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AgentID, b.AgentName, b.AgentTier.String(), b.ConfidenceScore,
		string(b.TriggerSource), b.TriggerType, tc, string(b.Route), b.BlockReason,
		toNanos(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create blocked trigger: %w", err)
	}
	return nil
}

// ListBlockedTriggers returns blocked contexts, newest first. Empty agentID
// lists all agents. limit <= 0 means no limit.
func (d *DB) ListBlockedTriggers(ctx context.Context, agentID string, limit int) ([]model.BlockedTriggerContext, error) {
	query := `SELECT id, agent_id, agent_name, agent_tier, confidence_score, trigger_source,
		trigger_type, trigger_context, route, block_reason, created_at FROM blocked_triggers`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blocked triggers: %w", err)
	}
	defer rows.Close()

	var out []model.BlockedTriggerContext
	for rows.Next() {
		var (
			b             model.BlockedTriggerContext
			tier, src, tc string
			route         string
			created       int64
		)
		if err := rows.Scan(&b.ID, &b.AgentID, &b.AgentName, &tier, &b.ConfidenceScore,
			&src, &b.TriggerType, &tc, &route, &b.BlockReason, &created); err != nil {
			return nil, fmt.Errorf("scan blocked trigger: %w", err)
		}
		if b.AgentTier, err = model.ParseLevel(tier); err != nil {
			return nil, fmt.Errorf("scan blocked trigger: %w", err)
		}
		if b.TriggerContext, err = decodeContext(tc); err != nil {
			return nil, fmt.Errorf("scan blocked trigger: decode context: %w", err)
		}
		b.TriggerSource = model.TriggerSource(src)
		b.Route = model.Route(route)
		b.CreatedAt = fromNanos(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- Proposals ---

const proposalColumns = `id, agent_id, kind, title, description, payload, status,
	blocked_context_id, reviewer, review_note, created_at, resolved_at`

func scanProposal(row rowScanner) (*model.Proposal, error) {
	var (
		p                     model.Proposal
		kind, status, payload string
		created               int64
		resolved              sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.AgentID, &kind, &p.Title, &p.Description, &payload,
		&status, &p.BlockedContextID, &p.Reviewer, &p.ReviewNote, &created, &resolved); err != nil {
		return nil, err
	}
	m, err := decodeContext(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	p.Payload = m
	p.Kind = model.ProposalKind(kind)
	p.Status = model.ProposalStatus(status)
	p.CreatedAt = fromNanos(created)
	p.ResolvedAt = fromNullNanos(resolved)
	return &p, nil
}

// CreateProposal inserts a proposal. Status defaults to PROPOSED.
func (d *DB) CreateProposal(ctx context.Context, p *model.Proposal) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = d.now()
	}
	if p.Status == "" {
		p.Status = model.ProposalProposed
	}
	payload, err := encodeContext(p.Payload)
	if err != nil {
		return fmt.Errorf("create proposal: encode payload: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO proposals (`+proposalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentID, string(p.Kind), p.Title, p.Description, payload, string(p.Status),
		p.BlockedContextID, p.Reviewer, p.ReviewNote, toNanos(p.CreatedAt), nullableNanos(p.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal by ID.
func (d *DB) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	p, err := scanProposal(d.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("get proposal", err)
	}
	return p, nil
}

// ListProposals returns proposals, newest first. Empty status lists all.
func (d *DB) ListProposals(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ResolveProposal moves a proposal from PROPOSED to status. It reports false
// when the proposal exists but is no longer PROPOSED.
func (d *DB) ResolveProposal(ctx context.Context, id string, status model.ProposalStatus, reviewer, note string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, reviewer = ?, review_note = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), reviewer, note, toNanos(d.now()), id, string(model.ProposalProposed),
	)
	if err != nil {
		return false, fmt.Errorf("resolve proposal: %w", err)
	}
	return d.transitioned(ctx, res, "proposals", id, "resolve proposal")
}

// --- Supervision sessions ---

const sessionColumns = `id, agent_id, supervisor_id, trigger_source, trigger_type,
	trigger_context, status, outcome, started_at, ended_at`

func scanSession(row rowScanner) (*model.SupervisionSession, error) {
	var (
		s               model.SupervisionSession
		src, tc, status string
		started         int64
		ended           sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.AgentID, &s.SupervisorID, &src, &s.TriggerType,
		&tc, &status, &s.Outcome, &started, &ended); err != nil {
		return nil, err
	}
	m, err := decodeContext(tc)
	if err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	s.TriggerContext = m
	s.TriggerSource = model.TriggerSource(src)
	s.Status = model.SessionStatus(status)
	s.StartedAt = fromNanos(started)
	s.EndedAt = fromNullNanos(ended)
	return &s, nil
}

// CreateSession inserts a supervision session. Status defaults to RUNNING.
func (d *DB) CreateSession(ctx context.Context, s *model.SupervisionSession) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = d.now()
	}
	if s.Status == "" {
		s.Status = model.SessionRunning
	}
	tc, err := encodeContext(s.TriggerContext)
	if err != nil {
		return fmt.Errorf("create session: encode context: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO supervision_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AgentID, s.SupervisorID, string(s.TriggerSource), s.TriggerType,
		tc, string(s.Status), s.Outcome, toNanos(s.StartedAt), nullableNanos(s.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a supervision session by ID.
func (d *DB) GetSession(ctx context.Context, id string) (*model.SupervisionSession, error) {
	s, err := scanSession(d.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM supervision_sessions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("get session", err)
	}
	return s, nil
}

// ListSessions returns sessions, newest first. Empty status lists all.
func (d *DB) ListSessions(ctx context.Context, status model.SessionStatus) ([]model.SupervisionSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM supervision_sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at DESC, id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.SupervisionSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// EndSession moves a session from RUNNING to status. It reports false when
// the session exists but is no longer RUNNING.
func (d *DB) EndSession(ctx context.Context, id string, status model.SessionStatus, outcome string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE supervision_sessions SET status = ?, outcome = ?, ended_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), outcome, toNanos(d.now()), id, string(model.SessionRunning),
	)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return d.transitioned(ctx, res, "supervision_sessions", id, "end session")
}

// transitioned distinguishes "no row" from "row in the wrong state" after a
// conditional UPDATE.
func (d *DB) transitioned(ctx context.Context, res sql.Result, table, id, what string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	err = d.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, notFound(what, err)
	}
	return false, nil
}
