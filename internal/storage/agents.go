package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppiankov/trustgate/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const agentColumns = `id, name, status, confidence_score, created_at, updated_at`

func scanAgent(row rowScanner) (*model.Agent, error) {
	var (
		a                model.Agent
		status           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&a.ID, &a.Name, &status, &a.ConfidenceScore, &created, &updated); err != nil {
		return nil, err
	}
	if status.Valid && status.String != "" {
		lvl, err := model.ParseLevel(status.String)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.ID, err)
		}
		a.Status = &lvl
	}
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return &a, nil
}

func statusValue(l *model.Level) sql.NullString {
	if l == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: l.String(), Valid: true}
}

// CreateAgent inserts a new agent. The confidence score is clamped to [0,1].
func (d *DB) CreateAgent(ctx context.Context, a *model.Agent) error {
	now := d.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.ConfidenceScore = model.ClampConfidence(a.ConfidenceScore)

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, statusValue(a.Status), a.ConfidenceScore,
		toNanos(a.CreatedAt), toNanos(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (d *DB) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFound("get agent", err)
	}
	return a, nil
}

// ListAgents returns all agents ordered by ID.
func (d *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// SetAgentStatus pins (or, with nil, unpins) an agent's tier.
func (d *DB) SetAgentStatus(ctx context.Context, id string, status *model.Level) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		statusValue(status), toNanos(d.now()), id,
	)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	return requireOneRow(res, "set agent status")
}

// AdjustConfidence applies delta to the agent's score inside a single
// transaction, clamping the result to [0,1]. It returns the updated agent
// and the score before the change.
func (d *DB) AdjustConfidence(ctx context.Context, id string, delta float64) (*model.Agent, float64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("adjust confidence: begin: %w", err)
	}
	defer tx.Rollback()

	a, err := scanAgent(tx.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err != nil {
		return nil, 0, notFound("adjust confidence", err)
	}

	before := a.ConfidenceScore
	a.ConfidenceScore = model.ClampConfidence(before + delta)
	a.UpdatedAt = d.now()

	if _, err := tx.ExecContext(ctx,
		`UPDATE agents SET confidence_score = ?, updated_at = ? WHERE id = ?`,
		a.ConfidenceScore, toNanos(a.UpdatedAt), id,
	); err != nil {
		return nil, 0, fmt.Errorf("adjust confidence: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("adjust confidence: commit: %w", err)
	}
	return a, before, nil
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
