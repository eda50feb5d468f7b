package model

import "time"

// ProposalKind distinguishes training plans from deferred actions.
type ProposalKind string

const (
	ProposalTraining ProposalKind = "training"
	ProposalAction   ProposalKind = "action"
)

// ProposalStatus moves PROPOSED → APPROVED or REJECTED, once.
type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "PROPOSED"
	ProposalApproved ProposalStatus = "APPROVED"
	ProposalRejected ProposalStatus = "REJECTED"
)

// Proposal is a human-reviewable action description.
type Proposal struct {
	ID               string         `json:"id"`
	AgentID          string         `json:"agent_id"`
	Kind             ProposalKind   `json:"kind"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Payload          map[string]any `json:"payload,omitempty"`
	Status           ProposalStatus `json:"status"`
	BlockedContextID string         `json:"blocked_context_id,omitempty"`
	Reviewer         string         `json:"reviewer,omitempty"`
	ReviewNote       string         `json:"review_note,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
}

// SessionStatus moves RUNNING → COMPLETE or CANCELLED, once.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionComplete  SessionStatus = "COMPLETE"
	SessionCancelled SessionStatus = "CANCELLED"
)

// SupervisionSession is a live, human-monitored execution.
type SupervisionSession struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	SupervisorID   string         `json:"supervisor_id"`
	TriggerSource  TriggerSource  `json:"trigger_source"`
	TriggerType    string         `json:"trigger_type"`
	TriggerContext map[string]any `json:"trigger_context,omitempty"`
	Status         SessionStatus  `json:"status"`
	Outcome        string         `json:"outcome,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
}
