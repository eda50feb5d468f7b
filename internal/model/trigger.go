package model

import (
	"fmt"
	"strings"
	"time"
)

// TriggerSource identifies who initiated an action attempt.
type TriggerSource string

const (
	SourceManual         TriggerSource = "MANUAL"
	SourceDataSync       TriggerSource = "DATA_SYNC"
	SourceWorkflowEngine TriggerSource = "WORKFLOW_ENGINE"
	SourceAICoordinator  TriggerSource = "AI_COORDINATOR"
)

// ParseTriggerSource parses a source name (case-insensitive).
func ParseTriggerSource(s string) (TriggerSource, error) {
	src := TriggerSource(strings.ToUpper(strings.TrimSpace(s)))
	switch src {
	case SourceManual, SourceDataSync, SourceWorkflowEngine, SourceAICoordinator:
		return src, nil
	default:
		return "", fmt.Errorf("unknown trigger source %q", s)
	}
}

// Automated reports whether the source is system-initiated.
func (s TriggerSource) Automated() bool {
	return s != SourceManual
}

// Route is where the interceptor sends an action attempt.
type Route string

const (
	RouteTraining    Route = "TRAINING"
	RouteProposal    Route = "PROPOSAL"
	RouteSupervision Route = "SUPERVISION"
	RouteExecution   Route = "EXECUTION"
)

// TriggerDecision is the interceptor's routing verdict.
type TriggerDecision struct {
	Execute          bool          `json:"execute"`
	Route            Route         `json:"route"`
	Reason           string        `json:"reason"`
	Advisory         string        `json:"advisory,omitempty"`
	Source           TriggerSource `json:"source"`
	AgentTier        Level         `json:"agent_tier"`
	ConfidenceScore  float64       `json:"confidence_score"`
	BlockedContextID string        `json:"blocked_context_id,omitempty"`
	ProposalID       string        `json:"proposal_id,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	DeferredID       string        `json:"deferred_id,omitempty"`
}

// BlockedTriggerContext records one denied automated attempt. Never mutated.
type BlockedTriggerContext struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	AgentName       string         `json:"agent_name"`
	AgentTier       Level          `json:"agent_tier"`
	ConfidenceScore float64        `json:"confidence_score"`
	TriggerSource   TriggerSource  `json:"trigger_source"`
	TriggerType     string         `json:"trigger_type"`
	TriggerContext  map[string]any `json:"trigger_context,omitempty"`
	Route           Route          `json:"route"`
	BlockReason     string         `json:"block_reason"`
	CreatedAt       time.Time      `json:"created_at"`
}

// DeferredExecution is an attempt parked until a supervisor is available.
type DeferredExecution struct {
	ID               string         `json:"id"`
	AgentID          string         `json:"agent_id"`
	UserID           string         `json:"user_id"`
	TriggerSource    TriggerSource  `json:"trigger_source"`
	TriggerType      string         `json:"trigger_type"`
	TriggerContext   map[string]any `json:"trigger_context,omitempty"`
	BlockedContextID string         `json:"blocked_context_id"`
	EnqueuedAt       time.Time      `json:"enqueued_at"`
}
