package trustgate

import (
	"fmt"

	"github.com/ppiankov/trustgate/internal/model"
)

// Route is where the interceptor sent an attempt.
type Route = model.Route

const (
	RouteTraining    = model.RouteTraining
	RouteProposal    = model.RouteProposal
	RouteSupervision = model.RouteSupervision
	RouteExecution   = model.RouteExecution
)

// Action describes what a tool intends to do.
type Action struct {
	Type    string              // action type: "search", "send_email", "delete"
	Source  model.TriggerSource // empty uses the client default
	UserID  string              // supervisor override for this call
	Context map[string]any      // recorded on blocked contexts and sessions
}

// Result is a permission check outcome.
type Result struct {
	Allowed    bool
	Reason     string
	Tier       model.Level
	Complexity int
}

// BlockedError is returned when the interceptor does not execute an action.
type BlockedError struct {
	Action           Action
	Route            Route
	Reason           string
	Tier             model.Level
	BlockedContextID string
	ProposalID       string
	DeferredID       string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("trustgate blocked (%s): %s", e.Route, e.Reason)
}

func toResult(d model.Decision) Result {
	return Result{
		Allowed:    d.Allowed,
		Reason:     d.Reason,
		Tier:       d.AgentStatus,
		Complexity: d.ActionComplexity,
	}
}

func blocked(a Action, dec model.TriggerDecision) *BlockedError {
	return &BlockedError{
		Action:           a,
		Route:            dec.Route,
		Reason:           dec.Reason,
		Tier:             dec.AgentTier,
		BlockedContextID: dec.BlockedContextID,
		ProposalID:       dec.ProposalID,
		DeferredID:       dec.DeferredID,
	}
}
