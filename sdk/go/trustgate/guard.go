package trustgate

import (
	"context"

	"github.com/ppiankov/trustgate/internal/intercept"
)

// ToolFunc is the function signature that Wrap guards.
// The caller provides an Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a new ToolFunc that routes each call through the trigger
// interceptor before calling fn. When the interceptor does not execute, Wrap
// returns a *BlockedError without calling fn. Calls made under a supervision
// session complete the session with fn's outcome.
func (c *Client) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	wcfg := wrapConfig{agentID: c.cfg.agentID}
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, action Action) (any, error) {
		agentID, err := c.agent(wcfg.agentID)
		if err != nil {
			return nil, err
		}
		src := action.Source
		if src == "" {
			src = c.cfg.source
		}
		user := action.UserID
		if user == "" {
			user = c.cfg.supervisorID
		}

		dec, err := c.eng.Interceptor.InterceptTrigger(ctx, intercept.Request{
			AgentID:     agentID,
			Source:      src,
			TriggerType: action.Type,
			Context:     action.Context,
			UserID:      user,
		})
		if err != nil && !dec.Execute {
			if dec.Route == "" {
				return nil, err
			}
			// Routed but a side effect failed; the verdict still stands.
			c.eng.Log.Warn("trustgate routing incomplete", "agent_id", agentID, "error", err)
		}
		if !dec.Execute {
			return nil, blocked(action, dec)
		}

		result, fnErr := fn(ctx, action)

		switch {
		case dec.SessionID != "":
			if _, _, err := c.eng.Approvals.CompleteSession(ctx, dec.SessionID, fnErr == nil, wcfg.impact, outcome(fnErr)); err != nil {
				c.eng.Log.Warn("trustgate session completion failed", "session_id", dec.SessionID, "error", err)
			}
		case wcfg.feedback && src.Automated():
			if _, err := c.eng.Tracker.Update(ctx, agentID, fnErr == nil, wcfg.impact); err != nil {
				c.eng.Log.Warn("trustgate confidence update failed", "agent_id", agentID, "error", err)
			}
		}
		return result, fnErr
	}
}

func outcome(err error) string {
	if err != nil {
		return "failed: " + err.Error()
	}
	return "succeeded"
}
