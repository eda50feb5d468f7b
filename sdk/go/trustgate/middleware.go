package trustgate

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Header names read by Middleware.
const (
	HeaderAgent  = "X-Trustgate-Agent"
	HeaderAction = "X-Trustgate-Action"
)

// Middleware returns an http.Handler that checks governance on each request
// before passing to the next handler. The agent comes from the
// X-Trustgate-Agent header or the client default; the action type comes from
// X-Trustgate-Action or the request method. Denied requests receive a 403
// with a JSON body; lookup failures receive a 503.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID, err := c.agent(r.Header.Get(HeaderAgent))
		if err != nil {
			writeBlocked(w, http.StatusUnauthorized, map[string]any{"blocked": true, "reason": err.Error()})
			return
		}
		action := actionFromRequest(r)

		d, err := c.eng.Governance.CanPerformAction(r.Context(), agentID, action)
		if err != nil {
			writeBlocked(w, http.StatusServiceUnavailable, map[string]any{"blocked": true, "reason": err.Error()})
			return
		}
		if !d.Allowed {
			writeBlocked(w, http.StatusForbidden, map[string]any{
				"blocked":           true,
				"action":            action,
				"reason":            d.Reason,
				"agent_status":      d.AgentStatus.String(),
				"action_complexity": d.ActionComplexity,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// actionFromRequest maps an HTTP request to an action type.
func actionFromRequest(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(HeaderAction)); a != "" {
		return a
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	case http.MethodDelete:
		return "delete"
	case http.MethodPut, http.MethodPatch:
		return "update"
	default:
		return "create"
	}
}

func writeBlocked(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
