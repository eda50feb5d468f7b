package model

// Decision is the governance verdict for one (agent, action) pair.
// Reason never carries timestamps or random data so that identical inputs
// produce byte-identical decisions.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason"`
	AgentStatus      Level  `json:"agent_status"`
	ActionComplexity int    `json:"action_complexity"`
}

// Verdict returns "allow" or "deny".
func (d Decision) Verdict() string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}
