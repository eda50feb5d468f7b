package alert

// Event types a webhook can subscribe to.
const (
	EventBlockedTrigger = "blocked_trigger"
	EventPackageBanned  = "package_banned"
	EventSandboxError   = "sandbox_error"
	EventTierDemoted    = "tier_demoted"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["blocked_trigger", "package_banned", "*"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	AgentID   string `json:"agent_id,omitempty"`
	Subject   string `json:"subject"`
	Tier      string `json:"tier,omitempty"`
	Route     string `json:"route,omitempty"`
	Reason    string `json:"reason"`
	RecordID  string `json:"record_id,omitempty"`
}
