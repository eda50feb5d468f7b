package trustgate

import (
	"github.com/ppiankov/trustgate/internal/confidence"
	"github.com/ppiankov/trustgate/internal/model"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath   string
	dbPath       string
	policyPath   string
	denylistPath string
	auditLogPath string
	agentID      string
	supervisorID string
	source       model.TriggerSource
}

// WithConfig sets the path to a trustgate config YAML file.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithDB sets the path to the SQLite database.
func WithDB(path string) Option {
	return func(c *clientConfig) { c.dbPath = path }
}

// WithPolicy sets the path to a policy YAML file.
func WithPolicy(path string) Option {
	return func(c *clientConfig) { c.policyPath = path }
}

// WithDenylist sets the path to a denylist YAML file.
func WithDenylist(path string) Option {
	return func(c *clientConfig) { c.denylistPath = path }
}

// WithAuditLog sets the path to the audit log.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditLogPath = path }
}

// WithAgent sets the agent every call is governed as.
func WithAgent(id string) Option {
	return func(c *clientConfig) { c.agentID = id }
}

// WithSupervisor sets the user who supervises SUPERVISED-tier executions.
func WithSupervisor(userID string) Option {
	return func(c *clientConfig) { c.supervisorID = userID }
}

// WithSource sets the default trigger source (default AI_COORDINATOR).
func WithSource(src model.TriggerSource) Option {
	return func(c *clientConfig) { c.source = src }
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	agentID  string
	impact   confidence.Impact
	feedback bool
}

// WrapWithAgent overrides the client-level agent for this wrap.
func WrapWithAgent(id string) WrapOption {
	return func(w *wrapConfig) { w.agentID = id }
}

// WrapWithImpact sets the impact used when outcomes feed confidence.
func WrapWithImpact(i confidence.Impact) WrapOption {
	return func(w *wrapConfig) { w.impact = i }
}

// WrapWithFeedback feeds the outcome of unsupervised executions into the
// agent's confidence. Supervised executions always feed their session.
func WrapWithFeedback() WrapOption {
	return func(w *wrapConfig) { w.feedback = true }
}
