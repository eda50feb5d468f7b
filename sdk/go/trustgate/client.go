package trustgate

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/engine"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/model"
)

// ErrNoAgent is returned when neither the client nor the call names an agent.
var ErrNoAgent = errors.New("trustgate: agent is required")

// Client holds the governance engine for in-process enforcement.
// Safe for concurrent tool calls.
type Client struct {
	cfg        clientConfig
	eng        *engine.Engine
	ownsEngine bool
}

// New opens the trustgate database, policy and denylist and returns a Client.
// Callers must Close it.
func New(opts ...Option) (*Client, error) {
	c := newClient(opts)

	cfg, err := config.Load(c.cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to load config: %w", err)
	}
	if c.cfg.dbPath != "" {
		cfg.DBPath = c.cfg.dbPath
	}
	if c.cfg.policyPath != "" {
		cfg.PolicyPath = c.cfg.policyPath
	}
	if c.cfg.denylistPath != "" {
		cfg.DenylistPath = c.cfg.denylistPath
	}
	if c.cfg.auditLogPath != "" {
		cfg.AuditLogPath = c.cfg.auditLogPath
	}

	eng, err := engine.New(context.Background(), cfg, engine.WithLogger(logging.New(os.Stderr, "warn")))
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to start engine: %w", err)
	}
	c.eng = eng
	c.ownsEngine = true
	return c, nil
}

// NewWithEngine returns a Client over an engine owned by the caller.
func NewWithEngine(eng *engine.Engine, opts ...Option) *Client {
	c := newClient(opts)
	c.eng = eng
	return c
}

func newClient(opts []Option) *Client {
	cfg := clientConfig{source: model.SourceAICoordinator}
	for _, o := range opts {
		o(&cfg)
	}
	return &Client{cfg: cfg}
}

// Close releases the engine when the client opened it.
func (c *Client) Close() error {
	if !c.ownsEngine {
		return nil
	}
	return c.eng.Close()
}

func (c *Client) agent(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c.cfg.agentID == "" {
		return "", ErrNoAgent
	}
	return c.cfg.agentID, nil
}

// Check asks whether the client's agent may perform actionType. Nothing is
// routed or recorded beyond the usual denial audit.
func (c *Client) Check(ctx context.Context, actionType string) (Result, error) {
	agentID, err := c.agent("")
	if err != nil {
		return Result{}, err
	}
	d, err := c.eng.Governance.CanPerformAction(ctx, agentID, actionType)
	if err != nil {
		return Result{}, err
	}
	return toResult(d), nil
}

// CheckCapability asks whether the client's agent may use capability.
func (c *Client) CheckCapability(ctx context.Context, capability string) (Result, error) {
	agentID, err := c.agent("")
	if err != nil {
		return Result{}, err
	}
	d, err := c.eng.Governance.CanUseCapability(ctx, agentID, capability)
	if err != nil {
		return Result{}, err
	}
	return toResult(d), nil
}

// CheckPackage asks whether the client's agent may use name at version.
func (c *Client) CheckPackage(ctx context.Context, name, version string) (Result, error) {
	agentID, err := c.agent("")
	if err != nil {
		return Result{}, err
	}
	d, err := c.eng.Packages.CheckPackagePermission(ctx, agentID, name, version)
	if err != nil {
		return Result{}, err
	}
	return toResult(d), nil
}

// Heartbeat marks the client's supervisor available so SUPERVISED-tier
// actions run under a live session instead of being deferred.
func (c *Client) Heartbeat() error {
	if c.cfg.supervisorID == "" {
		return errors.New("trustgate: no supervisor configured")
	}
	return c.eng.Availability.Heartbeat(c.cfg.supervisorID, 0)
}
