// Package mcp exposes governance checks and sandboxed execution to agents as
// MCP tools over stdio.
package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustgate/internal/engine"
)

// ErrNoAgent is returned when neither the server nor the call names an agent.
var ErrNoAgent = errors.New("mcp: agent_id is required")

// Config holds MCP server configuration.
type Config struct {
	// AgentID is the identity every tool call is governed as. When empty,
	// each call must carry agent_id.
	AgentID string
	Version string
}

// Server wraps the MCP SDK server with trustgate governance.
type Server struct {
	mcpServer *mcpsdk.Server
	eng       *engine.Engine
	agentID   string
}

// New creates an MCP server over eng and registers its tools.
func New(eng *engine.Engine, cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{eng: eng, agentID: cfg.AgentID}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "trustgate",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// agent resolves the governed identity for a call. A server-level agent ID
// cannot be overridden by the caller.
func (s *Server) agent(requested string) (string, error) {
	if s.agentID != "" {
		return s.agentID, nil
	}
	if requested == "" {
		return "", ErrNoAgent
	}
	return requested, nil
}

// registerTools adds all trustgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_check_action",
		Description: "Check whether the agent's maturity tier permits an action type (dry-run).",
	}, s.handleCheckAction)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_check_capability",
		Description: "Check whether the agent's maturity tier permits a device or system capability.",
	}, s.handleCheckCapability)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_check_package",
		Description: "Check whether the agent may use a package version from the governed registry.",
	}, s.handleCheckPackage)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_request_package",
		Description: "Ask for a package version to be reviewed. Creates a pending registry entry.",
	}, s.handleRequestPackage)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_execute_code",
		Description: "Run code in an isolated, network-less sandbox. Requires permission for the execute_code action and for every listed package.",
	}, s.handleExecuteCode)
}
