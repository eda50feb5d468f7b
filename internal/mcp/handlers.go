package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustgate/internal/sandbox"
)

// --- Input/Output types ---

// CheckActionInput defines parameters for the trustgate_check_action tool.
type CheckActionInput struct {
	AgentID    string `json:"agent_id,omitempty" jsonschema:"agent to check, ignored when the server is bound to an agent"`
	ActionType string `json:"action_type" jsonschema:"action type such as search, send_email or delete"`
}

// CheckCapabilityInput defines parameters for the trustgate_check_capability tool.
type CheckCapabilityInput struct {
	AgentID    string `json:"agent_id,omitempty" jsonschema:"agent to check, ignored when the server is bound to an agent"`
	Capability string `json:"capability" jsonschema:"capability such as camera or screen_recording"`
}

// DecisionOutput is a governance verdict.
type DecisionOutput struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason"`
	AgentStatus      string `json:"agent_status"`
	ActionComplexity int    `json:"action_complexity"`
}

// PackageInput defines parameters for the package tools.
type PackageInput struct {
	AgentID string `json:"agent_id,omitempty" jsonschema:"agent to check, ignored when the server is bound to an agent"`
	Name    string `json:"name" jsonschema:"package name"`
	Version string `json:"version" jsonschema:"exact package version"`
}

// RequestPackageOutput describes the registry entry after a request.
type RequestPackageOutput struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

// ExecuteInput defines parameters for the trustgate_execute_code tool.
type ExecuteInput struct {
	AgentID        string         `json:"agent_id,omitempty" jsonschema:"agent to run as, ignored when the server is bound to an agent"`
	Code           string         `json:"code" jsonschema:"source code, passed to the interpreter on stdin"`
	Inputs         map[string]any `json:"inputs,omitempty" jsonschema:"values exposed to the code as JSON in TRUSTGATE_INPUTS"`
	Packages       []string       `json:"packages,omitempty" jsonschema:"packages the code uses, as name==version"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty" jsonschema:"execution timeout in seconds"`
}

// ExecuteOutput contains the tagged sandbox result or the denial.
type ExecuteOutput struct {
	Result      string `json:"result"`
	Kind        string `json:"kind,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	Blocked     bool   `json:"blocked,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// --- Handlers ---

func (s *Server) handleCheckAction(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckActionInput) (*mcpsdk.CallToolResult, DecisionOutput, error) {
	agentID, err := s.agent(input.AgentID)
	if err != nil {
		return nil, DecisionOutput{}, err
	}
	d, err := s.eng.Governance.CanPerformAction(ctx, agentID, input.ActionType)
	if err != nil {
		return nil, DecisionOutput{}, err
	}
	return nil, toOutput(d.Allowed, d.Reason, d.AgentStatus.String(), d.ActionComplexity), nil
}

func (s *Server) handleCheckCapability(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckCapabilityInput) (*mcpsdk.CallToolResult, DecisionOutput, error) {
	agentID, err := s.agent(input.AgentID)
	if err != nil {
		return nil, DecisionOutput{}, err
	}
	d, err := s.eng.Governance.CanUseCapability(ctx, agentID, input.Capability)
	if err != nil {
		return nil, DecisionOutput{}, err
	}
	return nil, toOutput(d.Allowed, d.Reason, d.AgentStatus.String(), d.ActionComplexity), nil
}

func (s *Server) handleCheckPackage(ctx context.Context, req *mcpsdk.CallToolRequest, input PackageInput) (*mcpsdk.CallToolResult, DecisionOutput, error) {
	agentID, err := s.agent(input.AgentID)
	if err != nil {
		return nil, DecisionOutput{}, err
	}
	d, err := s.eng.Packages.CheckPackagePermission(ctx, agentID, input.Name, input.Version)
	if err != nil {
		return nil, DecisionOutput{}, err
	}
	return nil, toOutput(d.Allowed, d.Reason, d.AgentStatus.String(), d.ActionComplexity), nil
}

func (s *Server) handleRequestPackage(ctx context.Context, req *mcpsdk.CallToolRequest, input PackageInput) (*mcpsdk.CallToolResult, RequestPackageOutput, error) {
	agentID, err := s.agent(input.AgentID)
	if err != nil {
		return nil, RequestPackageOutput{}, err
	}
	entry, created, err := s.eng.Packages.RequestPackageApproval(ctx, input.Name, input.Version, agentID)
	if err != nil {
		return nil, RequestPackageOutput{}, err
	}
	return nil, RequestPackageOutput{
		Name:    entry.Name,
		Version: entry.Version,
		Status:  string(entry.Status),
		Created: created,
	}, nil
}

func (s *Server) handleExecuteCode(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecuteInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	agentID, err := s.agent(input.AgentID)
	if err != nil {
		return nil, ExecuteOutput{}, err
	}

	d, err := s.eng.Governance.CanExecuteCode(ctx, agentID)
	if err != nil {
		return nil, ExecuteOutput{}, err
	}
	if !d.Allowed {
		return blocked(d.Reason)
	}

	for _, spec := range input.Packages {
		name, version, ok := strings.Cut(spec, "==")
		if !ok {
			return blocked(fmt.Sprintf("package %q must be written as name==version", spec))
		}
		pd, err := s.eng.Packages.CheckPackagePermission(ctx, agentID, name, version)
		if err != nil {
			return blocked(err.Error())
		}
		if !pd.Allowed {
			return blocked(pd.Reason)
		}
	}

	res := s.eng.Sandbox.Run(ctx, sandbox.Request{
		Code:    input.Code,
		Inputs:  input.Inputs,
		Timeout: time.Duration(input.TimeoutSeconds * float64(time.Second)),
	})
	out := ExecuteOutput{
		Result:      res.String(),
		Kind:        string(res.Kind),
		ExecutionID: res.ExecutionID,
	}
	if res.Kind != sandbox.KindOK {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func blocked(reason string) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	return &mcpsdk.CallToolResult{IsError: true}, ExecuteOutput{
		Result:  "BLOCKED: " + reason,
		Blocked: true,
		Reason:  reason,
	}, nil
}

func toOutput(allowed bool, reason, tier string, complexity int) DecisionOutput {
	return DecisionOutput{
		Allowed:          allowed,
		Reason:           reason,
		AgentStatus:      tier,
		ActionComplexity: complexity,
	}
}
