package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/denylist"
	"github.com/ppiankov/trustgate/internal/governance"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/packages"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/storage"
)

var errReadOnly = errors.New("scenario: registry is read-only")

// fixtures is an in-memory agent and package store. Scenarios never mutate
// the registry.
type fixtures struct {
	mu       sync.Mutex
	agents   map[string]*model.Agent
	registry map[string]model.PackageEntry
}

func (f *fixtures) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", id, storage.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *fixtures) GetPackage(_ context.Context, name, version string) (*model.PackageEntry, error) {
	e, ok := f.registry[model.PackageKey(name, version)]
	if !ok {
		return nil, fmt.Errorf("get package: %w", storage.ErrNotFound)
	}
	return &e, nil
}

func (f *fixtures) RequestPackage(context.Context, string, string, string, model.Level) (*model.PackageEntry, bool, error) {
	return nil, false, errReadOnly
}

func (f *fixtures) ApprovePackage(context.Context, string, string, model.Level, string) (*model.PackageEntry, error) {
	return nil, errReadOnly
}

func (f *fixtures) BanPackage(context.Context, string, string, string) (*model.PackageEntry, error) {
	return nil, errReadOnly
}

func (f *fixtures) ListPackages(context.Context, model.PackageStatus) ([]model.PackageEntry, error) {
	return nil, errReadOnly
}

// Run evaluates all cases in a scenario against the given policy and denylist.
// Each case runs as its own agent, so cases are independent.
func Run(s *Scenario, cfg *policy.PolicyConfig, dl *denylist.Denylist) *RunResult {
	ctx := context.Background()
	fx := &fixtures{
		agents:   make(map[string]*model.Agent),
		registry: make(map[string]model.PackageEntry),
	}
	for _, r := range s.Registry {
		name, version, err := packages.Normalize(r.Name, r.Version)
		if err != nil {
			continue
		}
		status := r.Status
		if status == "" {
			status = model.PackageActive
		}
		fx.registry[model.PackageKey(name, version)] = model.PackageEntry{
			Name: name, Version: version, Status: status, MinMaturity: r.MinMaturity, BanReason: r.BanReason,
		}
	}

	gov := governance.New(fx, governance.WithPolicy(cfg, ""))
	pkgs := packages.New(fx, gov, packages.WithDenylist(dl))

	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		agentID := fmt.Sprintf("scenario-%d", i+1)
		fx.mu.Lock()
		fx.agents[agentID] = &model.Agent{ID: agentID, ConfidenceScore: c.Agent.Confidence, Status: c.Agent.Status}
		fx.mu.Unlock()

		kind, subject := c.Subject()
		cr := CaseResult{
			Index:    i + 1,
			Kind:     kind,
			Subject:  subject,
			Expected: strings.ToLower(strings.TrimSpace(c.Expect)),
		}

		d, err := evaluate(ctx, gov, pkgs, agentID, kind, subject)
		if err != nil {
			cr.Actual = "error"
			cr.Reason = err.Error()
		} else {
			cr.Actual = d.Verdict()
			cr.Reason = d.Reason
			cr.Tier = d.AgentStatus.String()
		}

		if cr.Actual == cr.Expected {
			cr.Passed = true
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result
}

func evaluate(ctx context.Context, gov *governance.Service, pkgs *packages.Service, agentID, kind, subject string) (model.Decision, error) {
	switch kind {
	case "action":
		return gov.CanPerformAction(ctx, agentID, subject)
	case "capability":
		return gov.CanUseCapability(ctx, agentID, subject)
	case "package":
		name, version, ok := strings.Cut(subject, "==")
		if !ok {
			return model.Decision{}, fmt.Errorf("package %q must be written as name==version", subject)
		}
		return pkgs.CheckPackagePermission(ctx, agentID, name, version)
	default:
		return model.Decision{}, errors.New("case needs one of action, capability or package")
	}
}

// LoadAndRun loads a scenario YAML file, loads policy and denylist, and runs.
func LoadAndRun(path, policyPath, denylistPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	dl, err := denylist.Load(denylistPath)
	if err != nil {
		return nil, fmt.Errorf("load denylist: %w", err)
	}

	result := Run(&s, cfg, dl)
	result.File = path

	return result, nil
}
