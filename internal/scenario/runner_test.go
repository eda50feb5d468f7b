package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/denylist"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadAndRun(t *testing.T, path string) *RunResult {
	t.Helper()
	dir := t.TempDir()
	result, err := LoadAndRun(path, filepath.Join(dir, "policy.yaml"), filepath.Join(dir, "denylist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestAllCasesPass(t *testing.T) {
	s := &Scenario{
		Name: "tier boundaries",
		Cases: []Case{
			{Agent: AgentFixture{Confidence: 0.95}, Action: "delete", Expect: "allow"},
			{Agent: AgentFixture{Confidence: 0.3}, Action: "delete", Expect: "deny"},
			{Agent: AgentFixture{Confidence: 0.3}, Action: "search", Expect: "allow"},
			{Agent: AgentFixture{Confidence: 0.6}, Action: "send_email", Expect: "deny"},
			{Agent: AgentFixture{Confidence: 0.75}, Action: "send_email", Expect: "allow"},
		},
	}

	result := Run(s, policy.DefaultConfig(), denylist.NewDefault())
	if result.Failed != 0 {
		t.Errorf("expected 0 failures, got %d; cases: %+v", result.Failed, result.Cases)
	}
	if result.Passed != 5 {
		t.Errorf("expected 5 passed, got %d", result.Passed)
	}
}

func TestFailedAssertionDetected(t *testing.T) {
	s := &Scenario{
		Name: "wrong expectation",
		Cases: []Case{
			{Agent: AgentFixture{Confidence: 0.3}, Action: "delete", Expect: "allow"},
		},
	}

	result := Run(s, policy.DefaultConfig(), denylist.NewDefault())
	if result.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", result.Failed)
	}
	if result.Cases[0].Tier != "STUDENT" {
		t.Errorf("expected STUDENT tier, got %q", result.Cases[0].Tier)
	}
}

func TestPinnedStatusFixture(t *testing.T) {
	s := &Scenario{
		Name: "pinned",
		Cases: []Case{
			{Agent: AgentFixture{Confidence: 0.99, Status: model.LevelPtr(model.Intern)}, Action: "deploy", Expect: "deny"},
		},
	}
	result := Run(s, policy.DefaultConfig(), denylist.NewDefault())
	if result.Failed != 0 {
		t.Errorf("pinned INTERN should be denied deploy: %+v", result.Cases)
	}
}

func TestPackageCasesUseSeededRegistry(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "pkg.yaml", `
name: "package registry"
registry:
  - {name: numpy, version: 1.26.0, status: active, min_maturity: INTERN}
  - {name: pandas, version: 2.2.0, status: pending, min_maturity: INTERN}
  - {name: leftpad, version: 1.0.0, status: banned, ban_reason: unmaintained}
cases:
  - agent: {confidence: 0.6}
    package: numpy==1.26.0
    expect: allow
  - agent: {confidence: 0.3}
    package: numpy==1.26.0
    expect: deny
  - agent: {confidence: 0.6}
    package: numpy==1.25.0
    expect: deny
  - agent: {confidence: 0.95}
    package: pandas==2.2.0
    expect: deny
  - agent: {confidence: 0.95}
    package: leftpad==1.0.0
    expect: deny
  - agent: {confidence: 0.95}
    package: colourama==0.4.6
    expect: deny
`)

	result := loadAndRun(t, path)
	if result.Failed != 0 {
		t.Fatalf("expected 0 failures, got %d; cases: %+v", result.Failed, result.Cases)
	}
	if !strings.HasPrefix(result.Cases[4].Reason, "banned: unmaintained") {
		t.Errorf("unexpected ban reason %q", result.Cases[4].Reason)
	}
}

func TestCapabilityCase(t *testing.T) {
	s := &Scenario{
		Name: "capabilities",
		Cases: []Case{
			{Agent: AgentFixture{Confidence: 0.6}, Capability: "camera", Expect: "allow"},
			{Agent: AgentFixture{Confidence: 0.6}, Capability: "screen_recording", Expect: "deny"},
		},
	}
	result := Run(s, policy.DefaultConfig(), denylist.NewDefault())
	if result.Failed != 0 {
		t.Errorf("expected 0 failures, got %+v", result.Cases)
	}
}

func TestMalformedCasesFail(t *testing.T) {
	s := &Scenario{
		Name: "malformed",
		Cases: []Case{
			{Agent: AgentFixture{Confidence: 0.6}, Expect: "allow"},
			{Agent: AgentFixture{Confidence: 0.6}, Package: "numpy", Expect: "deny"},
		},
	}
	result := Run(s, policy.DefaultConfig(), denylist.NewDefault())
	if result.Failed != 2 {
		t.Fatalf("expected 2 failures, got %d", result.Failed)
	}
	for _, c := range result.Cases {
		if c.Actual != "error" {
			t.Errorf("case %d: expected error, got %q", c.Index, c.Actual)
		}
	}
}

func TestLoadAndRunFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "test.yaml", `
name: "file test"
cases:
  - agent: {status: SUPERVISED}
    action: update_record
    expect: allow
`)

	result := loadAndRun(t, path)
	if result.Failed != 0 {
		t.Errorf("expected 0 failures, got %d: %+v", result.Failed, result.Cases)
	}
	if result.File != path {
		t.Errorf("expected file path set, got %q", result.File)
	}
}

func TestInvalidScenarioYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "bad.yaml", ":::not yaml\x00")

	_, err := LoadAndRun(path, filepath.Join(dir, "p.yaml"), filepath.Join(dir, "d.yaml"))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEmptyCasesList(t *testing.T) {
	result := Run(&Scenario{Name: "empty"}, policy.DefaultConfig(), denylist.NewDefault())
	if result.Total != 0 || result.Failed != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestFormatText(t *testing.T) {
	results := []*RunResult{
		{Name: "good", Total: 1, Passed: 1},
		{Name: "bad", Total: 2, Passed: 1, Failed: 1, Cases: []CaseResult{
			{Index: 1, Passed: true},
			{Index: 2, Kind: "action", Subject: "delete", Tier: "STUDENT", Expected: "allow", Actual: "deny", Reason: "agent s1 is STUDENT"},
		}},
	}
	out := FormatText(results)
	for _, want := range []string{"good: 1/1 ok", "bad: 1/2 FAILED", "TIER", "STUDENT", "agent s1 is STUDENT", "2 scenarios, 3 cases, 1 failed", "failures by tier: STUDENT=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	js, err := FormatJSON(results)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(js, `"name": "bad"`) {
		t.Errorf("unexpected JSON: %s", js)
	}
}
