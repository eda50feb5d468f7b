package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, hash, err := LoadConfigWithHash(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultComplexity != 2 {
		t.Errorf("expected default complexity 2, got %d", cfg.DefaultComplexity)
	}
	if hash != hashBytes(nil) {
		t.Errorf("expected empty-input hash, got %s", hash)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	yaml := `
default_complexity: 3
actions:
  export_report: 2
capabilities:
  camera: SUPERVISED
confidence:
  positive_high: 0.2
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatalf("LoadConfigWithHash: %v", err)
	}
	if !strings.HasPrefix(hash, "sha256:") || hash == hashBytes(nil) {
		t.Errorf("unexpected hash %q", hash)
	}
	if cfg.DefaultComplexity != 3 {
		t.Errorf("expected 3, got %d", cfg.DefaultComplexity)
	}
	if cfg.Actions["export_report"] != 2 {
		t.Errorf("expected export_report=2")
	}
	if cfg.Actions["delete"] != 4 {
		t.Errorf("expected default delete=4 to survive overlay")
	}
	if cfg.Capabilities["camera"] != model.Supervised {
		t.Errorf("expected camera=SUPERVISED, got %s", cfg.Capabilities["camera"])
	}
	if cfg.Confidence.PositiveHigh != 0.2 || cfg.Confidence.NegativeHigh != -0.10 {
		t.Errorf("unexpected deltas: %+v", cfg.Confidence)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":       "actions: [",
		"bad complexity": "actions:\n  nuke: 7\n",
		"bad level":      "capabilities:\n  camera: GURU\n",
		"wrong sign":     "confidence:\n  negative_high: 0.3\n",
		"code execution": "capabilities:\n  code_execution: SUPERVISED\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			os.WriteFile(path, []byte(body), 0600)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte(DefaultConfigYAML()), 0600)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("generated YAML does not load: %v", err)
	}
	if cfg.PackageMinMaturity != model.Intern {
		t.Errorf("expected INTERN, got %s", cfg.PackageMinMaturity)
	}
}

func TestComplexityFor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		action string
		want   int
		source string
	}{
		{"search", 1, "action"},
		{"SEARCH", 1, "action"},
		{"delete", 4, "action"},
		{"bulk_delete_records", 4, "keyword:delete"},
		{"read_and_delete", 4, "keyword:delete"},
		{"view_dashboard", 1, "keyword:view"},
		{"write_file", 3, "keyword:write"},
		{"frobnicate", 2, "default"},
	}
	for _, tt := range tests {
		m := cfg.ComplexityFor(tt.action)
		if m.Complexity != tt.want || m.Source != tt.source {
			t.Errorf("ComplexityFor(%q) = %+v, want %d/%s", tt.action, m, tt.want, tt.source)
		}
	}
}

func TestRequiredLevel(t *testing.T) {
	cfg := DefaultConfig()
	if lvl, _ := cfg.RequiredLevel("execute_code"); lvl != model.Autonomous {
		t.Errorf("execute_code should need AUTONOMOUS, got %s", lvl)
	}
	if lvl, _ := cfg.RequiredLevel("present_chart"); lvl != model.Student {
		t.Errorf("present_chart should need STUDENT, got %s", lvl)
	}
}

func TestCapabilityLevel(t *testing.T) {
	cfg := DefaultConfig()
	if lvl, ok := cfg.CapabilityLevel("Camera"); !ok || lvl != model.Intern {
		t.Errorf("camera: got %s ok=%v", lvl, ok)
	}
	if lvl, ok := cfg.CapabilityLevel("teleport"); ok || lvl != model.Autonomous {
		t.Errorf("unknown capability should fail closed to AUTONOMOUS, got %s ok=%v", lvl, ok)
	}
}

func TestCodeExecutionFollowsActionTable(t *testing.T) {
	cfg := DefaultConfig()
	action, _ := cfg.RequiredLevel(ActionExecuteCode)
	capability, ok := cfg.CapabilityLevel(CapabilityCodeExecution)
	if !ok || capability != action {
		t.Errorf("code_execution = %s, execute_code = %s; they must agree", capability, action)
	}

	cfg.Actions[ActionExecuteCode] = 3
	if lvl, _ := cfg.CapabilityLevel("Code_Execution"); lvl != model.Supervised {
		t.Errorf("code_execution should follow execute_code=3, got %s", lvl)
	}
}

func TestDelta(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Delta(true, true) <= cfg.Delta(true, false) {
		t.Error("high-impact positive delta must exceed low-impact")
	}
	if cfg.Delta(false, true) >= cfg.Delta(false, false) {
		t.Error("high-impact negative delta must be more negative than low-impact")
	}
}
