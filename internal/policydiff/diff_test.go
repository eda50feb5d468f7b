package policydiff

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
)

func findChange(r *DiffResult, field string) *Change {
	for i := range r.Changes {
		if r.Changes[i].Field == field {
			return &r.Changes[i]
		}
	}
	return nil
}

func TestIdenticalPoliciesNoChanges(t *testing.T) {
	r := Diff(policy.DefaultConfig(), policy.DefaultConfig())
	if r.HasChanges {
		t.Errorf("expected no changes, got %d changes and %d rule changes", len(r.Changes), len(r.RuleChanges))
	}
	if !strings.Contains(FormatText(r), "No changes detected") {
		t.Error("text output should report no changes")
	}
}

func TestDefaultComplexityStricter(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.DefaultComplexity = model.ComplexityCritical

	r := Diff(old, new)
	c := findChange(r, "default_complexity")
	if c == nil {
		t.Fatal("default_complexity change not detected")
	}
	if c.Old != "2" || c.New != "4" || c.Comment != "stricter" {
		t.Errorf("unexpected change: %+v", c)
	}
}

func TestActionAddedRemovedChanged(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.Actions["rotate_keys"] = 4
	delete(new.Actions, "present_form")
	new.Actions["notify"] = 1

	r := Diff(old, new)
	if c := findChange(r, "actions.rotate_keys"); c == nil || c.Comment != "added" || c.New != "4" {
		t.Errorf("rotate_keys: %+v", c)
	}
	if c := findChange(r, "actions.present_form"); c == nil || c.Comment != "removed" || c.Old != "1" {
		t.Errorf("present_form: %+v", c)
	}
	if c := findChange(r, "actions.notify"); c == nil || c.Comment != "looser" {
		t.Errorf("notify: %+v", c)
	}
	if r.Stricter() != 0 {
		t.Errorf("Stricter() = %d, want 0", r.Stricter())
	}
}

func TestCapabilityTierChange(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.Capabilities["camera"] = model.Supervised
	new.PackageMinMaturity = model.Student

	r := Diff(old, new)
	c := findChange(r, "capabilities.camera")
	if c == nil || c.Old != "INTERN" || c.New != "SUPERVISED" || c.Comment != "stricter" {
		t.Errorf("camera: %+v", c)
	}
	c = findChange(r, "package_min_maturity")
	if c == nil || c.Comment != "looser" {
		t.Errorf("package_min_maturity: %+v", c)
	}
}

func TestConfidenceDeltaDirection(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.Confidence.PositiveHigh = 0.02
	new.Confidence.NegativeHigh = -0.2
	new.Confidence.NegativeLow = -0.01

	r := Diff(old, new)
	if c := findChange(r, "confidence.positive_high"); c == nil || c.Comment != "stricter" {
		t.Errorf("smaller reward should be stricter: %+v", c)
	}
	if c := findChange(r, "confidence.negative_high"); c == nil || c.Comment != "stricter" {
		t.Errorf("larger penalty should be stricter: %+v", c)
	}
	if c := findChange(r, "confidence.negative_low"); c == nil || c.Comment != "looser" {
		t.Errorf("smaller penalty should be looser: %+v", c)
	}
	if r.Stricter() != 2 {
		t.Errorf("Stricter() = %d, want 2", r.Stricter())
	}
}

func TestKeywordRuleChanges(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.Keywords = []policy.KeywordRule{
		{Keyword: "read", Complexity: 1},
		{Keyword: "send", Complexity: 4},
		{Keyword: "wipe", Complexity: 4},
	}

	r := Diff(old, new)
	counts := map[string]int{}
	for _, rc := range r.RuleChanges {
		counts[rc.Type]++
	}
	if counts["added"] != 1 || counts["changed"] != 1 {
		t.Errorf("unexpected rule changes: %+v", r.RuleChanges)
	}
	if counts["removed"] != len(old.Keywords)-2 {
		t.Errorf("removed = %d, want %d", counts["removed"], len(old.Keywords)-2)
	}

	text := FormatText(r)
	if !strings.Contains(text, "+ keyword=wipe") || !strings.Contains(text, "~ keyword=send") {
		t.Errorf("text output missing keyword lines:\n%s", text)
	}
}

func TestFormatTextSections(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.Actions["deploy"] = 3
	new.Capabilities["microphone"] = model.Supervised

	r := Diff(old, new)
	r.OldPath, r.NewPath = "a.yaml", "b.yaml"
	text := FormatText(r)
	for _, want := range []string{"a.yaml → b.yaml", "Actions:", "deploy:", "Capabilities:", "+ microphone"} {
		if !strings.Contains(text, want) {
			t.Errorf("text output missing %q:\n%s", want, text)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.DefaultComplexity = 3

	out, err := FormatJSON(Diff(old, new))
	if err != nil {
		t.Fatal(err)
	}
	var decoded DiffResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !decoded.HasChanges || len(decoded.Changes) != 1 {
		t.Errorf("unexpected decoded result: %+v", decoded)
	}
}
