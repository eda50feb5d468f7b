package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestLevelFromConfidenceBins(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0.0, Student},
		{0.3, Student},
		{0.4999, Student},
		{0.5, Intern},
		{0.69, Intern},
		{0.7, Supervised},
		{0.8999, Supervised},
		{0.9, Autonomous},
		{0.95, Autonomous},
		{1.0, Autonomous},
		{-0.2, Student},
		{1.7, Autonomous},
		{math.NaN(), Student},
	}
	for _, tt := range tests {
		if got := LevelFromConfidence(tt.score); got != tt.want {
			t.Errorf("LevelFromConfidence(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	levels := Levels()
	for i := 1; i < len(levels); i++ {
		if !(levels[i-1] < levels[i]) {
			t.Errorf("expected %s < %s", levels[i-1], levels[i])
		}
		if !levels[i].AtLeast(levels[i-1]) {
			t.Errorf("expected %s at least %s", levels[i], levels[i-1])
		}
	}
}

func TestExplicitStatusWinsOverScore(t *testing.T) {
	a := &Agent{ID: "a1", ConfidenceScore: 0.95}
	if a.Tier() != Autonomous {
		t.Fatalf("expected score-derived AUTONOMOUS, got %s", a.Tier())
	}

	a.Status = LevelPtr(Intern)
	if a.Tier() != Intern {
		t.Errorf("expected pinned INTERN, got %s", a.Tier())
	}
	if !a.Pinned() {
		t.Error("expected Pinned() to be true")
	}
}

func TestComplexityMapping(t *testing.T) {
	for c := 1; c <= 4; c++ {
		l, ok := LevelForComplexity(c)
		if !ok {
			t.Fatalf("complexity %d should be valid", c)
		}
		if l.Complexity() != c {
			t.Errorf("round trip for %d gave %d", c, l.Complexity())
		}
	}
	for _, c := range []int{0, 5, -1} {
		if _, ok := LevelForComplexity(c); ok {
			t.Errorf("complexity %d should be invalid", c)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"student", "INTERN", " Supervised ", "autonomous"} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseLevel("guru"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLevelJSONRoundTrip(t *testing.T) {
	d := Decision{Allowed: true, Reason: "ok", AgentStatus: Supervised, ActionComplexity: 3}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"allowed":true,"reason":"ok","agent_status":"SUPERVISED","action_complexity":3}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var back Decision
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != d {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestParseTriggerSource(t *testing.T) {
	src, err := ParseTriggerSource("data_sync")
	if err != nil || src != SourceDataSync {
		t.Fatalf("got %q, %v", src, err)
	}
	if src.Automated() != true {
		t.Error("DATA_SYNC should be automated")
	}
	if SourceManual.Automated() {
		t.Error("MANUAL should not be automated")
	}
	if _, err := ParseTriggerSource("cron"); err == nil {
		t.Error("expected error for unknown source")
	}
}
