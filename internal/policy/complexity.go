package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/trustgate/internal/model"
)

// ActionExecuteCode is the action class of every sandbox run.
const ActionExecuteCode = "execute_code"

// CapabilityCodeExecution is the capability name for sandbox runs. It has no
// entry of its own: its tier is always the tier ActionExecuteCode requires.
const CapabilityCodeExecution = "code_execution"

// Match describes how an action type was classified.
type Match struct {
	Complexity int
	Source     string // "action", "keyword:<kw>" or "default"
}

// ComplexityFor classifies an action type. Lookup order: exact (case-insensitive)
// match in Actions, then the highest complexity among Keywords contained in the
// action type, then DefaultComplexity.
func (c *PolicyConfig) ComplexityFor(actionType string) Match {
	key := strings.ToLower(strings.TrimSpace(actionType))

	if cx, ok := c.Actions[key]; ok {
		return Match{Complexity: cx, Source: "action"}
	}
	for name, cx := range c.Actions {
		if strings.EqualFold(name, key) {
			return Match{Complexity: cx, Source: "action"}
		}
	}

	best := Match{}
	for _, kw := range c.Keywords {
		if kw.Keyword == "" || !strings.Contains(key, strings.ToLower(kw.Keyword)) {
			continue
		}
		// Ties keep the first rule in file order.
		if kw.Complexity > best.Complexity {
			best = Match{Complexity: kw.Complexity, Source: "keyword:" + kw.Keyword}
		}
	}
	if best.Complexity > 0 {
		return best
	}

	return Match{Complexity: c.DefaultComplexity, Source: "default"}
}

// RequiredLevel returns the tier an action type requires.
func (c *PolicyConfig) RequiredLevel(actionType string) (model.Level, Match) {
	m := c.ComplexityFor(actionType)
	lvl, ok := model.LevelForComplexity(m.Complexity)
	if !ok {
		// Out-of-range complexities fail closed to the strictest tier.
		return model.Autonomous, Match{Complexity: model.ComplexityCritical, Source: m.Source}
	}
	return lvl, m
}

// CapabilityLevel returns the tier a capability requires. Unknown
// capabilities require AUTONOMOUS. Code execution resolves through the
// action table so the two checks cannot disagree.
func (c *PolicyConfig) CapabilityLevel(capability string) (model.Level, bool) {
	key := strings.ToLower(strings.TrimSpace(capability))
	if key == CapabilityCodeExecution {
		lvl, _ := c.RequiredLevel(ActionExecuteCode)
		return lvl, true
	}
	if lvl, ok := c.Capabilities[key]; ok {
		return lvl, true
	}
	for name, lvl := range c.Capabilities {
		if strings.EqualFold(name, key) {
			return lvl, true
		}
	}
	return model.Autonomous, false
}

// Delta returns the confidence adjustment for an outcome signal.
func (c *PolicyConfig) Delta(positive, highImpact bool) float64 {
	switch {
	case positive && highImpact:
		return c.Confidence.PositiveHigh
	case positive:
		return c.Confidence.PositiveLow
	case highImpact:
		return c.Confidence.NegativeHigh
	default:
		return c.Confidence.NegativeLow
	}
}

// Describe renders a Match for reasons and CLI output.
func (m Match) Describe() string {
	return fmt.Sprintf("complexity %d (%s)", m.Complexity, m.Source)
}
