// Package policydiff compares two governance policies and classifies each
// change as stricter or looser.
package policydiff

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
)

// Change represents a scalar or map-entry change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a keyword rule addition, removal, or modification.
type RuleChange struct {
	Type string `json:"type"` // "added", "removed", "changed"
	Rule string `json:"rule"`
}

// DiffResult holds the comparison of two PolicyConfigs.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Stricter counts changes that raise a requirement.
func (r *DiffResult) Stricter() int {
	n := 0
	for _, c := range r.Changes {
		if c.Comment == "stricter" {
			n++
		}
	}
	return n
}

// Diff compares two PolicyConfigs and returns the differences.
func Diff(old, new *policy.PolicyConfig) *DiffResult {
	r := &DiffResult{}

	diffInt(r, "default_complexity", old.DefaultComplexity, new.DefaultComplexity)
	diffLevel(r, "package_min_maturity", old.PackageMinMaturity, new.PackageMinMaturity)

	diffIntMap(r, "actions", old.Actions, new.Actions)
	diffLevelMap(r, "capabilities", old.Capabilities, new.Capabilities)

	// Smaller rewards and larger penalties both slow promotion.
	diffFloat(r, "confidence.positive_high", old.Confidence.PositiveHigh, new.Confidence.PositiveHigh)
	diffFloat(r, "confidence.positive_low", old.Confidence.PositiveLow, new.Confidence.PositiveLow)
	diffFloat(r, "confidence.negative_high", old.Confidence.NegativeHigh, new.Confidence.NegativeHigh)
	diffFloat(r, "confidence.negative_low", old.Confidence.NegativeLow, new.Confidence.NegativeLow)

	diffKeywords(r, old.Keywords, new.Keywords)

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

func diffInt(r *DiffResult, field string, old, new int) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     strconv.Itoa(old),
			New:     strconv.Itoa(new),
			Comment: comment(new > old),
		})
	}
}

func diffLevel(r *DiffResult, field string, old, new model.Level) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     old.String(),
			New:     new.String(),
			Comment: comment(new > old),
		})
	}
}

func diffFloat(r *DiffResult, field string, old, new float64) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     strconv.FormatFloat(old, 'g', -1, 64),
			New:     strconv.FormatFloat(new, 'g', -1, 64),
			Comment: comment(new < old),
		})
	}
}

func comment(stricter bool) string {
	if stricter {
		return "stricter"
	}
	return "looser"
}

func diffIntMap(r *DiffResult, section string, old, new map[string]int) {
	for _, k := range unionKeys(old, new) {
		o, inOld := old[k]
		n, inNew := new[k]
		field := section + "." + k
		switch {
		case !inOld:
			r.Changes = append(r.Changes, Change{Field: field, New: strconv.Itoa(n), Comment: "added"})
		case !inNew:
			r.Changes = append(r.Changes, Change{Field: field, Old: strconv.Itoa(o), Comment: "removed"})
		default:
			diffInt(r, field, o, n)
		}
	}
}

func diffLevelMap(r *DiffResult, section string, old, new map[string]model.Level) {
	for _, k := range unionKeys(old, new) {
		o, inOld := old[k]
		n, inNew := new[k]
		field := section + "." + k
		switch {
		case !inOld:
			r.Changes = append(r.Changes, Change{Field: field, New: n.String(), Comment: "added"})
		case !inNew:
			r.Changes = append(r.Changes, Change{Field: field, Old: o.String(), Comment: "removed"})
		default:
			diffLevel(r, field, o, n)
		}
	}
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]bool, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []map[string]V{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func diffKeywords(r *DiffResult, oldRules, newRules []policy.KeywordRule) {
	oldMap := make(map[string]policy.KeywordRule)
	for _, rule := range oldRules {
		oldMap[rule.Keyword] = rule
	}
	newMap := make(map[string]policy.KeywordRule)
	for _, rule := range newRules {
		newMap[rule.Keyword] = rule
	}

	for _, rule := range newRules {
		if oldRule, exists := oldMap[rule.Keyword]; exists {
			if oldRule.Complexity != rule.Complexity {
				r.RuleChanges = append(r.RuleChanges, RuleChange{
					Type: "changed",
					Rule: fmt.Sprintf("keyword=%s → %d (was: %d)", rule.Keyword, rule.Complexity, oldRule.Complexity),
				})
			}
		} else {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "added",
				Rule: fmt.Sprintf("keyword=%s → %d", rule.Keyword, rule.Complexity),
			})
		}
	}
	for _, rule := range oldRules {
		if _, exists := newMap[rule.Keyword]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "removed",
				Rule: fmt.Sprintf("keyword=%s → %d", rule.Keyword, rule.Complexity),
			})
		}
	}
}
