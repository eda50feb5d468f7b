package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ppiankov/trustgate/internal/model"
)

// FormatText renders run results as one block per scenario. Failing cases
// are listed as a tier-by-subject table with the governance reason.
func FormatText(results []*RunResult) string {
	var b strings.Builder

	var total, failed int
	failedByTier := map[string]int{}
	for _, r := range results {
		total += r.Total
		failed += r.Failed

		verdict := "ok"
		if r.Failed > 0 {
			verdict = "FAILED"
		}
		fmt.Fprintf(&b, "%s: %d/%d %s\n", r.Name, r.Passed, r.Total, verdict)
		if r.Failed == 0 {
			continue
		}

		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tTIER\tKIND\tSUBJECT\tWANT\tGOT\tREASON")
		for _, c := range r.Cases {
			if c.Passed {
				continue
			}
			failedByTier[c.Tier]++
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.Index, c.Tier, c.Kind, c.Subject, c.Expected, c.Actual, c.Reason)
		}
		tw.Flush()
	}

	fmt.Fprintf(&b, "\n%d scenarios, %d cases, %d failed\n", len(results), total, failed)
	if failed > 0 {
		var parts []string
		for _, lvl := range model.Levels() {
			if n := failedByTier[lvl.String()]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", lvl, n))
			}
		}
		fmt.Fprintf(&b, "failures by tier: %s\n", strings.Join(parts, " "))
	}
	return b.String()
}

// FormatJSON renders run results as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
