package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)

	topLevel := filterTopLevel(r.Changes)
	if len(topLevel) > 0 {
		b.WriteString("\n")
		for _, c := range topLevel {
			fmt.Fprintf(&b, "  %-24s %s → %s", c.Field+":", c.Old, c.New)
			if c.Comment != "" {
				fmt.Fprintf(&b, "  (%s)", c.Comment)
			}
			b.WriteString("\n")
		}
	}

	writeSection(&b, "Actions", "actions.", filterChanges(r.Changes, "actions."))
	writeSection(&b, "Capabilities", "capabilities.", filterChanges(r.Changes, "capabilities."))
	writeSection(&b, "Confidence", "confidence.", filterChanges(r.Changes, "confidence."))

	if len(r.RuleChanges) > 0 {
		b.WriteString("\n  Keywords:\n")
		for _, rc := range r.RuleChanges {
			switch rc.Type {
			case "added":
				fmt.Fprintf(&b, "    + %s\n", rc.Rule)
			case "removed":
				fmt.Fprintf(&b, "    - %s\n", rc.Rule)
			case "changed":
				fmt.Fprintf(&b, "    ~ %s\n", rc.Rule)
			}
		}
	}

	return b.String()
}

func writeSection(b *strings.Builder, title, prefix string, changes []Change) {
	if len(changes) == 0 {
		return
	}
	fmt.Fprintf(b, "\n  %s:\n", title)
	for _, c := range changes {
		name := strings.TrimPrefix(c.Field, prefix)
		switch c.Comment {
		case "added":
			fmt.Fprintf(b, "    + %-18s %s\n", name, c.New)
		case "removed":
			fmt.Fprintf(b, "    - %-18s %s\n", name, c.Old)
		default:
			fmt.Fprintf(b, "    ~ %-18s %s → %s  (%s)\n", name+":", c.Old, c.New, c.Comment)
		}
	}
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func filterChanges(changes []Change, prefix string) []Change {
	var out []Change
	for _, c := range changes {
		if strings.HasPrefix(c.Field, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func filterTopLevel(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if !strings.Contains(c.Field, ".") {
			out = append(out, c)
		}
	}
	return out
}
