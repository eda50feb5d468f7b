package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Filter selects audit entries. Zero fields match everything.
type Filter struct {
	AgentID string
	Kind    string
	From    time.Time
	To      time.Time
}

// Summary holds decision counts for a filtered view.
type Summary struct {
	Total          int            `json:"total"`
	ByDecision     map[string]int `json:"by_decision"`
	ByKind         map[string]int `json:"by_kind"`
	FirstTimestamp string         `json:"first_timestamp,omitempty"`
	LastTimestamp  string         `json:"last_timestamp,omitempty"`
}

// QueryResult holds filtered entries and their summary.
type QueryResult struct {
	Entries []AuditEntry `json:"entries"`
	Summary Summary      `json:"summary"`
}

// Query reads the audit log and returns entries matching filter, in file order.
// Malformed lines are skipped; use Verify to detect them.
func Query(path string, filter Filter) (*QueryResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &QueryResult{
		Summary: Summary{ByDecision: map[string]int{}, ByKind: map[string]int{}},
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		result.Summary.add(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f Filter) matches(e AuditEntry) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func (s *Summary) add(e AuditEntry) {
	s.Total++
	s.ByDecision[strings.ToLower(e.Decision)]++
	s.ByKind[e.Kind]++
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

// FormatTimeline renders a QueryResult as a human-readable text table.
func FormatTimeline(r *QueryResult) string {
	if len(r.Entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-10s %-12s %-11s %-10s %s\n", "TIME", "KIND", "AGENT", "TIER", "DECISION", "SUBJECT")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%-24s %-10s %-12s %-11s %-10s %s\n",
			e.Timestamp, e.Kind, truncate(e.AgentID, 12), e.Tier, strings.ToLower(e.Decision), truncate(e.Subject, 48))
	}

	decisions := make([]string, 0, len(r.Summary.ByDecision))
	for d, n := range r.Summary.ByDecision {
		decisions = append(decisions, fmt.Sprintf("%d %s", n, d))
	}
	sort.Strings(decisions)
	fmt.Fprintf(&b, "Summary: %d entries (%s)\n", r.Summary.Total, strings.Join(decisions, ", "))
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
