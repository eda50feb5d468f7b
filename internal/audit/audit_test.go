package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(decision string) AuditEntry {
	return AuditEntry{
		Kind:       KindAction,
		AgentID:    "agent-1",
		Subject:    "send_email",
		Decision:   decision,
		Reason:     "test reason",
		Tier:       "SUPERVISED",
		PolicyHash: "sha256:abc123",
	}
}

func rewriteLines(t *testing.T, path string, edit func([]string) []string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines = edit(lines)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry("allow")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	head := l.Head()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
	if result.Head != head {
		t.Fatalf("verify head %s does not match log head %s", result.Head, head)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Record(testEntry("deny"))
	}
	l.Close()

	rewriteLines(t, path, func(lines []string) []string {
		lines[1] = strings.Replace(lines[1], `"deny"`, `"allow"`, 1)
		return lines
	})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Record(testEntry("allow"))
	}
	l.Close()

	rewriteLines(t, path, func(lines []string) []string {
		return []string{lines[0], lines[2]}
	})

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected failure at line 2, got %+v", result)
	}
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Record(testEntry("allow"))
	}
	l.Close()

	fake := testEntry("deny")
	fake.PrevHash = "sha256:fake"
	fakeJSON, _ := json.Marshal(fake)
	rewriteLines(t, path, func(lines []string) []string {
		return []string{lines[0], string(fakeJSON), lines[1], lines[2]}
	})

	if Verify(path).Valid {
		t.Fatal("expected chain with inserted entry to be invalid")
	}
}

func TestVerifyRejectsWrongGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	e := testEntry("allow")
	e.PrevHash = "sha256:nope"
	line, _ := json.Marshal(e)
	os.WriteFile(path, append(line, '\n'), 0600)

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected failure at line 1, got %+v", result)
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte{}, 0600)

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected empty log to be valid, got: %s", result.Error)
	}
	if result.Head != GenesisHash {
		t.Fatalf("expected genesis head, got %s", result.Head)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry("allow"))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 {
		t.Fatalf("expected 100 lines, got %d", result.Lines)
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l1.Record(testEntry("allow"))
	}
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		l2.Record(testEntry("deny"))
	}
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 5 {
		t.Fatalf("expected valid 5-line chain after reopen, got %+v", result)
	}
}

func TestQueryFiltersAndSummarizes(t *testing.T) {
	l, path := newTestLog(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []AuditEntry{
		{Kind: KindAction, AgentID: "a1", Subject: "delete", Decision: "deny"},
		{Kind: KindAction, AgentID: "a1", Subject: "search", Decision: "allow"},
		{Kind: KindTrigger, AgentID: "a1", Subject: "DATA_SYNC", Decision: "PROPOSAL"},
		{Kind: KindAction, AgentID: "a2", Subject: "search", Decision: "allow"},
	}
	for i, e := range entries {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute).Format(TimestampFormat)
		if err := l.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	res, err := Query(path, Filter{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Summary.Total != 3 {
		t.Fatalf("expected 3 entries for a1, got %d", res.Summary.Total)
	}
	if res.Summary.ByDecision["deny"] != 1 || res.Summary.ByDecision["proposal"] != 1 {
		t.Errorf("unexpected decision counts: %v", res.Summary.ByDecision)
	}

	res, _ = Query(path, Filter{Kind: KindAction, From: base.Add(30 * time.Second)})
	if res.Summary.Total != 2 {
		t.Errorf("expected 2 action entries after cutoff, got %d", res.Summary.Total)
	}

	out := FormatTimeline(res)
	if !strings.Contains(out, "search") || !strings.Contains(out, "Summary: 2 entries") {
		t.Errorf("unexpected timeline:\n%s", out)
	}
}

func TestDiscardRecorder(t *testing.T) {
	if err := Discard.Record(testEntry("allow")); err != nil {
		t.Fatalf("discard returned %v", err)
	}
}
