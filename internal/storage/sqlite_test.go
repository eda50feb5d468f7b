package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ppiankov/trustgate/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBCreatesTables(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"agents", "blocked_triggers", "proposals", "supervision_sessions", "packages"} {
		var name string
		err := db.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestNewDBAppliesPragmas(t *testing.T) {
	db := testDB(t)

	var mode string
	if err := db.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}

	var timeout int
	if err := db.db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := &model.Agent{ID: "a1", Name: "Sync Bot", ConfidenceScore: 0.72}
	if err := db.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	got, err := db.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "Sync Bot" || got.ConfidenceScore != 0.72 || got.Status != nil {
		t.Errorf("unexpected agent: %+v", got)
	}
	if got.Tier() != model.Supervised {
		t.Errorf("expected SUPERVISED, got %s", got.Tier())
	}

	if err := db.SetAgentStatus(ctx, "a1", model.LevelPtr(model.Student)); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	got, _ = db.GetAgent(ctx, "a1")
	if got.Tier() != model.Student {
		t.Errorf("expected pinned STUDENT, got %s", got.Tier())
	}

	if err := db.SetAgentStatus(ctx, "a1", nil); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	got, _ = db.GetAgent(ctx, "a1")
	if got.Status != nil {
		t.Errorf("expected unpinned, got %v", got.Status)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetAgent(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.SetAgentStatus(context.Background(), "ghost", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from SetAgentStatus, got %v", err)
	}
}

func TestAdjustConfidenceClamps(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	db.CreateAgent(ctx, &model.Agent{ID: "a1", ConfidenceScore: 0.98})

	a, before, err := db.AdjustConfidence(ctx, "a1", 0.05)
	if err != nil {
		t.Fatalf("AdjustConfidence: %v", err)
	}
	if before != 0.98 || a.ConfidenceScore != 1.0 {
		t.Errorf("expected 0.98 -> 1.0, got %v -> %v", before, a.ConfidenceScore)
	}

	a, _, _ = db.AdjustConfidence(ctx, "a1", -5)
	if a.ConfidenceScore != 0 {
		t.Errorf("expected clamp to 0, got %v", a.ConfidenceScore)
	}

	if _, _, err := db.AdjustConfidence(ctx, "ghost", 0.1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdjustConfidenceConcurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	db.CreateAgent(ctx, &model.Agent{ID: "a1", ConfidenceScore: 0.5})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := db.AdjustConfidence(ctx, "a1", 0.01); err != nil {
				t.Errorf("adjust: %v", err)
			}
		}()
	}
	wg.Wait()

	a, _ := db.GetAgent(ctx, "a1")
	if a.ConfidenceScore < 0.6999 || a.ConfidenceScore > 0.7001 {
		t.Errorf("expected no lost updates (0.70), got %v", a.ConfidenceScore)
	}
}

func TestBlockedTriggers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	b := &model.BlockedTriggerContext{
		ID:              "b1",
		AgentID:         "a1",
		AgentName:       "bot",
		AgentTier:       model.Intern,
		ConfidenceScore: 0.6,
		TriggerSource:   model.SourceDataSync,
		TriggerType:     "crm_sync",
		TriggerContext:  map[string]any{"rows": float64(12)},
		Route:           model.RouteProposal,
		BlockReason:     "INTERN agents need approval",
	}
	if err := db.CreateBlockedTrigger(ctx, b); err != nil {
		t.Fatalf("CreateBlockedTrigger: %v", err)
	}

	list, err := db.ListBlockedTriggers(ctx, "a1", 0)
	if err != nil {
		t.Fatalf("ListBlockedTriggers: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1, got %d", len(list))
	}
	got := list[0]
	if got.AgentTier != model.Intern || got.Route != model.RouteProposal || got.TriggerContext["rows"] != float64(12) {
		t.Errorf("unexpected row: %+v", got)
	}

	other, _ := db.ListBlockedTriggers(ctx, "a2", 0)
	if len(other) != 0 {
		t.Errorf("expected no rows for a2, got %d", len(other))
	}
}

func TestProposalLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p := &model.Proposal{ID: "p1", AgentID: "a1", Kind: model.ProposalTraining, Title: "train"}
	if err := db.CreateProposal(ctx, p); err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if p.Status != model.ProposalProposed {
		t.Errorf("expected default PROPOSED, got %s", p.Status)
	}

	ok, err := db.ResolveProposal(ctx, "p1", model.ProposalApproved, "alice", "fine")
	if err != nil || !ok {
		t.Fatalf("ResolveProposal: ok=%v err=%v", ok, err)
	}
	ok, err = db.ResolveProposal(ctx, "p1", model.ProposalRejected, "bob", "")
	if err != nil || ok {
		t.Fatalf("second resolve should not transition: ok=%v err=%v", ok, err)
	}
	if _, err := db.ResolveProposal(ctx, "nope", model.ProposalApproved, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, _ := db.GetProposal(ctx, "p1")
	if got.Status != model.ProposalApproved || got.Reviewer != "alice" || got.ResolvedAt == nil {
		t.Errorf("unexpected proposal: %+v", got)
	}

	approved, _ := db.ListProposals(ctx, model.ProposalApproved)
	pending, _ := db.ListProposals(ctx, model.ProposalProposed)
	if len(approved) != 1 || len(pending) != 0 {
		t.Errorf("expected 1 approved / 0 pending, got %d / %d", len(approved), len(pending))
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	s := &model.SupervisionSession{ID: "s1", AgentID: "a1", SupervisorID: "u1", TriggerSource: model.SourceWorkflowEngine}
	if err := db.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ok, err := db.EndSession(ctx, "s1", model.SessionComplete, "success")
	if err != nil || !ok {
		t.Fatalf("EndSession: ok=%v err=%v", ok, err)
	}
	ok, _ = db.EndSession(ctx, "s1", model.SessionCancelled, "")
	if ok {
		t.Error("completed session must not be cancelled")
	}

	running, _ := db.ListSessions(ctx, model.SessionRunning)
	if len(running) != 0 {
		t.Errorf("expected no running sessions, got %d", len(running))
	}
	got, _ := db.GetSession(ctx, "s1")
	if got.Status != model.SessionComplete || got.Outcome != "success" || got.EndedAt == nil {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestPackageRegistry(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p, created, err := db.RequestPackage(ctx, "numpy", "1.21.0", "a1", model.Intern)
	if err != nil || !created || p.Status != model.PackagePending {
		t.Fatalf("RequestPackage: %+v created=%v err=%v", p, created, err)
	}
	_, created, _ = db.RequestPackage(ctx, "numpy", "1.21.0", "a2", model.Intern)
	if created {
		t.Error("second request must be idempotent")
	}

	p, err = db.ApprovePackage(ctx, "numpy", "1.21.0", model.Intern, "admin")
	if err != nil || p.Status != model.PackageActive || p.ApprovedBy != "admin" || p.ApprovedAt == nil {
		t.Fatalf("ApprovePackage: %+v err=%v", p, err)
	}

	p, err = db.BanPackage(ctx, "numpy", "1.21.0", "vuln")
	if err != nil || p.Status != model.PackageBanned || p.BanReason != "vuln" {
		t.Fatalf("BanPackage: %+v err=%v", p, err)
	}

	// Approval does not lift a ban.
	p, _ = db.ApprovePackage(ctx, "numpy", "1.21.0", model.Student, "admin")
	if p.Status != model.PackageBanned {
		t.Errorf("expected ban to stick, got %s", p.Status)
	}

	// Other versions are independent.
	if _, err := db.GetPackage(ctx, "numpy", "1.22.0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for 1.22.0, got %v", err)
	}
	db.ApprovePackage(ctx, "numpy", "1.22.0", model.Supervised, "admin")

	all, _ := db.ListPackages(ctx, "")
	banned, _ := db.ListPackages(ctx, model.PackageBanned)
	if len(all) != 2 || len(banned) != 1 {
		t.Errorf("expected 2 total / 1 banned, got %d / %d", len(all), len(banned))
	}
}
