package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/observability"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/storage"
)

type fakeStore struct {
	mu     sync.Mutex
	agents map[string]*model.Agent
	err    error
	reads  atomic.Int64
}

func newFakeStore(agents ...*model.Agent) *fakeStore {
	f := &fakeStore{agents: map[string]*model.Agent{}}
	for _, a := range agents {
		f.agents[a.ID] = a
	}
	return f
}

func (f *fakeStore) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent: %w", storage.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) setScore(id string, score float64) {
	f.mu.Lock()
	f.agents[id].ConfidenceScore = score
	f.mu.Unlock()
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.AuditEntry
}

func (m *memRecorder) Record(e audit.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func agentWithScore(id string, score float64) *model.Agent {
	return &model.Agent{ID: id, Name: id, ConfidenceScore: score}
}

func newTestService(t *testing.T, store AgentStore, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithMetrics(observability.NewMetrics(prometheus.NewRegistry()))}, opts...)
	return New(store, opts...)
}

func TestBoundaryMatrix(t *testing.T) {
	scores := map[model.Level]float64{
		model.Student:    0.3,
		model.Intern:     0.6,
		model.Supervised: 0.8,
		model.Autonomous: 0.95,
	}
	actions := map[int]string{1: "search", 2: "stream_chat", 3: "send_email", 4: "delete"}

	var agents []*model.Agent
	for lvl, score := range scores {
		agents = append(agents, agentWithScore(lvl.String(), score))
	}
	svc := newTestService(t, newFakeStore(agents...))
	ctx := context.Background()

	for lvl := range scores {
		for complexity, action := range actions {
			d, err := svc.CanPerformAction(ctx, lvl.String(), action)
			require.NoError(t, err)

			required, _ := model.LevelForComplexity(complexity)
			want := lvl >= required
			assert.Equal(t, want, d.Allowed, "%s doing complexity %d", lvl, complexity)
			assert.Equal(t, complexity, d.ActionComplexity)
			assert.Equal(t, lvl, d.AgentStatus)
			assert.NotEmpty(t, d.Reason)

			if complexity == 1 {
				assert.True(t, d.Allowed, "complexity 1 is always allowed")
			}
			if complexity == 4 {
				assert.Equal(t, lvl == model.Autonomous, d.Allowed, "complexity 4 only for AUTONOMOUS")
			}
		}
	}
}

func TestScenarioAutonomousCriticalAllowed(t *testing.T) {
	svc := newTestService(t, newFakeStore(agentWithScore("a1", 0.95)))
	d, err := svc.CanPerformAction(context.Background(), "a1", "delete")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, model.Autonomous, d.AgentStatus)
	assert.Equal(t, 4, d.ActionComplexity)
}

func TestScenarioStudentCriticalDenied(t *testing.T) {
	svc := newTestService(t, newFakeStore(agentWithScore("a1", 0.3)))
	d, err := svc.CanPerformAction(context.Background(), "a1", "delete")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "STUDENT")
	assert.Contains(t, d.Reason, "delete")
}

func TestUnknownAgentFailsClosed(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()

	d, err := svc.CanPerformAction(ctx, "ghost", "send_email")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, model.Student, d.AgentStatus)
	assert.Contains(t, d.Reason, "ghost")
	assert.Contains(t, d.Reason, "not found")

	d, err = svc.CanPerformAction(ctx, "ghost", "search")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "complexity-1 actions stay allowed for unknown agents")
}

func TestStoreFailureIsSurfaced(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("database is locked")
	svc := newTestService(t, store)

	_, err := svc.CanPerformAction(context.Background(), "a1", "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestDeterminism(t *testing.T) {
	store := newFakeStore(agentWithScore("a1", 0.75), agentWithScore("a2", 0.1))
	svc := newTestService(t, store)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "ghost"} {
		for _, action := range []string{"search", "update_record", "delete", "frobnicate"} {
			d1, err := svc.CanPerformAction(ctx, id, action)
			require.NoError(t, err)
			d2, err := svc.CanPerformAction(ctx, id, action)
			require.NoError(t, err)
			assert.Equal(t, d1, d2, "%s/%s", id, action)
		}
	}
}

func TestTierCachedUntilInvalidated(t *testing.T) {
	store := newFakeStore(agentWithScore("a1", 0.6))
	svc := newTestService(t, store)
	ctx := context.Background()

	d, _ := svc.CanPerformAction(ctx, "a1", "send_email")
	assert.False(t, d.Allowed)
	reads := store.reads.Load()

	store.setScore("a1", 0.8)
	d, _ = svc.CanPerformAction(ctx, "a1", "send_email")
	assert.False(t, d.Allowed, "cached decision until invalidated")
	assert.Equal(t, reads, store.reads.Load(), "no store read on cache hit")

	svc.InvalidateAgent("a1")
	d, _ = svc.CanPerformAction(ctx, "a1", "send_email")
	assert.True(t, d.Allowed)
	assert.Equal(t, model.Supervised, d.AgentStatus)
}

// pausingStore blocks the first GetAgent after the row is read, so a test can
// change the agent while the stale row is in flight.
type pausingStore struct {
	*fakeStore
	once    sync.Once
	paused  chan struct{}
	release chan struct{}
}

func newPausingStore(f *fakeStore) *pausingStore {
	return &pausingStore{fakeStore: f, paused: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	a, err := p.fakeStore.GetAgent(ctx, id)
	p.once.Do(func() {
		close(p.paused)
		<-p.release
	})
	return a, err
}

func TestDemotionDuringLookupIsNotCached(t *testing.T) {
	store := newPausingStore(newFakeStore(agentWithScore("a1", 0.95)))
	svc := newTestService(t, store)
	ctx := context.Background()

	done := make(chan model.Decision)
	go func() {
		d, _ := svc.CanPerformAction(ctx, "a1", "delete")
		done <- d
	}()

	<-store.paused
	store.setScore("a1", 0.3)
	svc.InvalidateAgent("a1")
	close(store.release)
	<-done

	d, err := svc.CanPerformAction(ctx, "a1", "delete")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "demoted agent must not keep critical rights")
	assert.Equal(t, model.Student, d.AgentStatus)

	info, err := svc.ResolveTier(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.Student, info.Tier)
}

func TestInvalidateAgentIsTargeted(t *testing.T) {
	svc := newTestService(t, newFakeStore(agentWithScore("a1", 0.6), agentWithScore("a2", 0.6)))
	ctx := context.Background()
	svc.CanPerformAction(ctx, "a1", "search")
	svc.CanPerformAction(ctx, "a2", "search")

	svc.InvalidateAgent("a1")
	svc.InvalidateAgent("never-seen")

	stats := svc.CacheStats()
	assert.Equal(t, 1, stats["agent_tier"].Size)
	assert.Equal(t, 1, stats["decision"].Size)
}

func TestPinnedStatusWins(t *testing.T) {
	a := agentWithScore("a1", 0.99)
	a.Status = model.LevelPtr(model.Intern)
	svc := newTestService(t, newFakeStore(a))

	d, err := svc.CanPerformAction(context.Background(), "a1", "delete")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, model.Intern, d.AgentStatus)
	assert.Contains(t, d.Reason, "pinned")
}

func TestReloadPolicyClearsDecisions(t *testing.T) {
	svc := newTestService(t, newFakeStore(agentWithScore("a1", 0.6)))
	ctx := context.Background()

	d, _ := svc.CanPerformAction(ctx, "a1", "export_report")
	assert.True(t, d.Allowed, "default complexity 2 allows INTERN")

	cfg := policy.DefaultConfig()
	cfg.Actions["export_report"] = 3
	svc.ReloadPolicy(cfg, "sha256:new")

	d, _ = svc.CanPerformAction(ctx, "a1", "export_report")
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.ActionComplexity)
	_, hash := svc.Policy()
	assert.Equal(t, "sha256:new", hash)
}

func TestCanUseCapability(t *testing.T) {
	svc := newTestService(t, newFakeStore(agentWithScore("intern", 0.55), agentWithScore("sup", 0.75)))
	ctx := context.Background()

	d, err := svc.CanUseCapability(ctx, "intern", "camera")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.ActionComplexity)

	d, _ = svc.CanUseCapability(ctx, "intern", "screen_recording")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "SUPERVISED")

	d, _ = svc.CanUseCapability(ctx, "sup", "warp_drive")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "unknown capability")
}

func TestCodeExecutionChecksAgree(t *testing.T) {
	store := newFakeStore(
		agentWithScore("student", 0.2),
		agentWithScore("intern", 0.6),
		agentWithScore("sup", 0.75),
		agentWithScore("auto", 0.95),
	)
	svc := newTestService(t, store)
	ctx := context.Background()

	for _, id := range []string{"student", "intern", "sup", "auto"} {
		action, err := svc.CanPerformAction(ctx, id, policy.ActionExecuteCode)
		require.NoError(t, err)
		capability, err := svc.CanUseCapability(ctx, id, policy.CapabilityCodeExecution)
		require.NoError(t, err)
		gate, err := svc.CanExecuteCode(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, action.Allowed, capability.Allowed, id)
		assert.Equal(t, action.Allowed, gate.Allowed, id)
		assert.Equal(t, id == "auto", gate.Allowed, id)
	}
}

func TestDenialsAreAudited(t *testing.T) {
	rec := &memRecorder{}
	svc := newTestService(t, newFakeStore(agentWithScore("a1", 0.3)), WithAudit(rec), WithPolicy(policy.DefaultConfig(), "sha256:p"))
	ctx := context.Background()

	svc.CanPerformAction(ctx, "a1", "search")
	svc.CanPerformAction(ctx, "a1", "delete")

	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.Equal(t, audit.KindAction, e.Kind)
	assert.Equal(t, "deny", e.Decision)
	assert.Equal(t, "delete", e.Subject)
	assert.Equal(t, "sha256:p", e.PolicyHash)
	assert.True(t, strings.HasPrefix(e.Reason, "agent a1 is STUDENT"))
}

func TestConcurrentChecks(t *testing.T) {
	svc := newTestService(t, newFakeStore(agentWithScore("a1", 0.75)))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d, err := svc.CanPerformAction(ctx, "a1", "send_email")
				if err != nil || !d.Allowed {
					t.Errorf("unexpected %+v %v", d, err)
					return
				}
				if j%50 == 0 {
					svc.InvalidateAgent("a1")
				}
			}
		}(i)
	}
	wg.Wait()
}
