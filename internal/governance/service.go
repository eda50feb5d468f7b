// Package governance decides whether an agent may perform an action, based on
// its maturity tier and the action's declared complexity.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/cache"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/observability"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/storage"
)

// AgentTierTTL is how long a resolved agent tier stays cached.
const AgentTierTTL = 300 * time.Second

// AgentStore reads agent records. GetAgent returns an error wrapping
// storage.ErrNotFound for unknown agents; any other error is treated as a
// connectivity failure.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
}

// TierInfo is the cached view of an agent used on the hot path.
type TierInfo struct {
	AgentID    string
	Name       string
	Tier       model.Level
	Confidence float64
	Pinned     bool
	Found      bool
}

type decisionKey struct {
	agentID string
	action  string
}

// Service is the governance permission checker. Construct with New.
type Service struct {
	store AgentStore

	mu         sync.RWMutex
	policy     *policy.PolicyConfig
	policyHash string

	tiers       *cache.Cache[string, TierInfo]
	decisions   *cache.Cache[decisionKey, model.Decision]
	tierTTL     time.Duration
	decisionTTL time.Duration
	cacheSize   int

	log     logging.Logger
	metrics *observability.Metrics
	audit   audit.Recorder
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy sets the policy and its hash.
func WithPolicy(cfg *policy.PolicyConfig, hash string) Option {
	return func(s *Service) {
		s.policy = cfg
		s.policyHash = hash
	}
}

// WithCache sets the cache bound and TTLs. Zero values keep defaults.
func WithCache(maxSize int, tierTTL, decisionTTL time.Duration) Option {
	return func(s *Service) {
		if maxSize > 0 {
			s.cacheSize = maxSize
		}
		if tierTTL > 0 {
			s.tierTTL = tierTTL
		}
		if decisionTTL > 0 {
			s.decisionTTL = decisionTTL
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit records every computed denial.
func WithAudit(r audit.Recorder) Option {
	return func(s *Service) { s.audit = r }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// New creates a governance service reading agents from store.
func New(store AgentStore, opts ...Option) *Service {
	s := &Service{
		store:       store,
		policy:      policy.DefaultConfig(),
		tierTTL:     AgentTierTTL,
		decisionTTL: AgentTierTTL,
		cacheSize:   cache.DefaultMaxSize,
		log:         logging.Nop(),
		audit:       audit.Discard,
		tracer:      observability.Tracer(),
	}
	for _, o := range opts {
		o(s)
	}
	onEvent := func(name string, ev cache.Event) {
		s.metrics.RecordCacheEvent(name, string(ev))
	}
	s.tiers = cache.New[string, TierInfo](cache.Options{
		Name: "agent_tier", MaxSize: s.cacheSize, DefaultTTL: s.tierTTL, OnEvent: onEvent,
	})
	s.decisions = cache.New[decisionKey, model.Decision](cache.Options{
		Name: "decision", MaxSize: s.cacheSize, DefaultTTL: s.decisionTTL, OnEvent: onEvent,
	})
	return s
}

// Policy returns the active policy and its hash.
func (s *Service) Policy() (*policy.PolicyConfig, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy, s.policyHash
}

// ReloadPolicy swaps the active policy and drops every cached decision.
// Cached tiers stay valid because they do not depend on policy.
func (s *Service) ReloadPolicy(cfg *policy.PolicyConfig, hash string) {
	s.mu.Lock()
	s.policy = cfg
	s.policyHash = hash
	s.mu.Unlock()
	s.decisions.Clear()
	s.log.Info("policy reloaded", "policy_hash", hash)
}

// ResolveTier returns the agent's tier, from cache when possible. Unknown
// agents resolve to STUDENT with Found=false and are not cached.
func (s *Service) ResolveTier(ctx context.Context, agentID string) (TierInfo, error) {
	if info, ok := s.tiers.Get(agentID); ok {
		return info, nil
	}

	gen := s.tiers.Generation(agentID)
	a, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return TierInfo{AgentID: agentID, Tier: model.Student}, nil
	}
	if err != nil {
		return TierInfo{}, fmt.Errorf("resolve tier for %s: %w", agentID, err)
	}

	info := TierInfo{
		AgentID:    a.ID,
		Name:       a.DisplayName(),
		Tier:       a.Tier(),
		Confidence: a.ConfidenceScore,
		Pinned:     a.Pinned(),
		Found:      true,
	}
	s.tiers.SetIfCurrent(agentID, info, s.tierTTL, gen)
	return info, nil
}

// InvalidateAgent drops the cached tier and every cached decision for agentID.
// Lookups already in flight for the agent do not repopulate either cache.
func (s *Service) InvalidateAgent(agentID string) {
	s.tiers.Delete(agentID)
	s.decisions.DeleteFunc(func(k decisionKey) bool { return k.agentID == agentID })
}

// CacheStats reports both caches.
func (s *Service) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"agent_tier": s.tiers.Stats(),
		"decision":   s.decisions.Stats(),
	}
}

// CanPerformAction decides whether agentID may perform actionType.
//
// Complexity 1 is allowed for every tier, complexity 4 only for AUTONOMOUS,
// and 2 and 3 exactly when tier >= the required tier. Unknown agents are
// treated as STUDENT. Only store connectivity failures return an error.
func (s *Service) CanPerformAction(ctx context.Context, agentID, actionType string) (model.Decision, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "governance.CanPerformAction", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("action.type", actionType),
	))
	defer span.End()

	key := decisionKey{agentID: agentID, action: actionType}
	if d, ok := s.decisions.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Bool("allowed", d.Allowed))
		s.metrics.RecordDecision(audit.KindAction, d.Allowed, d.AgentStatus.String(), time.Since(start))
		return d, nil
	}

	gen := s.decisions.Generation(key)
	info, err := s.ResolveTier(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tier lookup failed")
		return model.Decision{}, err
	}

	cfg, hash := s.Policy()
	required, match := cfg.RequiredLevel(actionType)
	d := decide(info, required, match.Complexity, actionReason(info, actionType, match, required))

	// Unknown agents are not cached, so neither are their decisions.
	if info.Found {
		s.decisions.SetIfCurrent(key, d, s.decisionTTL, gen)
	}
	s.finish(span, audit.KindAction, agentID, actionType, d, hash, start)
	return d, nil
}

// CanExecuteCode decides whether agentID may run code in the sandbox. It is
// the execute_code action check; every sandbox entry point goes through it.
func (s *Service) CanExecuteCode(ctx context.Context, agentID string) (model.Decision, error) {
	return s.CanPerformAction(ctx, agentID, policy.ActionExecuteCode)
}

// CanUseCapability decides whether agentID may use a capability such as
// camera or screen_recording. Capabilities declare their required tier
// directly; unknown capabilities require AUTONOMOUS.
func (s *Service) CanUseCapability(ctx context.Context, agentID, capability string) (model.Decision, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "governance.CanUseCapability", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("capability", capability),
	))
	defer span.End()

	info, err := s.ResolveTier(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tier lookup failed")
		return model.Decision{}, err
	}

	cfg, hash := s.Policy()
	required, known := cfg.CapabilityLevel(capability)
	d := decide(info, required, required.Complexity(), capabilityReason(info, capability, required, known))
	s.finish(span, audit.KindCapability, agentID, capability, d, hash, start)
	return d, nil
}

func decide(info TierInfo, required model.Level, complexity int, reason string) model.Decision {
	return model.Decision{
		Allowed:          info.Tier.AtLeast(required),
		Reason:           reason,
		AgentStatus:      info.Tier,
		ActionComplexity: complexity,
	}
}

func (s *Service) finish(span trace.Span, kind, agentID, subject string, d model.Decision, hash string, start time.Time) {
	span.SetAttributes(
		attribute.Bool("cache.hit", false),
		attribute.Bool("allowed", d.Allowed),
		attribute.String("agent.tier", d.AgentStatus.String()),
		attribute.Int("action.complexity", d.ActionComplexity),
	)
	s.metrics.RecordDecision(kind, d.Allowed, d.AgentStatus.String(), time.Since(start))

	if d.Allowed {
		s.log.Debug("governance allow", "kind", kind, "agent_id", agentID, "subject", subject, "tier", d.AgentStatus.String())
		return
	}
	s.log.Info("governance deny", "kind", kind, "agent_id", agentID, "subject", subject,
		"tier", d.AgentStatus.String(), "complexity", d.ActionComplexity)
	if err := s.audit.Record(audit.AuditEntry{
		Kind:       kind,
		AgentID:    agentID,
		Subject:    subject,
		Decision:   d.Verdict(),
		Reason:     d.Reason,
		Tier:       d.AgentStatus.String(),
		PolicyHash: hash,
	}); err != nil {
		s.log.Warn("audit record failed", "error", err)
	}
}

func agentLabel(info TierInfo) string {
	if !info.Found {
		return fmt.Sprintf("agent %s not found, treated as %s", info.AgentID, model.Student)
	}
	label := fmt.Sprintf("agent %s is %s", info.AgentID, info.Tier)
	if info.Pinned {
		label += " (pinned)"
	} else {
		label += fmt.Sprintf(" (confidence %.2f)", info.Confidence)
	}
	return label
}

func actionReason(info TierInfo, action string, m policy.Match, required model.Level) string {
	verb := "allowed"
	if !info.Tier.AtLeast(required) {
		verb = "denied"
	}
	return fmt.Sprintf("%s: action %q has complexity %d (%s) and requires %s; %s",
		agentLabel(info), strings.TrimSpace(action), m.Complexity, m.Source, required, verb)
}

func capabilityReason(info TierInfo, capability string, required model.Level, known bool) string {
	verb := "allowed"
	if !info.Tier.AtLeast(required) {
		verb = "denied"
	}
	note := ""
	if !known {
		note = " (unknown capability)"
	}
	return fmt.Sprintf("%s: capability %q requires %s%s; %s",
		agentLabel(info), strings.TrimSpace(capability), required, note, verb)
}
