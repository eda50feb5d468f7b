// Package confidence applies outcome signals to agent confidence scores.
package confidence

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/observability"
	"github.com/ppiankov/trustgate/internal/policy"
)

// Impact weighs an outcome signal.
type Impact int

const (
	ImpactLow Impact = iota
	ImpactHigh
)

func (i Impact) String() string {
	if i == ImpactHigh {
		return "high"
	}
	return "low"
}

// ParseImpact parses "low" or "high".
func ParseImpact(s string) (Impact, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ImpactLow, nil
	case "high":
		return ImpactHigh, nil
	default:
		return ImpactLow, fmt.Errorf("unknown impact level %q (want low or high)", s)
	}
}

// Store applies a clamped delta atomically and returns the updated agent and
// the previous score.
type Store interface {
	AdjustConfidence(ctx context.Context, agentID string, delta float64) (*model.Agent, float64, error)
}

// PolicySource provides the active deltas. *governance.Service implements it.
type PolicySource interface {
	Policy() (*policy.PolicyConfig, string)
}

// Invalidator drops cached state for an agent after its score changes.
type Invalidator interface {
	InvalidateAgent(agentID string)
}

// Result describes one applied update.
type Result struct {
	AgentID      string      `json:"agent_id"`
	Before       float64     `json:"before"`
	After        float64     `json:"after"`
	Delta        float64     `json:"delta"`
	PreviousTier model.Level `json:"previous_tier"`
	NewTier      model.Level `json:"new_tier"`
	Transitioned bool        `json:"transitioned"`
}

// Tracker serializes score updates per agent and invalidates caches.
type Tracker struct {
	store        Store
	policy       PolicySource
	invalidators []Invalidator

	locks sync.Map // agentID -> *sync.Mutex

	log     logging.Logger
	metrics *observability.Metrics
	audit   audit.Recorder
	alerts  *alert.Dispatcher
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInvalidator registers a cache to invalidate after each update.
func WithInvalidator(inv Invalidator) Option {
	return func(t *Tracker) { t.invalidators = append(t.invalidators, inv) }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithAudit records tier transitions.
func WithAudit(r audit.Recorder) Option {
	return func(t *Tracker) { t.audit = r }
}

// WithAlerts dispatches tier_demoted events.
func WithAlerts(d *alert.Dispatcher) Option {
	return func(t *Tracker) { t.alerts = d }
}

// NewTracker creates a tracker. A nil policy source uses the default deltas.
func NewTracker(store Store, src PolicySource, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		policy: src,
		log:    logging.Nop(),
		audit:  audit.Discard,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) lockFor(agentID string) *sync.Mutex {
	mu, _ := t.locks.LoadOrStore(agentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (t *Tracker) deltas() *policy.PolicyConfig {
	if t.policy == nil {
		return policy.DefaultConfig()
	}
	cfg, _ := t.policy.Policy()
	return cfg
}

// Update applies one outcome signal. The score moves by the configured delta
// for (positive, impact) and is clamped to [0,1]. Updates for the same agent
// are serialized in process and applied in a single store transaction.
func (t *Tracker) Update(ctx context.Context, agentID string, positive bool, impact Impact) (Result, error) {
	delta := t.deltas().Delta(positive, impact == ImpactHigh)

	mu := t.lockFor(agentID)
	mu.Lock()
	a, before, err := t.store.AdjustConfidence(ctx, agentID, delta)
	mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("update confidence for %s: %w", agentID, err)
	}

	prev := *a
	prev.ConfidenceScore = before
	res := Result{
		AgentID:      agentID,
		Before:       before,
		After:        a.ConfidenceScore,
		Delta:        delta,
		PreviousTier: prev.Tier(),
		NewTier:      a.Tier(),
	}
	res.Transitioned = res.PreviousTier != res.NewTier

	for _, inv := range t.invalidators {
		inv.InvalidateAgent(agentID)
	}

	t.metrics.RecordConfidenceUpdate(positive, impact == ImpactHigh, res.PreviousTier.String(), res.NewTier.String())
	t.log.Debug("confidence updated", "agent_id", agentID, "before", before, "after", res.After, "impact", impact.String())

	if res.Transitioned {
		direction := "promoted"
		if res.NewTier < res.PreviousTier {
			direction = "demoted"
		}
		t.log.Info("tier transition", "agent_id", agentID, "from", res.PreviousTier.String(), "to", res.NewTier.String())
		if err := t.audit.Record(audit.AuditEntry{
			Kind:     audit.KindConfidence,
			AgentID:  agentID,
			Subject:  res.PreviousTier.String() + "->" + res.NewTier.String(),
			Decision: direction,
			Reason:   fmt.Sprintf("confidence %.2f -> %.2f", before, res.After),
			Tier:     res.NewTier.String(),
		}); err != nil {
			t.log.Warn("audit record failed", "error", err)
		}
		if direction == "demoted" {
			t.alerts.Dispatch(alert.AlertEvent{
				Event:   alert.EventTierDemoted,
				AgentID: agentID,
				Subject: res.PreviousTier.String() + "->" + res.NewTier.String(),
				Tier:    res.NewTier.String(),
				Reason:  fmt.Sprintf("confidence %.2f -> %.2f", before, res.After),
			})
		}
	}
	return res, nil
}
