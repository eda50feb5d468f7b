// Package intercept routes action attempts by trigger source and agent tier.
//
// Manual (human-initiated) attempts always execute. Automated attempts are
// routed by tier: STUDENT agents get a training proposal, INTERN agents wait
// for an action proposal, SUPERVISED agents run under a live supervisor or are
// deferred until one is available, and AUTONOMOUS agents execute directly.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/governance"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/observability"
	"github.com/ppiankov/trustgate/internal/policy"
)

// ErrMissingAgent is returned when a request carries no agent ID.
var ErrMissingAgent = errors.New("intercept: agent id is required")

// Store persists routing records.
type Store interface {
	CreateBlockedTrigger(ctx context.Context, b *model.BlockedTriggerContext) error
	CreateProposal(ctx context.Context, p *model.Proposal) error
	CreateSession(ctx context.Context, s *model.SupervisionSession) error
}

// TierResolver resolves an agent's current tier and exposes the active
// policy. *governance.Service implements it.
type TierResolver interface {
	ResolveTier(ctx context.Context, agentID string) (governance.TierInfo, error)
	Policy() (*policy.PolicyConfig, string)
}

// Availability answers whether a supervisor is present right now.
type Availability interface {
	IsAvailable(ctx context.Context, userID string) (bool, error)
}

// Queue parks attempts until a supervisor is available.
type Queue interface {
	Enqueue(ctx context.Context, d model.DeferredExecution) error
}

// Request is one action attempt.
type Request struct {
	AgentID     string
	Source      model.TriggerSource
	TriggerType string
	Context     map[string]any
	UserID      string
}

// Interceptor routes trigger requests. Construct with New.
type Interceptor struct {
	store        Store
	tiers        TierResolver
	availability Availability
	queue        Queue

	log     logging.Logger
	metrics *observability.Metrics
	audit   audit.Recorder
	alerts  *alert.Dispatcher
	tracer  trace.Tracer
	newID   func() string
	now     func() time.Time
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(i *Interceptor) { i.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Interceptor) { i.metrics = m }
}

// WithAudit records every automated routing outcome.
func WithAudit(r audit.Recorder) Option {
	return func(i *Interceptor) { i.audit = r }
}

// WithAlerts dispatches blocked_trigger events.
func WithAlerts(d *alert.Dispatcher) Option {
	return func(i *Interceptor) { i.alerts = d }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(i *Interceptor) { i.tracer = t }
}

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(i *Interceptor) { i.newID = fn }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(i *Interceptor) { i.now = fn }
}

// New creates an interceptor.
func New(store Store, tiers TierResolver, availability Availability, queue Queue, opts ...Option) *Interceptor {
	i := &Interceptor{
		store:        store,
		tiers:        tiers,
		availability: availability,
		queue:        queue,
		log:          logging.Nop(),
		audit:        audit.Discard,
		tracer:       observability.Tracer(),
		newID:        uuid.NewString,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// InterceptTrigger decides whether an attempt executes now and where it is
// routed. Sources other than MANUAL, including unrecognized ones, are treated
// as automated. Every automated denial persists a BlockedTriggerContext.
//
// A returned error means routing could not complete (tier lookup or record
// persistence failed). When the deferred queue rejects an attempt, the
// decision is still returned alongside the error.
func (i *Interceptor) InterceptTrigger(ctx context.Context, req Request) (model.TriggerDecision, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return model.TriggerDecision{}, ErrMissingAgent
	}
	req.Source = model.TriggerSource(strings.ToUpper(strings.TrimSpace(string(req.Source))))

	ctx, span := i.tracer.Start(ctx, "intercept.InterceptTrigger", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("trigger.source", string(req.Source)),
		attribute.String("trigger.type", req.TriggerType),
	))
	defer span.End()

	info, err := i.tiers.ResolveTier(ctx, req.AgentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tier lookup failed")
		return model.TriggerDecision{}, fmt.Errorf("intercept trigger: %w", err)
	}
	span.SetAttributes(attribute.String("agent.tier", info.Tier.String()))

	dec := model.TriggerDecision{
		Source:          req.Source,
		AgentTier:       info.Tier,
		ConfidenceScore: info.Confidence,
	}

	if !req.Source.Automated() {
		dec.Execute = true
		dec.Route = model.RouteExecution
		dec.Reason = "manual trigger: human-initiated actions always execute"
		dec.Advisory = manualAdvisory(info.Tier)
		i.metrics.RecordTriggerRoute(string(req.Source), string(dec.Route), true)
		i.log.Debug("manual trigger", "agent_id", req.AgentID, "tier", info.Tier.String(), "trigger_type", req.TriggerType)
		return dec, nil
	}

	switch info.Tier {
	case model.Autonomous:
		dec.Execute = true
		dec.Route = model.RouteExecution
		dec.Reason = fmt.Sprintf("%s: autonomous agents execute automated triggers", label(info))
	case model.Supervised:
		err = i.routeSupervised(ctx, req, info, &dec)
	case model.Intern:
		dec.Route = model.RouteProposal
		dec.Reason = fmt.Sprintf("%s: automated trigger requires an approved action proposal", label(info))
		err = i.block(ctx, req, info, &dec)
	default:
		dec.Route = model.RouteTraining
		dec.Reason = fmt.Sprintf("%s: automated trigger blocked, training proposed", label(info))
		if err = i.block(ctx, req, info, &dec); err == nil {
			err = i.proposeTraining(ctx, req, info, &dec)
		}
	}

	span.SetAttributes(attribute.String("route", string(dec.Route)), attribute.Bool("execute", dec.Execute))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing incomplete")
	}
	i.metrics.RecordTriggerRoute(string(req.Source), string(dec.Route), dec.Execute)
	i.record(req, info, dec)
	return dec, err
}

func (i *Interceptor) routeSupervised(ctx context.Context, req Request, info governance.TierInfo, dec *model.TriggerDecision) error {
	dec.Route = model.RouteSupervision

	available := false
	if req.UserID != "" && i.availability != nil {
		ok, err := i.availability.IsAvailable(ctx, req.UserID)
		if err != nil {
			i.log.Warn("availability check failed, treating supervisor as unavailable",
				"agent_id", req.AgentID, "user_id", req.UserID, "error", err)
		}
		available = ok && err == nil
	}

	if available {
		s := &model.SupervisionSession{
			ID:             i.newID(),
			AgentID:        req.AgentID,
			SupervisorID:   req.UserID,
			TriggerSource:  req.Source,
			TriggerType:    req.TriggerType,
			TriggerContext: req.Context,
			Status:         model.SessionRunning,
			StartedAt:      i.now(),
		}
		if err := i.store.CreateSession(ctx, s); err != nil {
			return fmt.Errorf("intercept trigger: %w", err)
		}
		dec.Execute = true
		dec.SessionID = s.ID
		dec.Reason = fmt.Sprintf("%s: executing under live supervision by %s", label(info), req.UserID)
		return nil
	}

	dec.Reason = fmt.Sprintf("%s: no supervisor available, execution deferred", label(info))
	if err := i.block(ctx, req, info, dec); err != nil {
		return err
	}

	d := model.DeferredExecution{
		ID:               i.newID(),
		AgentID:          req.AgentID,
		UserID:           req.UserID,
		TriggerSource:    req.Source,
		TriggerType:      req.TriggerType,
		TriggerContext:   req.Context,
		BlockedContextID: dec.BlockedContextID,
		EnqueuedAt:       i.now(),
	}
	if i.queue == nil {
		return errors.New("intercept trigger: no deferred queue configured")
	}
	err := i.queue.Enqueue(ctx, d)
	i.metrics.RecordDeferred(err)
	if err != nil {
		return fmt.Errorf("intercept trigger: enqueue deferred execution: %w", err)
	}
	dec.DeferredID = d.ID
	return nil
}

func (i *Interceptor) block(ctx context.Context, req Request, info governance.TierInfo, dec *model.TriggerDecision) error {
	b := &model.BlockedTriggerContext{
		ID:              i.newID(),
		AgentID:         req.AgentID,
		AgentName:       info.Name,
		AgentTier:       info.Tier,
		ConfidenceScore: info.Confidence,
		TriggerSource:   req.Source,
		TriggerType:     req.TriggerType,
		TriggerContext:  req.Context,
		Route:           dec.Route,
		BlockReason:     dec.Reason,
		CreatedAt:       i.now(),
	}
	if err := i.store.CreateBlockedTrigger(ctx, b); err != nil {
		return fmt.Errorf("intercept trigger: %w", err)
	}
	dec.BlockedContextID = b.ID

	i.log.Info("automated trigger blocked", "agent_id", req.AgentID, "tier", info.Tier.String(),
		"source", string(req.Source), "route", string(dec.Route), "blocked_context_id", b.ID)
	i.alerts.Dispatch(alert.AlertEvent{
		Event:    alert.EventBlockedTrigger,
		AgentID:  req.AgentID,
		Subject:  string(req.Source) + ":" + req.TriggerType,
		Tier:     info.Tier.String(),
		Route:    string(dec.Route),
		Reason:   dec.Reason,
		RecordID: b.ID,
	})
	return nil
}

func (i *Interceptor) proposeTraining(ctx context.Context, req Request, info governance.TierInfo, dec *model.TriggerDecision) error {
	cfg, _ := i.tiers.Policy()
	payload := TrainingPlan(info.Tier, info.Confidence, cfg.Delta(true, true))
	payload["trigger_type"] = req.TriggerType
	payload["trigger_source"] = string(req.Source)

	p := &model.Proposal{
		ID:               i.newID(),
		AgentID:          req.AgentID,
		Kind:             model.ProposalTraining,
		Title:            fmt.Sprintf("Training for %s", agentName(info)),
		Description:      fmt.Sprintf("Agent attempted automated %q while %s. Complete supervised work to build confidence.", req.TriggerType, info.Tier),
		Payload:          payload,
		Status:           model.ProposalProposed,
		BlockedContextID: dec.BlockedContextID,
		CreatedAt:        i.now(),
	}
	if err := i.store.CreateProposal(ctx, p); err != nil {
		return fmt.Errorf("intercept trigger: %w", err)
	}
	dec.ProposalID = p.ID
	return nil
}

// SubmitActionProposal records the action an INTERN agent wanted to take so a
// human can approve it. blockedContextID links it to the originating block.
func (i *Interceptor) SubmitActionProposal(ctx context.Context, agentID, blockedContextID, title, description string, payload map[string]any) (*model.Proposal, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, ErrMissingAgent
	}
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("intercept: proposal title is required")
	}
	p := &model.Proposal{
		ID:               i.newID(),
		AgentID:          agentID,
		Kind:             model.ProposalAction,
		Title:            title,
		Description:      description,
		Payload:          payload,
		Status:           model.ProposalProposed,
		BlockedContextID: blockedContextID,
		CreatedAt:        i.now(),
	}
	if err := i.store.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("submit action proposal: %w", err)
	}
	i.log.Info("action proposal submitted", "agent_id", agentID, "proposal_id", p.ID, "blocked_context_id", blockedContextID)
	if err := i.audit.Record(audit.AuditEntry{
		Kind:     audit.KindReview,
		AgentID:  agentID,
		Subject:  title,
		Decision: string(model.ProposalProposed),
		RecordID: p.ID,
	}); err != nil {
		i.log.Warn("audit record failed", "error", err)
	}
	return p, nil
}

// TrainingPlan describes how far an agent is from the next tier. The estimate
// counts positive high-impact outcomes at step.
func TrainingPlan(current model.Level, confidence, step float64) map[string]any {
	target := current + 1
	if target > model.Autonomous {
		target = model.Autonomous
	}
	gap := math.Max(0, model.ThresholdFor(target)-confidence)
	gap = math.Round(gap*1e6) / 1e6
	needed := 0
	if step > 0 && gap > 0 {
		needed = int(math.Ceil(gap/step - 1e-9))
	}
	return map[string]any{
		"current_tier":        current.String(),
		"target_tier":         target.String(),
		"confidence":          confidence,
		"confidence_gap":      gap,
		"estimated_outcomes":  needed,
		"outcome_impact":      "high",
		"recommended_actions": "complete supervised sessions and approved proposals",
	}
}

func (i *Interceptor) record(req Request, info governance.TierInfo, dec model.TriggerDecision) {
	recordID := dec.BlockedContextID
	if recordID == "" {
		recordID = dec.SessionID
	}
	if err := i.audit.Record(audit.AuditEntry{
		Kind:     audit.KindTrigger,
		AgentID:  req.AgentID,
		Subject:  string(req.Source) + ":" + req.TriggerType,
		Decision: strings.ToLower(string(dec.Route)),
		Reason:   dec.Reason,
		Tier:     info.Tier.String(),
		RecordID: recordID,
	}); err != nil {
		i.log.Warn("audit record failed", "error", err)
	}
}

func manualAdvisory(tier model.Level) string {
	switch tier {
	case model.Student:
		return "agent is STUDENT: review the result before relying on it"
	case model.Intern:
		return "agent is INTERN: verify the result before acting on it"
	case model.Supervised:
		return "agent is SUPERVISED: monitor the execution"
	default:
		return ""
	}
}

func agentName(info governance.TierInfo) string {
	if info.Name != "" {
		return info.Name
	}
	return info.AgentID
}

func label(info governance.TierInfo) string {
	if !info.Found {
		return fmt.Sprintf("agent %s not found, treated as %s", info.AgentID, model.Student)
	}
	return fmt.Sprintf("agent %s is %s (confidence %.2f)", info.AgentID, info.Tier, info.Confidence)
}
