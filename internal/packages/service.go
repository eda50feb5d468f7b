// Package packages governs which third-party packages an agent may use.
//
// A package check applies these rules in order and stops at the first match:
// STUDENT agents are locked out, ban-list patterns deny absolutely, unknown
// and pending entries deny, banned entries deny with their reason, and active
// entries allow when the agent's tier meets the entry's minimum maturity.
package packages

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/cache"
	"github.com/ppiankov/trustgate/internal/denylist"
	"github.com/ppiankov/trustgate/internal/governance"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/observability"
	"github.com/ppiankov/trustgate/internal/storage"
)

var (
	// ErrPackageBanned is returned when approving a banned package.
	ErrPackageBanned = errors.New("package is banned")
	// ErrInvalidPackage is returned for malformed names or versions.
	ErrInvalidPackage = errors.New("invalid package name or version")
)

var (
	validName    = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	validVersion = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.+!_-]*$`)
)

// RegistryTTL is how long a registry lookup stays cached.
const RegistryTTL = 300 * time.Second

// Store is the package registry.
type Store interface {
	GetPackage(ctx context.Context, name, version string) (*model.PackageEntry, error)
	RequestPackage(ctx context.Context, name, version, requestedBy string, minMaturity model.Level) (*model.PackageEntry, bool, error)
	ApprovePackage(ctx context.Context, name, version string, minMaturity model.Level, approvedBy string) (*model.PackageEntry, error)
	BanPackage(ctx context.Context, name, version, reason string) (*model.PackageEntry, error)
	ListPackages(ctx context.Context, status model.PackageStatus) ([]model.PackageEntry, error)
}

// TierResolver resolves an agent's tier. *governance.Service implements it.
type TierResolver interface {
	ResolveTier(ctx context.Context, agentID string) (governance.TierInfo, error)
}

// lookup is a cached registry read. A nil entry records "not in registry".
type lookup struct {
	entry *model.PackageEntry
}

// Service checks and mutates the package registry. Construct with New.
type Service struct {
	store    Store
	tiers    TierResolver
	banlist  *denylist.Denylist
	registry *cache.Cache[string, lookup]

	defaultMin model.Level

	log     logging.Logger
	metrics *observability.Metrics
	audit   audit.Recorder
	alerts  *alert.Dispatcher
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithDenylist sets the ban-list. Defaults to denylist.NewDefault().
func WithDenylist(d *denylist.Denylist) Option {
	return func(s *Service) { s.banlist = d }
}

// WithDefaultMinMaturity sets the minimum maturity for requested packages.
func WithDefaultMinMaturity(l model.Level) Option {
	return func(s *Service) { s.defaultMin = l }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit records denials and registry mutations.
func WithAudit(r audit.Recorder) Option {
	return func(s *Service) { s.audit = r }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithAlerts dispatches package_banned events.
func WithAlerts(d *alert.Dispatcher) Option {
	return func(s *Service) { s.alerts = d }
}

// New creates a package governance service.
func New(store Store, tiers TierResolver, opts ...Option) *Service {
	s := &Service{
		store:      store,
		tiers:      tiers,
		defaultMin: model.Intern,
		log:        logging.Nop(),
		audit:      audit.Discard,
		tracer:     observability.Tracer(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.banlist == nil {
		s.banlist = denylist.NewDefault()
	}
	s.registry = cache.New[string, lookup](cache.Options{
		Name:       "package",
		MaxSize:    cache.DefaultMaxSize,
		DefaultTTL: RegistryTTL,
		OnEvent: func(name string, ev cache.Event) {
			s.metrics.RecordCacheEvent(name, string(ev))
		},
	})
	return s
}

// Normalize trims and validates a package coordinate. Names are
// case-insensitive and returned lowercased.
func Normalize(name, version string) (string, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	version = strings.TrimSpace(version)
	if !validName.MatchString(name) || !validVersion.MatchString(version) {
		return "", "", fmt.Errorf("%w: %q@%q", ErrInvalidPackage, name, version)
	}
	return name, version, nil
}

// CheckPackagePermission decides whether agentID may use name@version.
func (s *Service) CheckPackagePermission(ctx context.Context, agentID, name, version string) (model.Decision, error) {
	name, version, err := Normalize(name, version)
	if err != nil {
		return model.Decision{}, err
	}
	ctx, span := s.tracer.Start(ctx, "packages.CheckPackagePermission", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("package", model.PackageKey(name, version)),
	))
	defer span.End()

	info, err := s.tiers.ResolveTier(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tier lookup failed")
		return model.Decision{}, fmt.Errorf("check package %s: %w", model.PackageKey(name, version), err)
	}

	d, err := s.evaluate(ctx, info, name, version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry lookup failed")
		return model.Decision{}, err
	}
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.String("agent.tier", info.Tier.String()))

	s.metrics.RecordPackageCheck(d.Allowed)
	subject := model.PackageKey(name, version)
	if d.Allowed {
		s.log.Debug("package allow", "agent_id", agentID, "package", subject, "tier", info.Tier.String())
		return d, nil
	}
	s.log.Info("package deny", "agent_id", agentID, "package", subject, "tier", info.Tier.String(), "reason", d.Reason)
	s.record(audit.AuditEntry{
		Kind:     audit.KindPackage,
		AgentID:  agentID,
		Subject:  subject,
		Decision: d.Verdict(),
		Reason:   d.Reason,
		Tier:     info.Tier.String(),
	})
	return d, nil
}

func (s *Service) evaluate(ctx context.Context, info governance.TierInfo, name, version string) (model.Decision, error) {
	deny := func(reason string) model.Decision {
		return model.Decision{Reason: reason, AgentStatus: info.Tier}
	}
	key := model.PackageKey(name, version)

	if info.Tier == model.Student {
		return deny(fmt.Sprintf("agent %s is STUDENT: package use is not permitted at this tier", info.AgentID)), nil
	}
	if banned, reason := s.banlist.IsPackageBanned(name, version); banned {
		return deny(reason), nil
	}

	entry, err := s.get(ctx, name, version)
	if err != nil {
		return model.Decision{}, fmt.Errorf("check package %s: %w", key, err)
	}
	switch {
	case entry == nil:
		return deny(fmt.Sprintf("package %s is not in the registry; request approval first", key)), nil
	case entry.Status == model.PackagePending:
		return deny(fmt.Sprintf("package %s is pending approval", key)), nil
	case entry.Status == model.PackageBanned:
		return deny("banned: " + entry.BanReason), nil
	}

	d := model.Decision{
		Allowed:          info.Tier.AtLeast(entry.MinMaturity),
		AgentStatus:      info.Tier,
		ActionComplexity: entry.MinMaturity.Complexity(),
	}
	if d.Allowed {
		d.Reason = fmt.Sprintf("package %s is active; agent %s is %s (requires %s)", key, info.AgentID, info.Tier, entry.MinMaturity)
	} else {
		d.Reason = fmt.Sprintf("package %s requires %s; agent %s is %s", key, entry.MinMaturity, info.AgentID, info.Tier)
	}
	return d, nil
}

func (s *Service) get(ctx context.Context, name, version string) (*model.PackageEntry, error) {
	key := model.PackageKey(name, version)
	if l, ok := s.registry.Get(key); ok {
		return l.entry, nil
	}
	gen := s.registry.Generation(key)
	entry, err := s.store.GetPackage(ctx, name, version)
	if errors.Is(err, storage.ErrNotFound) {
		s.registry.SetIfCurrent(key, lookup{}, 0, gen)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// A mutation that lands while the row is in flight wins.
	s.registry.SetIfCurrent(key, lookup{entry: entry}, 0, gen)
	return entry, nil
}

// Lookup returns the registry entry for name@version.
func (s *Service) Lookup(ctx context.Context, name, version string) (*model.PackageEntry, error) {
	name, version, err := Normalize(name, version)
	if err != nil {
		return nil, err
	}
	entry, err := s.get(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("package %s: %w", model.PackageKey(name, version), storage.ErrNotFound)
	}
	return entry, nil
}

// ApprovePackage activates name@version at minMaturity. Approving a banned
// entry fails with ErrPackageBanned and leaves the ban in place.
func (s *Service) ApprovePackage(ctx context.Context, name, version string, minMaturity model.Level, approvedBy string) (*model.PackageEntry, error) {
	name, version, err := Normalize(name, version)
	if err != nil {
		return nil, err
	}
	if !minMaturity.Valid() {
		return nil, fmt.Errorf("approve package: invalid min maturity %d", int(minMaturity))
	}
	key := model.PackageKey(name, version)
	if banned, reason := s.banlist.IsPackageBanned(name, version); banned {
		return nil, fmt.Errorf("approve package %s: %w (%s)", key, ErrPackageBanned, reason)
	}

	entry, err := s.store.ApprovePackage(ctx, name, version, minMaturity, approvedBy)
	s.registry.Delete(key)
	if err != nil {
		return nil, err
	}
	if entry.Status == model.PackageBanned {
		return entry, fmt.Errorf("approve package %s: %w: %s", key, ErrPackageBanned, entry.BanReason)
	}

	s.log.Info("package approved", "package", key, "min_maturity", minMaturity.String(), "approved_by", approvedBy)
	s.record(audit.AuditEntry{
		Kind:     audit.KindRegistry,
		Subject:  key,
		Decision: string(model.PackageActive),
		Reason:   "min maturity " + minMaturity.String(),
		Actor:    approvedBy,
	})
	return entry, nil
}

// BanPackage bans name@version regardless of prior status.
func (s *Service) BanPackage(ctx context.Context, name, version, reason, bannedBy string) (*model.PackageEntry, error) {
	name, version, err := Normalize(name, version)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.New("ban package: reason is required")
	}
	key := model.PackageKey(name, version)

	entry, err := s.store.BanPackage(ctx, name, version, reason)
	s.registry.Delete(key)
	if err != nil {
		return nil, err
	}

	s.log.Warn("package banned", "package", key, "reason", reason, "banned_by", bannedBy)
	s.record(audit.AuditEntry{
		Kind:     audit.KindRegistry,
		Subject:  key,
		Decision: string(model.PackageBanned),
		Reason:   reason,
		Actor:    bannedBy,
	})
	s.alerts.Dispatch(alert.AlertEvent{
		Event:   alert.EventPackageBanned,
		Subject: key,
		Reason:  reason,
	})
	return entry, nil
}

// RequestPackageApproval registers name@version as pending. An existing entry
// is returned unchanged with created=false.
func (s *Service) RequestPackageApproval(ctx context.Context, name, version, requestedBy string) (*model.PackageEntry, bool, error) {
	name, version, err := Normalize(name, version)
	if err != nil {
		return nil, false, err
	}
	key := model.PackageKey(name, version)

	entry, created, err := s.store.RequestPackage(ctx, name, version, requestedBy, s.defaultMin)
	s.registry.Delete(key)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("package requested", "package", key, "requested_by", requestedBy)
		s.record(audit.AuditEntry{
			Kind:     audit.KindRegistry,
			Subject:  key,
			Decision: string(model.PackagePending),
			Actor:    requestedBy,
		})
	}
	return entry, created, nil
}

// ListPackages lists registry entries, optionally filtered by status.
func (s *Service) ListPackages(ctx context.Context, status *model.PackageStatus) ([]model.PackageEntry, error) {
	var filter model.PackageStatus
	if status != nil {
		if !status.Valid() {
			return nil, fmt.Errorf("list packages: unknown status %q", *status)
		}
		filter = *status
	}
	return s.store.ListPackages(ctx, filter)
}

// CacheStats reports the registry cache.
func (s *Service) CacheStats() cache.Stats {
	return s.registry.Stats()
}

func (s *Service) record(e audit.AuditEntry) {
	if err := s.audit.Record(e); err != nil {
		s.log.Warn("audit record failed", "error", err)
	}
}
