// Package engine wires the governance services into one process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/approval"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/availability"
	"github.com/ppiankov/trustgate/internal/confidence"
	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/deferred"
	"github.com/ppiankov/trustgate/internal/denylist"
	"github.com/ppiankov/trustgate/internal/governance"
	"github.com/ppiankov/trustgate/internal/intercept"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/observability"
	"github.com/ppiankov/trustgate/internal/packages"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/policydiff"
	"github.com/ppiankov/trustgate/internal/sandbox"
	"github.com/ppiankov/trustgate/internal/storage"
)

// Engine owns every long-lived dependency. Construct with New and release
// with Close.
type Engine struct {
	Config *config.Config
	Log    logging.Logger

	DB       *storage.DB
	AuditLog *audit.Log // nil when the audit log is disabled
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Denylist *denylist.Denylist
	Alerts   *alert.Dispatcher

	Governance   *governance.Service
	Tracker      *confidence.Tracker
	Availability *availability.Registry
	Queue        deferred.Queue
	Interceptor  *intercept.Interceptor
	Packages     *packages.Service
	Approvals    *approval.Service
	Sandbox      *sandbox.Sandbox

	redis     *redis.Client
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	log    logging.Logger
	runner sandbox.CommandRunner
	queue  deferred.Queue
}

// Option configures New.
type Option func(*options)

// WithLogger overrides the logger built from Config.LogLevel.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSandboxRunner overrides the container command runner.
func WithSandboxRunner(r sandbox.CommandRunner) Option {
	return func(o *options) { o.runner = r }
}

// WithQueue overrides the deferred queue selected from Config.Redis.
func WithQueue(q deferred.Queue) Option {
	return func(o *options) { o.queue = q }
}

// New opens storage, loads policy and denylist, and builds every service.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.New(os.Stderr, cfg.LogLevel)
	}

	e := &Engine{Config: cfg, Log: o.log}

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	e.DB = db

	var rec audit.Recorder = audit.Discard
	if cfg.AuditLogPath != "" {
		e.AuditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		rec = e.AuditLog
	}

	policyCfg, policyHash, err := policy.LoadConfigWithHash(cfg.PolicyPath)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("load policy: %w", err)
	}
	e.Denylist, err = denylist.Load(cfg.DenylistPath)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("load denylist: %w", err)
	}

	e.Registry = prometheus.NewRegistry()
	e.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.Metrics = observability.NewMetrics(e.Registry)
	e.Alerts = alert.NewDispatcher(cfg.Alerts, o.log)

	e.Governance = governance.New(db,
		governance.WithPolicy(policyCfg, policyHash),
		governance.WithCache(cfg.Cache.MaxSize, cfg.Cache.TierTTL, cfg.Cache.DecisionTTL),
		governance.WithLogger(o.log),
		governance.WithMetrics(e.Metrics),
		governance.WithAudit(rec),
	)
	e.Tracker = confidence.NewTracker(db, e.Governance,
		confidence.WithInvalidator(e.Governance),
		confidence.WithLogger(o.log),
		confidence.WithMetrics(e.Metrics),
		confidence.WithAudit(rec),
		confidence.WithAlerts(e.Alerts),
	)
	e.Availability = availability.NewRegistry(cfg.Availability.HeartbeatTTL, nil)

	e.Queue = o.queue
	if e.Queue == nil {
		e.Queue = e.openQueue(ctx)
	}

	e.Interceptor = intercept.New(db, e.Governance, e.Availability, e.Queue,
		intercept.WithLogger(o.log),
		intercept.WithMetrics(e.Metrics),
		intercept.WithAudit(rec),
		intercept.WithAlerts(e.Alerts),
	)
	e.Packages = packages.New(db, e.Governance,
		packages.WithDenylist(e.Denylist),
		packages.WithDefaultMinMaturity(policyCfg.PackageMinMaturity),
		packages.WithLogger(o.log),
		packages.WithMetrics(e.Metrics),
		packages.WithAudit(rec),
		packages.WithAlerts(e.Alerts),
	)
	e.Approvals = approval.NewService(db, e.Tracker, o.log, rec)

	sbxOpts := []sandbox.Option{
		sandbox.WithDenylist(e.Denylist),
		sandbox.WithLogger(o.log),
		sandbox.WithMetrics(e.Metrics),
		sandbox.WithAlerts(e.Alerts),
	}
	if o.runner != nil {
		sbxOpts = append(sbxOpts, sandbox.WithRunner(o.runner))
	}
	e.Sandbox = sandbox.New(cfg.Sandbox, sbxOpts...)

	o.log.Info("engine ready",
		"db", cfg.DBPath,
		"policy_hash", policyHash,
		"redis", e.redis != nil,
		"alerts", len(cfg.Alerts),
	)
	return e, nil
}

// openQueue connects to Redis when configured and falls back to the
// in-memory queue when it is unreachable.
func (e *Engine) openQueue(ctx context.Context) deferred.Queue {
	url := e.Config.Redis.URL
	if url == "" {
		return deferred.NewMemoryQueue()
	}
	client, err := deferred.OpenRedis(ctx, url)
	if err != nil {
		e.Log.Warn("redis unavailable, deferring in memory", "error", err)
		return deferred.NewMemoryQueue()
	}
	e.redis = client
	return deferred.NewRedisQueue(client, e.Config.Redis.DeferredTTL)
}

// Reload re-reads the policy and denylist files. The policy swap clears
// cached decisions; the denylist is replaced in place.
func (e *Engine) Reload() error {
	cfg, hash, err := policy.LoadConfigWithHash(e.Config.PolicyPath)
	if err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}
	dl, err := denylist.Load(e.Config.DenylistPath)
	if err != nil {
		return fmt.Errorf("reload denylist: %w", err)
	}
	if prev, prevHash := e.Governance.Policy(); prev != nil && prevHash != hash {
		d := policydiff.Diff(prev, cfg)
		e.Log.Info("policy changed", "changes", len(d.Changes)+len(d.RuleChanges), "stricter", d.Stricter())
	}
	e.Governance.ReloadPolicy(cfg, hash)
	e.Denylist.Replace(dl)
	return nil
}

// Ping checks the database and, when configured, Redis.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.DB.Ping(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close waits for in-flight alerts and releases every resource. Safe to call
// more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.Alerts.Wait()
		var errs []error
		if e.redis != nil {
			errs = append(errs, e.redis.Close())
		}
		if e.AuditLog != nil {
			errs = append(errs, e.AuditLog.Close())
		}
		if e.DB != nil {
			errs = append(errs, e.DB.Close())
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
