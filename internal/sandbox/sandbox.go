// Package sandbox runs untrusted code in a locked-down, throwaway container.
//
// Every run disables networking, mounts the root filesystem read-only, caps
// memory, CPU and process count, drops all capabilities and runs as an
// unprivileged user. None of these can be turned off by a request. The
// container is force-removed after every run, including failures and
// timeouts. Failures are reported as tagged results, never as Go errors.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/denylist"
	"github.com/ppiankov/trustgate/internal/logging"
	"github.com/ppiankov/trustgate/internal/observability"
)

// Kind classifies a run.
type Kind string

const (
	KindOK             Kind = "OK"
	KindExecutionError Kind = "EXECUTION_ERROR"
	KindRuntimeError   Kind = "RUNTIME_ERROR"
	KindSandboxError   Kind = "SANDBOX_ERROR"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultMemoryLimit   = "256m"
	DefaultCPULimit      = 0.5
	DefaultImage         = "python:3.11-slim"
	DefaultMaxConcurrent = 4
	DefaultPidsLimit     = 64
	DefaultTmpfsSize     = "64m"
	DefaultUser          = "65534:65534"
	DefaultMaxOutput     = 64 * 1024

	// ContainerPrefix names every sandbox container.
	ContainerPrefix = "trustgate-sbx-"
	// InputsEnv carries the JSON-encoded inputs into the container.
	InputsEnv = "TRUSTGATE_INPUTS"

	runtimeFailureExit = 125
	removeTimeout      = 10 * time.Second
)

var (
	memoryPattern = regexp.MustCompile(`^[1-9][0-9]*[bkmg]?$`)
	imagePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9._/-]*(:[A-Za-z0-9._-]+)?(@sha256:[a-f0-9]{64})?$`)
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// Config holds sandbox-wide settings. Zero values take defaults.
type Config struct {
	Runtime       string        `yaml:"runtime"` // container CLI, default "docker"
	Image         string        `yaml:"image"`
	Command       []string      `yaml:"command"` // interpreter reading code on stdin
	Timeout       time.Duration `yaml:"timeout"`
	MaxTimeout    time.Duration `yaml:"max_timeout"`
	MemoryLimit   string        `yaml:"memory_limit"`
	CPULimit      float64       `yaml:"cpu_limit"`
	MaxCPU        float64       `yaml:"max_cpu"`
	PidsLimit     int           `yaml:"pids_limit"`
	TmpfsSize     string        `yaml:"tmpfs_size"`
	User          string        `yaml:"user"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxOutput     int           `yaml:"max_output"`
	AllowedImages []string      `yaml:"allowed_images"` // empty allows any well-formed image
}

func (c Config) withDefaults() Config {
	if c.Runtime == "" {
		c.Runtime = "docker"
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if len(c.Command) == 0 {
		c.Command = []string{"python3", "-I", "-"}
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 10 * c.Timeout
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.CPULimit <= 0 {
		c.CPULimit = DefaultCPULimit
	}
	if c.MaxCPU <= 0 {
		c.MaxCPU = 4
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = DefaultPidsLimit
	}
	if c.TmpfsSize == "" {
		c.TmpfsSize = DefaultTmpfsSize
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxOutput <= 0 {
		c.MaxOutput = DefaultMaxOutput
	}
	return c
}

// Request is one code execution. Zero values take the sandbox defaults.
// Timeout is not decoded from JSON; transports accept timeout_seconds.
type Request struct {
	Code        string         `json:"code"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Timeout     time.Duration  `json:"-"`
	MemoryLimit string         `json:"memory_limit,omitempty"`
	CPULimit    float64        `json:"cpu_limit,omitempty"`
	Image       string         `json:"image,omitempty"`
}

// Result is the classified outcome of a run.
type Result struct {
	ExecutionID string        `json:"execution_id"`
	Kind        Kind          `json:"kind"`
	Output      string        `json:"output,omitempty"`
	Message     string        `json:"message,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	Redactions  int           `json:"redactions,omitempty"`
	Removed     bool          `json:"removed"` // no container left behind
}

// String renders the tagged form: the output for OK runs, otherwise
// "<KIND>: <message>".
func (r Result) String() string {
	if r.Kind == KindOK {
		return r.Output
	}
	return string(r.Kind) + ": " + r.Message
}

// Sandbox executes code through a container CLI. Construct with New.
type Sandbox struct {
	cfg     Config
	runner  CommandRunner
	banlist *denylist.Denylist
	sem     chan struct{}

	log     logging.Logger
	metrics *observability.Metrics
	alerts  *alert.Dispatcher
	tracer  trace.Tracer
	newID   func() string
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(s *Sandbox) { s.runner = r }
}

// WithDenylist sets the patterns rejected in request fields.
func WithDenylist(d *denylist.Denylist) Option {
	return func(s *Sandbox) { s.banlist = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Sandbox) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sandbox) { s.metrics = m }
}

// WithAlerts dispatches sandbox_error events.
func WithAlerts(d *alert.Dispatcher) Option {
	return func(s *Sandbox) { s.alerts = d }
}

// WithIDGenerator overrides execution ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Sandbox) { s.newID = fn }
}

// New creates a sandbox.
func New(cfg Config, opts ...Option) *Sandbox {
	cfg = cfg.withDefaults()
	s := &Sandbox{
		cfg:    cfg,
		runner: ExecRunner{},
		log:    logging.Nop(),
		tracer: observability.Tracer(),
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.banlist == nil {
		s.banlist = denylist.NewDefault()
	}
	s.sem = make(chan struct{}, cfg.MaxConcurrent)
	return s
}

// Config returns the effective configuration.
func (s *Sandbox) Config() Config {
	return s.cfg
}

// Execute runs req and returns the tagged string form of the result.
func (s *Sandbox) Execute(ctx context.Context, req Request) string {
	return s.Run(ctx, req).String()
}

type runSpec struct {
	image   string
	memory  string
	cpu     float64
	timeout time.Duration
	inputs  string
}

// Run executes req in a fresh container and classifies the outcome.
func (s *Sandbox) Run(ctx context.Context, req Request) Result {
	id := s.newID()
	res := Result{ExecutionID: id}
	ctx, span := s.tracer.Start(ctx, "sandbox.Run", trace.WithAttributes(attribute.String("execution.id", id)))
	done := s.metrics.SandboxStarted()
	defer func() {
		span.SetAttributes(attribute.String("result", string(res.Kind)), attribute.Int("exit_code", res.ExitCode))
		span.End()
		done(string(res.Kind))
	}()

	spec, err := s.prepare(req)
	if err != nil {
		res.Kind, res.Message = KindSandboxError, err.Error()
		s.report(res)
		return res
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		res.Kind, res.Message = KindSandboxError, "sandbox busy: "+ctx.Err().Error()
		s.report(res)
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	start := time.Now()
	out, runErr := s.runner.Run(runCtx, s.cfg.Runtime, s.runArgs(id, spec), strings.NewReader(req.Code))
	res.Duration = time.Since(start)
	res.ExitCode = out.ExitCode

	_, rmErr := s.remove(context.WithoutCancel(ctx), id)
	res.Removed = rmErr == nil
	if rmErr != nil {
		s.log.Warn("sandbox container removal failed", "execution_id", id, "error", rmErr)
	}

	s.classify(&res, out, runErr, runCtx.Err(), spec.timeout)
	s.report(res)
	return res
}

func (s *Sandbox) prepare(req Request) (runSpec, error) {
	spec := runSpec{
		image:   firstNonEmpty(strings.TrimSpace(req.Image), s.cfg.Image),
		memory:  strings.ToLower(firstNonEmpty(strings.TrimSpace(req.MemoryLimit), s.cfg.MemoryLimit)),
		cpu:     req.CPULimit,
		timeout: req.Timeout,
	}
	if spec.cpu == 0 {
		spec.cpu = s.cfg.CPULimit
	}
	if spec.timeout == 0 {
		spec.timeout = s.cfg.Timeout
	}

	if strings.TrimSpace(req.Code) == "" {
		return spec, errors.New("no code to execute")
	}
	for _, field := range []string{spec.image, spec.memory} {
		if blocked, reason := s.banlist.IsSandboxBlocked(field); blocked {
			return spec, fmt.Errorf("request rejected: %s", reason)
		}
	}
	if !imagePattern.MatchString(spec.image) {
		return spec, fmt.Errorf("invalid image reference %q", spec.image)
	}
	if len(s.cfg.AllowedImages) > 0 && !contains(s.cfg.AllowedImages, spec.image) {
		return spec, fmt.Errorf("image %q is not allowed", spec.image)
	}
	if !memoryPattern.MatchString(spec.memory) {
		return spec, fmt.Errorf("invalid memory limit %q", spec.memory)
	}
	if spec.cpu < 0 || spec.cpu > s.cfg.MaxCPU {
		return spec, fmt.Errorf("cpu limit %.2f outside (0, %.2f]", spec.cpu, s.cfg.MaxCPU)
	}
	if spec.timeout < 0 || spec.timeout > s.cfg.MaxTimeout {
		return spec, fmt.Errorf("timeout %s outside (0, %s]", spec.timeout, s.cfg.MaxTimeout)
	}

	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return spec, fmt.Errorf("encode inputs: %w", err)
	}
	spec.inputs = string(data)
	return spec, nil
}

// runArgs builds the container invocation. The isolation flags come first
// and are never conditional.
func (s *Sandbox) runArgs(id string, spec runSpec) []string {
	args := []string{
		"run", "--rm", "-i",
		"--name", ContainerPrefix + id,
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=" + s.cfg.TmpfsSize,
		"--memory", spec.memory,
		"--memory-swap", spec.memory,
		"--cpus", strconv.FormatFloat(spec.cpu, 'f', -1, 64),
		"--pids-limit", strconv.Itoa(s.cfg.PidsLimit),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", s.cfg.User,
		"--workdir", "/tmp",
		"--env", InputsEnv + "=" + spec.inputs,
		spec.image,
	}
	return append(args, s.cfg.Command...)
}

func (s *Sandbox) classify(res *Result, out Output, runErr, deadline error, timeout time.Duration) {
	stdout, n1 := RedactOutput(truncate(out.Stdout, s.cfg.MaxOutput))
	stderr, n2 := RedactOutput(truncate(out.Stderr, s.cfg.MaxOutput))
	res.Redactions = n1 + n2

	switch {
	case errors.Is(deadline, context.DeadlineExceeded):
		res.Kind = KindExecutionError
		res.Message = fmt.Sprintf("execution timed out after %s", timeout)
	case errors.Is(runErr, exec.ErrNotFound):
		res.Kind = KindRuntimeError
		res.Message = fmt.Sprintf("container runtime %q not found", s.cfg.Runtime)
	case runErr != nil:
		res.Kind = KindSandboxError
		res.Message = runErr.Error()
	case out.ExitCode == runtimeFailureExit:
		res.Kind = KindRuntimeError
		res.Message = firstNonEmpty(strings.TrimSpace(stderr), "container runtime failed to start the sandbox")
	case out.ExitCode != 0:
		res.Kind = KindExecutionError
		res.Message = firstNonEmpty(strings.TrimSpace(stderr), fmt.Sprintf("exit status %d", out.ExitCode))
	default:
		res.Kind = KindOK
		res.Output = stdout
	}
}

// Cleanup force-removes the container for executionID. It reports whether a
// container was removed; a missing container is not an error.
func (s *Sandbox) Cleanup(ctx context.Context, executionID string) (bool, error) {
	if !idPattern.MatchString(executionID) {
		return false, fmt.Errorf("invalid execution id %q", executionID)
	}
	return s.remove(ctx, executionID)
}

func (s *Sandbox) remove(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, removeTimeout)
	defer cancel()

	out, err := s.runner.Run(ctx, s.cfg.Runtime, []string{"rm", "-f", ContainerPrefix + id}, nil)
	if err != nil {
		return false, fmt.Errorf("remove sandbox %s: %w", id, err)
	}
	if out.ExitCode != 0 {
		if strings.Contains(strings.ToLower(out.Stderr), "no such container") {
			return false, nil
		}
		return false, fmt.Errorf("remove sandbox %s: exit %d: %s", id, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return strings.TrimSpace(out.Stdout) != "", nil
}

func (s *Sandbox) report(res Result) {
	if res.Kind == KindOK || res.Kind == KindExecutionError {
		s.log.Debug("sandbox run finished", "execution_id", res.ExecutionID, "kind", string(res.Kind),
			"exit_code", res.ExitCode, "duration_ms", res.Duration.Milliseconds())
		return
	}
	s.log.Warn("sandbox run failed", "execution_id", res.ExecutionID, "kind", string(res.Kind), "message", res.Message)
	s.alerts.Dispatch(alert.AlertEvent{
		Event:    alert.EventSandboxError,
		Subject:  ContainerPrefix + res.ExecutionID,
		Reason:   res.String(),
		RecordID: res.ExecutionID,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[output truncated]"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
