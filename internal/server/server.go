// Package server exposes the governance engine over HTTP: health, metrics,
// cache stats, decision checks, trigger routing, supervisor heartbeats and
// registry review.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/trustgate/internal/approval"
	"github.com/ppiankov/trustgate/internal/confidence"
	"github.com/ppiankov/trustgate/internal/engine"
	"github.com/ppiankov/trustgate/internal/intercept"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/packages"
	"github.com/ppiankov/trustgate/internal/sandbox"
	"github.com/ppiankov/trustgate/internal/storage"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP admin surface. Construct with New.
type Server struct {
	eng    *engine.Engine
	router chi.Router
	http   *http.Server
}

// New builds the router over eng.
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(limitBody)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.eng.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Get("/cache/stats", s.cacheStats)

		api.Post("/check/action", s.checkAction)
		api.Post("/check/capability", s.checkCapability)
		api.Post("/check/package", s.checkPackage)
		api.Post("/triggers", s.intercept)

		api.Post("/agents/{agent_id}/outcomes", s.recordOutcome)

		api.Put("/supervisors/{user_id}/heartbeat", s.heartbeat)
		api.Delete("/supervisors/{user_id}", s.markUnavailable)

		api.Get("/packages", s.listPackages)
		api.Post("/packages/request", s.requestPackage)
		api.Post("/packages/approve", s.approvePackage)
		api.Post("/packages/ban", s.banPackage)

		api.Get("/proposals", s.listProposals)
		api.Post("/proposals/{id}/approve", s.resolveProposal(true))
		api.Post("/proposals/{id}/reject", s.resolveProposal(false))

		api.Get("/sessions", s.listSessions)
		api.Post("/sessions/{id}/complete", s.completeSession)
		api.Post("/sessions/{id}/cancel", s.cancelSession)

		api.Post("/sandbox/execute", s.executeCode)
		api.Delete("/sandbox/{execution_id}", s.cleanupSandbox)

		api.Post("/reload", s.reload)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.eng.Governance.CacheStats()
	stats["package"] = s.eng.Packages.CacheStats()
	writeJSON(w, http.StatusOK, stats)
}

type checkRequest struct {
	AgentID    string `json:"agent_id"`
	ActionType string `json:"action_type,omitempty"`
	Capability string `json:"capability,omitempty"`
	Name       string `json:"name,omitempty"`
	Version    string `json:"version,omitempty"`
}

func (s *Server) checkAction(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.ActionType == "" {
		writeError(w, http.StatusBadRequest, errors.New("agent_id and action_type are required"))
		return
	}
	d, err := s.eng.Governance.CanPerformAction(r.Context(), req.AgentID, req.ActionType)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) checkCapability(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Capability == "" {
		writeError(w, http.StatusBadRequest, errors.New("agent_id and capability are required"))
		return
	}
	d, err := s.eng.Governance.CanUseCapability(r.Context(), req.AgentID, req.Capability)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) checkPackage(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !readJSON(w, r, &req) {
		return
	}
	d, err := s.eng.Packages.CheckPackagePermission(r.Context(), req.AgentID, req.Name, req.Version)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type triggerRequest struct {
	AgentID     string         `json:"agent_id"`
	Source      string         `json:"source"`
	TriggerType string         `json:"trigger_type"`
	Context     map[string]any `json:"context,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
}

func (s *Server) intercept(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !readJSON(w, r, &req) {
		return
	}
	dec, err := s.eng.Interceptor.InterceptTrigger(r.Context(), intercept.Request{
		AgentID:     req.AgentID,
		Source:      model.TriggerSource(req.Source),
		TriggerType: req.TriggerType,
		Context:     req.Context,
		UserID:      req.UserID,
	})
	if err != nil {
		// A routed decision with a failed side effect still carries the verdict.
		if dec.Route != "" {
			writeJSON(w, http.StatusAccepted, map[string]any{"decision": dec, "error": err.Error()})
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

type outcomeRequest struct {
	Positive bool   `json:"positive"`
	Impact   string `json:"impact"`
}

func (s *Server) recordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !readJSON(w, r, &req) {
		return
	}
	impact, err := confidence.ParseImpact(req.Impact)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.eng.Tracker.Update(r.Context(), chi.URLParam(r, "agent_id"), req.Positive, impact)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type heartbeatRequest struct {
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if r.ContentLength != 0 && !readJSON(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "user_id")
	if err := s.eng.Availability.Heartbeat(userID, time.Duration(req.TTLSeconds)*time.Second); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markUnavailable(w http.ResponseWriter, r *http.Request) {
	s.eng.Availability.MarkUnavailable(chi.URLParam(r, "user_id"))
	w.WriteHeader(http.StatusNoContent)
}

type packageRequest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	MinMaturity string `json:"min_maturity,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Actor       string `json:"actor"`
}

func (s *Server) listPackages(w http.ResponseWriter, r *http.Request) {
	var status *model.PackageStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := model.PackageStatus(v)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", v))
			return
		}
		status = &st
	}
	list, err := s.eng.Packages.ListPackages(r.Context(), status)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": list})
}

func (s *Server) requestPackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !readJSON(w, r, &req) {
		return
	}
	entry, created, err := s.eng.Packages.RequestPackageApproval(r.Context(), req.Name, req.Version, req.Actor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, entry)
}

func (s *Server) approvePackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !readJSON(w, r, &req) {
		return
	}
	level := model.Intern
	if req.MinMaturity != "" {
		var err error
		if level, err = model.ParseLevel(req.MinMaturity); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	entry, err := s.eng.Packages.ApprovePackage(r.Context(), req.Name, req.Version, level, req.Actor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) banPackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !readJSON(w, r, &req) {
		return
	}
	entry, err := s.eng.Packages.BanPackage(r.Context(), req.Name, req.Version, req.Reason, req.Actor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Note     string `json:"note,omitempty"`
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	list, err := s.eng.Approvals.ListProposals(r.Context(), model.ProposalStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": list})
}

func (s *Server) resolveProposal(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if !readJSON(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		var (
			p   *model.Proposal
			err error
		)
		if approve {
			p, err = s.eng.Approvals.ApproveProposal(r.Context(), id, req.Reviewer, req.Note)
		} else {
			p, err = s.eng.Approvals.RejectProposal(r.Context(), id, req.Reviewer, req.Note)
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type sessionRequest struct {
	Success bool   `json:"success"`
	Impact  string `json:"impact,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.eng.Approvals.ListSessions(r.Context(), model.SessionStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	impact := confidence.ImpactLow
	if req.Impact != "" {
		var err error
		if impact, err = confidence.ParseImpact(req.Impact); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	sess, res, err := s.eng.Approvals.CompleteSession(r.Context(), chi.URLParam(r, "id"), req.Success, impact, req.Outcome)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "confidence": res})
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	sess, err := s.eng.Approvals.CancelSession(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type executeRequest struct {
	AgentID string `json:"agent_id"`
	sandbox.Request
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// executeCode runs code for an agent allowed the execute_code action.
// Sandbox failures are tagged results, not HTTP errors.
func (s *Server) executeCode(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !readJSON(w, r, &req) {
		return
	}
	d, err := s.eng.Governance.CanExecuteCode(r.Context(), req.AgentID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if !d.Allowed {
		writeJSON(w, http.StatusForbidden, d)
		return
	}
	if req.TimeoutSeconds > 0 {
		req.Timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}
	writeJSON(w, http.StatusOK, s.eng.Sandbox.Run(r.Context(), req.Request))
}

func (s *Server) cleanupSandbox(w http.ResponseWriter, r *http.Request) {
	removed, err := s.eng.Sandbox.Cleanup(r.Context(), chi.URLParam(r, "execution_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) reload(w http.ResponseWriter, _ *http.Request) {
	if err := s.eng.Reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	_, hash := s.eng.Governance.Policy()
	writeJSON(w, http.StatusOK, map[string]string{"policy_hash": hash})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidTransition), errors.Is(err, packages.ErrPackageBanned):
		return http.StatusConflict
	case errors.Is(err, packages.ErrInvalidPackage), errors.Is(err, intercept.ErrMissingAgent),
		errors.Is(err, approval.ErrReviewerRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
