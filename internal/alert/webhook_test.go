package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSendGenericPayload(t *testing.T) {
	var got AlertEvent
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := AlertConfig{URL: srv.URL, Format: "generic", Headers: map[string]string{"Authorization": "Bearer x"}}
	err := Send(context.Background(), cfg, AlertEvent{
		Event:   EventBlockedTrigger,
		AgentID: "a1",
		Subject: "cron:daily_report",
		Tier:    "STUDENT",
		Route:   "training",
		Reason:  "automated trigger blocked",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Event != EventBlockedTrigger || got.AgentID != "a1" || got.Route != "training" {
		t.Errorf("unexpected payload %+v", got)
	}
	if auth != "Bearer x" {
		t.Errorf("expected custom header, got %q", auth)
	}
}

func TestDispatchMatchesEvent(t *testing.T) {
	var called atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv1 := httptest.NewServer(handler)
	defer srv1.Close()
	srv2 := httptest.NewServer(handler)
	defer srv2.Close()
	srv3 := httptest.NewServer(handler)
	defer srv3.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv1.URL, Format: "generic", Events: []string{EventPackageBanned}},
		{URL: srv2.URL, Format: "generic", Events: []string{"*"}},
		{URL: srv3.URL, Format: "generic", Events: []string{EventSandboxError}},
	}, nil)

	d.Dispatch(AlertEvent{Event: EventPackageBanned, Subject: "colourama@*"})
	d.Wait()

	if called.Load() != 2 {
		t.Errorf("expected 2 calls (exact + wildcard), got %d", called.Load())
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(AlertEvent{Event: EventBlockedTrigger})
	d.Wait()
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), AlertConfig{URL: srv.URL}, AlertEvent{Event: EventSandboxError})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := Send(context.Background(), AlertConfig{URL: srv.URL}, AlertEvent{Event: EventSandboxError})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload("slack", AlertEvent{
		Event: EventBlockedTrigger, AgentID: "a1", Subject: "webhook:sync", Tier: "INTERN", Route: "proposal", Reason: "blocked",
	})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}
	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) < 2 {
		t.Fatalf("expected at least 2 blocks, got %v", parsed["blocks"])
	}
	header, _ := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Errorf("expected header block, got %s", header["type"])
	}
	section, _ := blocks[1].(map[string]any)
	fields, ok := section["fields"].([]any)
	if !ok || len(fields) != 5 {
		t.Errorf("expected 5 fields including route, got %v", fields)
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		event    string
		severity string
	}{
		{EventPackageBanned, "critical"},
		{EventSandboxError, "error"},
		{EventBlockedTrigger, "warning"},
		{"other", "info"},
	}
	for _, tt := range tests {
		data, err := FormatPayload("pagerduty", AlertEvent{Event: tt.event, Subject: "x"})
		if err != nil {
			t.Fatal(err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("pagerduty format is not valid JSON: %v", err)
		}
		if parsed["event_action"] != "trigger" {
			t.Errorf("expected event_action trigger, got %v", parsed["event_action"])
		}
		payload := parsed["payload"].(map[string]any)
		if payload["severity"] != tt.severity {
			t.Errorf("%s: expected severity %s, got %v", tt.event, tt.severity, payload["severity"])
		}
		if payload["source"] != "trustgate" {
			t.Errorf("expected source trustgate, got %v", payload["source"])
		}
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	if d := NewDispatcher(nil, nil); d != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
}
