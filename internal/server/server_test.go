package server

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavilion-trust/amg-gateway/internal/config"
	"github.com/pavilion-trust/amg-gateway/internal/gateway"
	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/metrics"
	"github.com/pavilion-trust/amg-gateway/internal/policy"
	"github.com/pavilion-trust/amg-gateway/internal/storage/memadapter"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Port: "8080", Env: "test", AuthDisabled: true, PolicyVersion: "1.0.0"}
	adapter := memadapter.New(cfg.PolicyVersion)
	ks := killswitch.New(adapter, cfg.PolicyVersion)
	engine := policy.NewEngine(nil, cfg.PolicyVersion)
	builder := gateway.New(adapter, ks, cfg.PolicyVersion)
	return New(cfg, Deps{
		Adapter:    adapter,
		Engine:     engine,
		KillSwitch: ks,
		Builder:    builder,
		Counters:   metrics.New(),
	})
}

func TestNew_HealthEndpointUnauthenticated(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestNew_MemoryWriteRoundTrip(t *testing.T) {
	srv := testServer(t)
	body := `{"agent_id":"agent-1","content":"hello","memory_type":"short_term","sensitivity":"non_pii"}`
	req := httptest.NewRequest("POST", "/api/v1/memory/write", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestNew_AgentStatusRoute(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/agent/agent-1/status", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestNew_RequestIDHeaderPresent(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}
