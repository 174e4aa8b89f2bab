package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavilion-trust/amg-gateway/internal/gateway"
	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/policy"
	"github.com/pavilion-trust/amg-gateway/internal/storage/memadapter"
)

func TestHandleBuild_ReturnsGovernedContext(t *testing.T) {
	adapter := memadapter.New("1.0.0")
	ks := killswitch.New(adapter, "1.0.0")
	builder := gateway.New(adapter, ks, "1.0.0")
	engine := policy.NewEngine(nil, "1.0.0")
	mh := NewMemoryHandler(adapter, engine, ks)

	writeReq := httptest.NewRequest("POST", "/memory/write", strings.NewReader(
		`{"agent_id":"agent-1","content":"hello world","memory_type":"short_term","sensitivity":"non_pii"}`))
	writeW := httptest.NewRecorder()
	mh.HandleWrite(writeW, writeReq)
	if writeW.Code != http.StatusOK {
		t.Fatalf("setup write failed: %d %s", writeW.Code, writeW.Body.String())
	}

	h := NewContextHandler(builder)
	ctxReq := httptest.NewRequest("POST", "/context/build", strings.NewReader(
		`{"agent_id":"agent-1","max_tokens":1000,"max_items":10}`))
	w := httptest.NewRecorder()

	h.HandleBuild(w, ctxReq)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleBuild_RejectsMissingMaxTokens(t *testing.T) {
	adapter := memadapter.New("1.0.0")
	ks := killswitch.New(adapter, "1.0.0")
	builder := gateway.New(adapter, ks, "1.0.0")
	h := NewContextHandler(builder)

	req := httptest.NewRequest("POST", "/context/build", strings.NewReader(`{"agent_id":"agent-1","max_items":10}`))
	w := httptest.NewRecorder()

	h.HandleBuild(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleBuild_RejectsDisabledAgent(t *testing.T) {
	adapter := memadapter.New("1.0.0")
	ks := killswitch.New(adapter, "1.0.0")
	builder := gateway.New(adapter, ks, "1.0.0")
	h := NewContextHandler(builder)

	if _, err := ks.Disable(context.Background(), "agent-1", "test", "actor-1"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/context/build", strings.NewReader(`{"agent_id":"agent-1","max_tokens":1000,"max_items":10}`))
	w := httptest.NewRecorder()

	h.HandleBuild(w, req)

	if w.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d: %s", w.Code, w.Body.String())
	}
}
