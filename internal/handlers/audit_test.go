package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/policy"
	"github.com/pavilion-trust/amg-gateway/internal/storage/memadapter"
)

func TestHandleExport_ReturnsWrittenRecords(t *testing.T) {
	adapter := memadapter.New("1.0.0")
	ks := killswitch.New(adapter, "1.0.0")
	engine := policy.NewEngine(nil, "1.0.0")
	mh := NewMemoryHandler(adapter, engine, ks)

	writeReq := httptest.NewRequest("POST", "/memory/write", strings.NewReader(
		`{"agent_id":"agent-1","content":"hello","memory_type":"short_term","sensitivity":"non_pii"}`))
	writeW := httptest.NewRecorder()
	mh.HandleWrite(writeW, writeReq)
	if writeW.Code != http.StatusOK {
		t.Fatalf("setup write failed: %d %s", writeW.Code, writeW.Body.String())
	}

	h := NewAuditHandler(adapter)
	req := httptest.NewRequest("GET", "/audit/export?agent_id=agent-1", nil)
	w := httptest.NewRecorder()

	h.HandleExport(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"agent_id":"agent-1"`) {
		t.Errorf("expected exported record for agent-1, got %s", w.Body.String())
	}
}

func TestHandleExport_RejectsBadStartDate(t *testing.T) {
	adapter := memadapter.New("1.0.0")
	h := NewAuditHandler(adapter)

	req := httptest.NewRequest("GET", "/audit/export?start_date=not-a-date", nil)
	w := httptest.NewRecorder()

	h.HandleExport(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleExport_RejectsBadLimit(t *testing.T) {
	adapter := memadapter.New("1.0.0")
	h := NewAuditHandler(adapter)

	req := httptest.NewRequest("GET", "/audit/export?limit=abc", nil)
	w := httptest.NewRecorder()

	h.HandleExport(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
