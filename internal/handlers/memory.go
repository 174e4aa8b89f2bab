package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/middleware"
	"github.com/pavilion-trust/amg-gateway/internal/policy"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// MemoryHandler serves /memory/write and /memory/query, grounded on the
// teacher's PolicyHandler (internal/handlers/policy.go) for request
// decode/validate/dispatch shape.
type MemoryHandler struct {
	adapter    storage.Adapter
	engine     *policy.Engine
	killSwitch *killswitch.Switch
}

// NewMemoryHandler constructs a MemoryHandler.
func NewMemoryHandler(adapter storage.Adapter, engine *policy.Engine, killSwitch *killswitch.Switch) *MemoryHandler {
	return &MemoryHandler{adapter: adapter, engine: engine, killSwitch: killSwitch}
}

type writeRequest struct {
	AgentID     string  `json:"agent_id" validate:"required"`
	Content     string  `json:"content" validate:"required"`
	MemoryType  string  `json:"memory_type" validate:"required,oneof=short_term long_term episodic"`
	Sensitivity string  `json:"sensitivity" validate:"required,oneof=pii non_pii"`
	Scope       string  `json:"scope" validate:"omitempty,oneof=agent tenant"`
	TTLSeconds  int64   `json:"ttl_seconds" validate:"omitempty,gt=0"`
	Vector      []float64 `json:"vector,omitempty"`
}

type writeResponse struct {
	MemoryID string `json:"memory_id"`
	AuditID  string `json:"audit_id"`
	Decision string `json:"decision"`
}

// HandleWrite serves POST /memory/write.
func (h *MemoryHandler) HandleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := middleware.Validator().Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_field", middleware.FieldErrors(err)...)
		return
	}

	if allowed, reason := h.killSwitch.CheckAllowed(req.AgentID, killswitch.OpWrite); !allowed {
		writeJSONError(w, http.StatusLocked, "agent_disabled", reason)
		return
	}

	scope := gtype.Scope(req.Scope)
	if scope == "" {
		scope = gtype.ScopeAgent
	}
	sensitivity := gtype.Sensitivity(req.Sensitivity)
	memType := gtype.MemoryType(req.MemoryType)

	ttl := req.TTLSeconds
	maxTTL := h.engine.MaxTTL(sensitivity, scope)
	if ttl <= 0 {
		ttl = maxTTL
	}

	policyObj, err := gtype.NewMemoryPolicy(memType, ttl, sensitivity, scope, true, true, "", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_policy", err.Error())
		return
	}

	mem, err := gtype.NewMemory("", req.AgentID, req.Content, req.Vector, policyObj, time.Time{}, req.AgentID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_memory", err.Error())
		return
	}

	evalResult := h.engine.EvaluateWrite(mem, req.AgentID)
	if !evalResult.Allowed() {
		writeJSONError(w, http.StatusForbidden, evalResult.Reason)
		return
	}

	rec, err := h.adapter.Write(r.Context(), mem, middleware.Caller(r), requestIDFrom(r))
	if err != nil {
		writeStorageErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, writeResponse{
		MemoryID: mem.MemoryID,
		AuditID:  rec.AuditID,
		Decision: string(rec.Decision),
	})
}

type queryRequest struct {
	AgentID     string   `json:"agent_id" validate:"required"`
	MemoryTypes []string `json:"memory_types,omitempty"`
	Sensitivity []string `json:"sensitivity,omitempty"`
	Scope       string   `json:"scope,omitempty" validate:"omitempty,oneof=agent tenant"`
	Vector      []float64 `json:"vector,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

type queryResponse struct {
	Memories []gtype.Memory         `json:"memories"`
	Metadata map[string]interface{} `json:"metadata"`
}

// HandleQuery serves POST /memory/query.
func (h *MemoryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := middleware.Validator().Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_field", middleware.FieldErrors(err)...)
		return
	}

	if allowed, reason := h.killSwitch.CheckAllowed(req.AgentID, killswitch.OpQuery); !allowed {
		writeJSONError(w, http.StatusLocked, "agent_disabled", reason)
		return
	}

	filters := storage.Filters{Scope: gtype.Scope(req.Scope), Vector: req.Vector}
	for _, mt := range req.MemoryTypes {
		filters.MemoryTypes = append(filters.MemoryTypes, gtype.MemoryType(mt))
	}
	for _, s := range req.Sensitivity {
		filters.Sensitivity = append(filters.Sensitivity, gtype.Sensitivity(s))
	}

	memories, rec, err := h.adapter.Query(r.Context(), filters, req.AgentID, middleware.Caller(r), storage.PolicyCheck{AgentID: req.AgentID})
	if err != nil {
		writeStorageErr(w, err)
		return
	}

	if req.Limit > 0 && len(memories) > req.Limit {
		memories = memories[:req.Limit]
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Memories: memories,
		Metadata: map[string]interface{}{
			"total":    rec.Metadata["total_records_examined"],
			"filtered": rec.Metadata["filtered_count"],
			"audit_id": rec.AuditID,
		},
	})
}
