package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pavilion-trust/amg-gateway/internal/gateway"
	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/middleware"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// ContextHandler serves /context/build, the sanctioned read path for
// agent callers (SPEC_FULL.md §4.6).
type ContextHandler struct {
	builder *gateway.Builder
}

// NewContextHandler constructs a ContextHandler.
func NewContextHandler(builder *gateway.Builder) *ContextHandler {
	return &ContextHandler{builder: builder}
}

type contextRequest struct {
	AgentID     string   `json:"agent_id" validate:"required"`
	MemoryTypes []string `json:"memory_types,omitempty"`
	Vector      []float64 `json:"vector,omitempty"`
	MaxTokens   int      `json:"max_tokens" validate:"required,gt=0"`
	MaxItems    int      `json:"max_items" validate:"required,gt=0"`
}

// HandleBuild serves POST /context/build.
func (h *ContextHandler) HandleBuild(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := middleware.Validator().Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_field", middleware.FieldErrors(err)...)
		return
	}

	filters := storage.Filters{Vector: req.Vector}
	for _, mt := range req.MemoryTypes {
		filters.MemoryTypes = append(filters.MemoryTypes, gtype.MemoryType(mt))
	}

	ctx, err := h.builder.Build(r.Context(), gateway.ContextRequest{
		AgentID:   req.AgentID,
		Caller:    middleware.Caller(r),
		Filters:   filters,
		Check:     storage.PolicyCheck{AgentID: req.AgentID},
		MaxItems:  req.MaxItems,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		writeStorageErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories": ctx.Memories,
		"metadata": ctx.Metadata,
	})
}
