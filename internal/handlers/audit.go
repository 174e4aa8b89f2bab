package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/middleware"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// AuditHandler serves GET /audit/export.
type AuditHandler struct {
	adapter storage.Adapter
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(adapter storage.Adapter) *AuditHandler {
	return &AuditHandler{adapter: adapter}
}

// HandleExport serves GET /audit/export?agent_id=&start_date=&end_date=&operation=&limit=.
func (h *AuditHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.AuditLogFilter{
		AgentID:   q.Get("agent_id"),
		Operation: gtype.Operation(q.Get("operation")),
	}
	if start := q.Get("start_date"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_field", "start_date must be RFC3339")
			return
		}
		filter.Start = t
	}
	if end := q.Get("end_date"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_field", "end_date must be RFC3339")
			return
		}
		filter.End = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_field", "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	records, err := h.adapter.GetAuditLog(r.Context(), filter)
	if err != nil {
		writeStorageErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records":      records,
		"count":        len(records),
		"requested_by": middleware.Caller(r),
	})
}
