package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/middleware"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse is the wire shape for every non-2xx response, matching
// the teacher's writeError convention (internal/middleware/middleware.go).
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string   `json:"code"`
	Message   string   `json:"message,omitempty"`
	Details   []string `json:"details,omitempty"`
	Timestamp string   `json:"timestamp"`
}

func writeJSONError(w http.ResponseWriter, status int, code string, details ...string) {
	message := ""
	if len(details) > 0 {
		message = details[0]
		details = details[1:]
	}
	writeJSON(w, status, errorResponse{Error: errorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})
}

// writeStorageErr maps a gtype.GovernanceError (or plain error) to its
// HTTP status per spec.md §7's error taxonomy.
func writeStorageErr(w http.ResponseWriter, err error) {
	switch gtype.Kind(err) {
	case gtype.KindPolicyViolation:
		writeJSONError(w, http.StatusForbidden, "policy_violation", err.Error())
	case gtype.KindAgentDisabled:
		writeJSONError(w, http.StatusLocked, "agent_disabled", err.Error())
	case gtype.KindNotFound:
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case gtype.KindInvalidArgument:
		writeJSONError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case gtype.KindAuditIntegrity:
		writeJSONError(w, http.StatusUnprocessableEntity, "audit_integrity", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "storage_fault", err.Error())
	}
}

// requestIDFrom extracts the request ID middleware.RequestID attached to
// the context, or "" if absent.
func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(middleware.RequestIDKey{}).(string)
	return id
}
