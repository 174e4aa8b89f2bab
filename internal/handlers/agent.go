package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/middleware"
)

// AgentHandler serves the kill-switch transition and status endpoints.
type AgentHandler struct {
	killSwitch *killswitch.Switch
}

// NewAgentHandler constructs an AgentHandler.
func NewAgentHandler(killSwitch *killswitch.Switch) *AgentHandler {
	return &AgentHandler{killSwitch: killSwitch}
}

type transitionRequest struct {
	Reason  string `json:"reason" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
}

type transitionResponse struct {
	State   string `json:"state"`
	AuditID string `json:"audit_id,omitempty"`
}

// resolvedActor cross-checks the body's actor_id against the signed actor
// token verified by middleware.RequireActorToken, so a caller holding a
// validly-signed token cannot claim a different actor identity in the
// kill-switch audit trail. Returns ("", false) and writes the error
// response itself when they disagree.
func resolvedActor(w http.ResponseWriter, r *http.Request, bodyActorID string) (string, bool) {
	tokenActor := middleware.Actor(r)
	if tokenActor != "" && tokenActor != bodyActorID {
		writeJSONError(w, http.StatusForbidden, "actor_mismatch", "actor_id does not match the authenticated actor token")
		return "", false
	}
	if tokenActor != "" {
		return tokenActor, true
	}
	return bodyActorID, true
}

// HandleDisable serves POST /agent/{id}/disable.
func (h *AgentHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := middleware.Validator().Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_field", middleware.FieldErrors(err)...)
		return
	}

	actorID, ok := resolvedActor(w, r, req.ActorID)
	if !ok {
		return
	}

	rec, err := h.killSwitch.Disable(r.Context(), agentID, req.Reason, actorID)
	if err != nil {
		writeStorageErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{State: "disabled", AuditID: rec.AuditID})
}

// HandleFreeze serves POST /agent/{id}/freeze.
func (h *AgentHandler) HandleFreeze(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := middleware.Validator().Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_field", middleware.FieldErrors(err)...)
		return
	}

	actorID, ok := resolvedActor(w, r, req.ActorID)
	if !ok {
		return
	}

	_, err := h.killSwitch.FreezeWrites(r.Context(), agentID, req.Reason, actorID)
	if err != nil {
		writeStorageErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{State: "frozen"})
}

// HandleEnable serves POST /agent/{id}/enable.
func (h *AgentHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := middleware.Validator().Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_field", middleware.FieldErrors(err)...)
		return
	}

	actorID, ok := resolvedActor(w, r, req.ActorID)
	if !ok {
		return
	}

	_, err := h.killSwitch.Enable(r.Context(), agentID, actorID)
	if err != nil {
		writeStorageErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{State: "enabled"})
}

type statusResponse struct {
	State       string `json:"state"`
	MemoryWrite string `json:"memory_write"`
	DisabledAt  string `json:"disabled_at,omitempty"`
}

// HandleStatus serves GET /agent/{id}/status.
func (h *AgentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	status := h.killSwitch.Status(agentID)

	resp := statusResponse{State: string(status.State), MemoryWrite: status.MemoryWrite}
	if !status.TransitionAt.IsZero() {
		resp.DisabledAt = status.TransitionAt.UTC().Format("2006-01-02T15:04:05.000000Z")
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGlobalShutdown serves POST /agent/shutdown, an administrative
// extension beyond spec.md's per-agent endpoint table: it disables every
// known agent in one call (see SPEC_FULL.md's global_shutdown scope
// decision).
func (h *AgentHandler) HandleGlobalShutdown(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := middleware.Validator().Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_field", middleware.FieldErrors(err)...)
		return
	}

	actorID, ok := resolvedActor(w, r, req.ActorID)
	if !ok {
		return
	}

	records, err := h.killSwitch.GlobalShutdown(r.Context(), req.Reason, actorID)
	if err != nil {
		writeStorageErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":           "disabled",
		"agents_disabled": len(records),
	})
}
