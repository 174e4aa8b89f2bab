package middleware

import "testing"

type sampleRequest struct {
	AgentID string `validate:"required"`
	Scope   string `validate:"required,oneof=agent tenant"`
}

func TestValidator_RejectsMissingRequiredField(t *testing.T) {
	req := sampleRequest{Scope: "agent"}
	err := Validator().Struct(req)
	if err == nil {
		t.Fatalf("expected validation error for missing agent_id")
	}
	msgs := FieldErrors(err)
	if len(msgs) == 0 {
		t.Errorf("expected at least one field error message")
	}
}

func TestValidator_RejectsBadEnum(t *testing.T) {
	req := sampleRequest{AgentID: "agent-1", Scope: "nonsense"}
	err := Validator().Struct(req)
	if err == nil {
		t.Fatalf("expected validation error for invalid scope")
	}
}

func TestValidator_AcceptsValidRequest(t *testing.T) {
	req := sampleRequest{AgentID: "agent-1", Scope: "tenant"}
	if err := Validator().Struct(req); err != nil {
		t.Errorf("expected no validation error, got %v", err)
	}
}
