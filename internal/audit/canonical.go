// Package audit computes tamper-evident signatures over AuditRecord core
// fields and assembles immutable records through a builder, never through
// post-construction mutation.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
)

// SignatureSchemeVersion identifies the signing scheme in force. Bumping it
// is a deliberate, versioned event — never silent.
const SignatureSchemeVersion = "v1.0.0"

// coreFields is the exact set of seven fields the signature covers. The
// signature is computed over them with keys in ascending order: agent_id,
// audit_id, decision, memory_id, operation, reason, timestamp. The struct
// declares them in that same order, and encoding/json sorts map keys
// ascending for map[string]any; we still declare the struct explicitly so
// the field set can never silently drift from what's documented.
type coreFields struct {
	AgentID   string `json:"agent_id"`
	AuditID   string `json:"audit_id"`
	Decision  string `json:"decision"`
	MemoryID  string `json:"memory_id"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// CanonicalTimestamp formats a time.Time as ISO-8601 with microsecond
// resolution, UTC.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// CanonicalJSON encodes the signed core fields of a record as UTF-8 JSON
// with ascending-sorted keys. Go struct field tags fixed above give a
// deterministic key order identical across runs; we additionally rely on
// encoding/json's alphabetical key order for map-based payloads elsewhere
// in this package so the two never disagree.
func CanonicalJSON(rec gtype.AuditRecord) ([]byte, error) {
	cf := coreFields{
		AgentID:   rec.AgentID,
		AuditID:   rec.AuditID,
		Decision:  string(rec.Decision),
		MemoryID:  rec.MemoryID,
		Operation: string(rec.Operation),
		Reason:    rec.Reason,
		Timestamp: CanonicalTimestamp(rec.Timestamp),
	}
	// Marshal into a sorted map to guarantee ascending key order regardless
	// of struct field declaration order, per the canonical-JSON contract.
	raw, err := json.Marshal(cf)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal core fields: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("audit: normalize core fields: %w", err)
	}
	sorted, err := json.Marshal(asMap)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal sorted core fields: %w", err)
	}
	return sorted, nil
}

// Sign computes SHA-256(canonical_json(core_fields)) as a hex string.
func Sign(rec gtype.AuditRecord) (string, error) {
	canon, err := CanonicalJSON(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the signature and compares it against rec.Signature.
func Verify(rec gtype.AuditRecord) error {
	want, err := Sign(rec)
	if err != nil {
		return err
	}
	if want != rec.Signature {
		return gtype.AuditIntegrityError(fmt.Sprintf("signature mismatch for audit_id %s", rec.AuditID))
	}
	return nil
}
