// Package pgadapter is the relational storage.Adapter backed by
// PostgreSQL via lib/pq. It pushes filter predicates down into SQL for
// efficiency but re-verifies scope isolation, sensitivity allow-listing,
// and allow_read in process before returning any row, because the SQL
// WHERE clause is advisory, not trusted (storage.Adapter's package doc).
package pgadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/pavilion-trust/amg-gateway/internal/audit"
	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// TTLEnforcement controls how the adapter treats rows whose expires_at has
// passed. In both modes Query pushes an expires_at > now() predicate into
// SQL, and Read and Query re-check expiry in process before returning a
// row; expired rows stay in the table until PurgeExpired or Delete.
// Strict mode additionally adds the predicate to Read's SQL and rejects
// writes whose expires_at is not in the future. Supplements spec.md, which
// is silent on this — see SPEC_FULL.md's supplemented features.
type TTLEnforcement int

const (
	TTLEnforcementLazy TTLEnforcement = iota
	TTLEnforcementStrict
)

// Adapter is the PostgreSQL-backed storage.Adapter implementation.
type Adapter struct {
	db            *sql.DB
	policyVersion string
	ttlMode       TTLEnforcement
}

// New opens a connection to dsn and ensures the schema exists.
func New(dsn, policyVersion string, ttlMode TTLEnforcement) (*Adapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgadapter: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pgadapter: ping: %w", err)
	}
	if policyVersion == "" {
		policyVersion = "1.0.0"
	}
	a := &Adapter{db: db, policyVersion: policyVersion, ttlMode: ttlMode}
	if err := a.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory (
			memory_id VARCHAR(64) PRIMARY KEY,
			agent_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			vector JSONB,
			memory_type VARCHAR(32) NOT NULL,
			sensitivity VARCHAR(32) NOT NULL,
			scope VARCHAR(32) NOT NULL,
			ttl_seconds BIGINT NOT NULL,
			allow_read BOOLEAN NOT NULL,
			allow_write BOOLEAN NOT NULL,
			provenance TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_by VARCHAR(255) NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_agent_id ON memory(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_expires_at ON memory(expires_at)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			audit_id VARCHAR(64) PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			agent_id VARCHAR(255) NOT NULL,
			request_id VARCHAR(255),
			operation VARCHAR(32) NOT NULL,
			memory_id VARCHAR(64),
			policy_version VARCHAR(50) NOT NULL,
			decision VARCHAR(16) NOT NULL,
			reason TEXT NOT NULL,
			actor_id VARCHAR(255) NOT NULL,
			metadata_json JSONB,
			signature VARCHAR(64) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_agent_id ON audit_log(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_operation ON audit_log(operation)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgadapter: init schema: %w", err)
		}
	}
	return nil
}

func builder(policyVersion, agentID string, op gtype.Operation) *audit.Builder {
	return audit.New(agentID, op).PolicyVersion(policyVersion)
}

func (a *Adapter) Write(ctx context.Context, memory gtype.Memory, actorID, requestID string) (gtype.AuditRecord, error) {
	if memory.AgentID == "" {
		return gtype.AuditRecord{}, gtype.PolicyEnforcementError("memory must have agent_id")
	}
	if memory.Policy.TTLSeconds <= 0 {
		return gtype.AuditRecord{}, gtype.PolicyEnforcementError(fmt.Sprintf("invalid ttl: %d", memory.Policy.TTLSeconds))
	}
	if a.ttlMode == TTLEnforcementStrict && !memory.ExpiresAt.After(time.Now().UTC()) {
		return gtype.AuditRecord{}, gtype.PolicyEnforcementError("expires_at already in the past under strict ttl enforcement")
	}
	if actorID == "" {
		actorID = memory.AgentID
	}

	vectorJSON, err := json.Marshal(memory.Vector)
	if err != nil {
		return gtype.AuditRecord{}, gtype.StorageError("marshal vector", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO memory (memory_id, agent_id, content, vector, memory_type, sensitivity, scope,
			ttl_seconds, allow_read, allow_write, provenance, created_at, expires_at, created_by, is_deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,FALSE)`,
		memory.MemoryID, memory.AgentID, memory.Content, vectorJSON,
		string(memory.Policy.MemoryType), string(memory.Policy.Sensitivity), string(memory.Policy.Scope),
		memory.Policy.TTLSeconds, memory.Policy.AllowRead, memory.Policy.AllowWrite, memory.Policy.Provenance,
		memory.CreatedAt, memory.ExpiresAt, memory.CreatedBy,
	)
	if err != nil {
		return gtype.AuditRecord{}, gtype.StorageError("insert memory", err)
	}

	rec, err := builder(a.policyVersion, memory.AgentID, gtype.OpWrite).
		RequestID(requestID).
		MemoryID(memory.MemoryID).
		Allowed("policy_enforcement_passed").
		ActorID(actorID).
		Meta("memory_type", string(memory.Policy.MemoryType)).
		Meta("sensitivity", string(memory.Policy.Sensitivity)).
		Meta("scope", string(memory.Policy.Scope)).
		Meta("ttl_seconds", memory.Policy.TTLSeconds).
		Build()
	if err != nil {
		return gtype.AuditRecord{}, err
	}
	if err := a.WriteAuditRecord(ctx, rec); err != nil {
		return gtype.AuditRecord{}, err
	}
	return rec, nil
}

type memoryRow struct {
	memoryID    string
	agentID     string
	content     string
	vectorJSON  []byte
	memoryType  string
	sensitivity string
	scope       string
	ttlSeconds  int64
	allowRead   bool
	allowWrite  bool
	provenance  sql.NullString
	createdAt   time.Time
	expiresAt   time.Time
	createdBy   string
}

func (r memoryRow) toMemory() (gtype.Memory, error) {
	var vector []float64
	if len(r.vectorJSON) > 0 {
		if err := json.Unmarshal(r.vectorJSON, &vector); err != nil {
			return gtype.Memory{}, fmt.Errorf("pgadapter: unmarshal vector: %w", err)
		}
	}
	return gtype.Memory{
		MemoryID: r.memoryID,
		AgentID:  r.agentID,
		Content:  r.content,
		Vector:   vector,
		Policy: gtype.MemoryPolicy{
			MemoryType:  gtype.MemoryType(r.memoryType),
			TTLSeconds:  r.ttlSeconds,
			Sensitivity: gtype.Sensitivity(r.sensitivity),
			Scope:       gtype.Scope(r.scope),
			AllowRead:   r.allowRead,
			AllowWrite:  r.allowWrite,
			Provenance:  r.provenance.String,
		},
		CreatedAt: r.createdAt,
		ExpiresAt: r.expiresAt,
		CreatedBy: r.createdBy,
	}, nil
}

func scanMemoryRow(scanner interface{ Scan(...any) error }) (memoryRow, error) {
	var r memoryRow
	err := scanner.Scan(
		&r.memoryID, &r.agentID, &r.content, &r.vectorJSON, &r.memoryType, &r.sensitivity, &r.scope,
		&r.ttlSeconds, &r.allowRead, &r.allowWrite, &r.provenance, &r.createdAt, &r.expiresAt, &r.createdBy,
	)
	return r, err
}

const memoryColumns = `memory_id, agent_id, content, vector, memory_type, sensitivity, scope,
	ttl_seconds, allow_read, allow_write, provenance, created_at, expires_at, created_by`

func (a *Adapter) Read(ctx context.Context, memoryID, callerAgentID string, check storage.PolicyCheck) (*gtype.Memory, gtype.AuditRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM memory WHERE memory_id = $1 AND is_deleted = FALSE`, memoryColumns)
	if a.ttlMode == TTLEnforcementStrict {
		query += ` AND expires_at > now()`
	}

	row := a.db.QueryRowContext(ctx, query, memoryID)
	r, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		rec, derr := a.appendDenied(ctx, callerAgentID, gtype.OpRead, memoryID, "memory_not_found")
		return nil, rec, derr
	}
	if err != nil {
		return nil, gtype.AuditRecord{}, gtype.StorageError("read memory", err)
	}

	mem, err := r.toMemory()
	if err != nil {
		return nil, gtype.AuditRecord{}, gtype.StorageError("decode memory row", err)
	}

	// Re-verify in process regardless of ttlMode: the SQL predicate above
	// (when present) is advisory, not a substitute for this check.
	if mem.IsExpired(time.Now().UTC()) {
		rec, derr := a.appendDenied(ctx, callerAgentID, gtype.OpRead, memoryID, "memory_expired")
		return nil, rec, derr
	}
	if mem.Policy.Scope == gtype.ScopeAgent && mem.AgentID != callerAgentID {
		rec, derr := a.appendDenied(ctx, callerAgentID, gtype.OpRead, memoryID, "scope_isolation_violation")
		return nil, rec, derr
	}
	if !mem.Policy.AllowRead {
		rec, derr := a.appendDenied(ctx, callerAgentID, gtype.OpRead, memoryID, "read_not_allowed")
		return nil, rec, derr
	}

	rec, err := builder(a.policyVersion, callerAgentID, gtype.OpRead).
		MemoryID(memoryID).
		Allowed("policy_checks_passed").
		ActorID(callerAgentID).
		Meta("scope", string(mem.Policy.Scope)).
		Meta("sensitivity", string(mem.Policy.Sensitivity)).
		Build()
	if err != nil {
		return nil, gtype.AuditRecord{}, err
	}
	if err := a.WriteAuditRecord(ctx, rec); err != nil {
		return nil, gtype.AuditRecord{}, err
	}
	return &mem, rec, nil
}

func (a *Adapter) Delete(ctx context.Context, memoryID, actorID, reason string) (gtype.AuditRecord, error) {
	var agentID string
	err := a.db.QueryRowContext(ctx, `SELECT agent_id FROM memory WHERE memory_id = $1 AND is_deleted = FALSE`, memoryID).Scan(&agentID)
	if err == sql.ErrNoRows {
		return gtype.AuditRecord{}, gtype.MemoryNotFoundError(memoryID)
	}
	if err != nil {
		return gtype.AuditRecord{}, gtype.StorageError("lookup memory for delete", err)
	}

	_, err = a.db.ExecContext(ctx, `DELETE FROM memory WHERE memory_id = $1`, memoryID)
	if err != nil {
		return gtype.AuditRecord{}, gtype.StorageError("delete memory", err)
	}

	rec, err := builder(a.policyVersion, agentID, gtype.OpDelete).
		MemoryID(memoryID).
		Allowed(reason).
		ActorID(actorID).
		Meta("deletion_reason", reason).
		Build()
	if err != nil {
		return gtype.AuditRecord{}, err
	}
	if err := a.WriteAuditRecord(ctx, rec); err != nil {
		return gtype.AuditRecord{}, err
	}
	return rec, nil
}

func (a *Adapter) Query(ctx context.Context, filters storage.Filters, callerAgentID, actorID string, check storage.PolicyCheck) ([]gtype.Memory, gtype.AuditRecord, error) {
	if actorID == "" {
		actorID = callerAgentID
	}

	var conditions []string
	var args []any
	argN := 1

	conditions = append(conditions, "is_deleted = FALSE")
	conditions = append(conditions, "expires_at > now()") // pushed-down predicate; re-verified below

	if len(filters.MemoryTypes) > 0 {
		placeholders := make([]string, len(filters.MemoryTypes))
		for i, mt := range filters.MemoryTypes {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, string(mt))
			argN++
		}
		conditions = append(conditions, fmt.Sprintf("memory_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filters.Sensitivity) > 0 {
		placeholders := make([]string, len(filters.Sensitivity))
		for i, s := range filters.Sensitivity {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, string(s))
			argN++
		}
		conditions = append(conditions, fmt.Sprintf("sensitivity IN (%s)", strings.Join(placeholders, ",")))
	}
	if filters.Scope != "" {
		conditions = append(conditions, fmt.Sprintf("scope = $%d", argN))
		args = append(args, string(filters.Scope))
		argN++
	}

	query := fmt.Sprintf(`SELECT %s FROM memory WHERE %s`, memoryColumns, strings.Join(conditions, " AND "))
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gtype.AuditRecord{}, gtype.StorageError("query memory", err)
	}
	defer rows.Close()

	var candidates []gtype.Memory
	totalExamined := 0
	for rows.Next() {
		totalExamined++
		r, err := scanMemoryRow(rows)
		if err != nil {
			return nil, gtype.AuditRecord{}, gtype.StorageError("scan memory row", err)
		}
		mem, err := r.toMemory()
		if err != nil {
			return nil, gtype.AuditRecord{}, gtype.StorageError("decode memory row", err)
		}
		candidates = append(candidates, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, gtype.AuditRecord{}, gtype.StorageError("iterate memory rows", err)
	}

	now := time.Now().UTC()
	filtered := 0
	var results []gtype.Memory
	for _, mem := range candidates {
		// In-process re-verification: the SQL WHERE above is advisory.
		if mem.IsExpired(now) {
			filtered++
			continue
		}
		if mem.Policy.Scope == gtype.ScopeAgent && mem.AgentID != callerAgentID {
			filtered++
			continue
		}
		if !sensitivityAllowed(mem, check) {
			filtered++
			continue
		}
		if !mem.Policy.AllowRead {
			filtered++
			continue
		}
		results = append(results, mem)
	}

	if len(filters.Vector) > 0 && len(results) > 0 {
		rankByCosine(results, filters.Vector)
	} else {
		sortDeterministic(results)
	}

	rec, err := builder(a.policyVersion, callerAgentID, gtype.OpQuery).
		Allowed("query_executed_with_filters").
		ActorID(actorID).
		Meta("total_records_examined", totalExamined).
		Meta("filtered_count", filtered).
		Meta("returned_count", len(results)).
		Build()
	if err != nil {
		return nil, gtype.AuditRecord{}, err
	}
	if err := a.WriteAuditRecord(ctx, rec); err != nil {
		return nil, gtype.AuditRecord{}, err
	}
	return results, rec, nil
}

func (a *Adapter) GetAuditLog(ctx context.Context, filter storage.AuditLogFilter) ([]gtype.AuditRecord, error) {
	var conditions []string
	var args []any
	argN := 1

	if filter.AgentID != "" {
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", argN))
		args = append(args, filter.AgentID)
		argN++
	}
	if filter.Operation != "" {
		conditions = append(conditions, fmt.Sprintf("operation = $%d", argN))
		args = append(args, string(filter.Operation))
		argN++
	}
	if !filter.Start.IsZero() {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argN))
		args = append(args, filter.Start)
		argN++
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argN))
		args = append(args, filter.End)
		argN++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT audit_id, timestamp, agent_id, request_id, operation, memory_id, policy_version,
			decision, reason, actor_id, metadata_json, signature
		FROM audit_log %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, where, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gtype.StorageError("query audit log", err)
	}
	defer rows.Close()

	var out []gtype.AuditRecord
	for rows.Next() {
		var rec gtype.AuditRecord
		var requestID, memoryID sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(&rec.AuditID, &rec.Timestamp, &rec.AgentID, &requestID, &rec.Operation,
			&memoryID, &rec.PolicyVersion, &rec.Decision, &rec.Reason, &rec.ActorID, &metadataJSON, &rec.Signature); err != nil {
			return nil, gtype.StorageError("scan audit row", err)
		}
		rec.RequestID = requestID.String
		rec.MemoryID = memoryID.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, gtype.StorageError("unmarshal audit metadata", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, gtype.StorageError("iterate audit rows", err)
	}
	return out, nil
}

func (a *Adapter) WriteAuditRecord(ctx context.Context, record gtype.AuditRecord) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return gtype.StorageError("marshal audit metadata", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, timestamp, agent_id, request_id, operation, memory_id,
			policy_version, decision, reason, actor_id, metadata_json, signature)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		record.AuditID, record.Timestamp, record.AgentID, record.RequestID, string(record.Operation),
		record.MemoryID, record.PolicyVersion, string(record.Decision), record.Reason, record.ActorID,
		metadataJSON, record.Signature,
	)
	if err != nil {
		return gtype.StorageError("insert audit record", err)
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return gtype.StorageError("health check ping failed", err)
	}
	return nil
}

// PurgeExpired hard-deletes rows past their expires_at. There is no
// implicit background sweep (see SPEC_FULL.md's Open Question
// resolution) — a deployment schedules this explicitly, e.g. via cron.
func (a *Adapter) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := a.db.ExecContext(ctx, `DELETE FROM memory WHERE expires_at <= now()`)
	if err != nil {
		return 0, gtype.StorageError("purge expired memories", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, gtype.StorageError("rows affected after purge", err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// appendDenied builds and persists a denied-decision audit record. A
// failure to persist it is a genuine, reachable storage fault (the same
// class of error every other write path in this file returns as a
// gtype.StorageError), not a programmer error, so it is returned rather
// than panicked on.
func (a *Adapter) appendDenied(ctx context.Context, agentID string, op gtype.Operation, memoryID, reason string) (gtype.AuditRecord, error) {
	rec, err := builder(a.policyVersion, agentID, op).
		MemoryID(memoryID).
		Denied(reason).
		ActorID(agentID).
		Build()
	if err != nil {
		// Signature computation here only fails on a json.Marshal error,
		// which cannot happen for these concrete field types; treat as
		// unreachable rather than propagating a half-built audit record.
		panic(fmt.Sprintf("pgadapter: unreachable audit build failure: %v", err))
	}
	if werr := a.WriteAuditRecord(ctx, rec); werr != nil {
		return gtype.AuditRecord{}, gtype.StorageError("persist denied audit record", werr)
	}
	return rec, nil
}

func sensitivityAllowed(mem gtype.Memory, check storage.PolicyCheck) bool {
	if len(check.SensitivityAllow) == 0 {
		return true
	}
	for _, s := range check.SensitivityAllow {
		if s == mem.Policy.Sensitivity {
			return true
		}
	}
	return false
}
