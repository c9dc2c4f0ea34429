package models

import "time"

// AuditAction is the operation class recorded in an audit record.
type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditRead   AuditAction = "READ"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
	AuditError  AuditAction = "ERROR"
)

// AuditOutcome records whether the audited operation succeeded.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "SUCCESS"
	OutcomeFailure AuditOutcome = "FAILURE"
)

// AuditRecord is one link in the hash-chained audit log. PriorHash of record
// N is the content hash of record N-1, so silent deletion or reordering is
// detectable by recomputing the chain. Records are append-only: the
// application never updates or deletes them.
type AuditRecord struct {
	ID        string            `json:"id"`
	Seq       int64             `json:"seq,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	ActorID   string            `json:"actor_id"`
	ActorRole Role              `json:"actor_role"`
	Action    AuditAction       `json:"action"`
	Entity    string            `json:"entity"`
	EntityID  string            `json:"entity_id"`
	Outcome   AuditOutcome      `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	PriorHash string            `json:"prior_hash"`
	Degraded  bool              `json:"audit_degraded,omitempty"`
}
