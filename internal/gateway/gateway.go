// Package gateway is the compliance façade every route handler goes through
// to touch protected health information. A call moves through policy lookup,
// field crypto, role redaction, and audit emission in that order; no path to
// a return value or an error skips the audit step once the entity policy has
// been resolved.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/phigate/internal/audit"
	"github.com/org/phigate/internal/crypto"
	"github.com/org/phigate/internal/policy"
	"github.com/org/phigate/internal/storage"
	"github.com/org/phigate/pkg/models"
)

// ErrDenied is the opaque error surfaced to clients for policy and
// integrity failures. The specific field or rule that triggered the denial
// goes into the audit record only.
var ErrDenied = errors.New("request denied")

// FieldAccessError is raised when an actor supplies a field their role may
// not touch: writing it, or filtering on it in a read. It is folded into
// ErrDenied before leaving the gateway.
type FieldAccessError struct {
	Entity string
	Field  string
	Role   models.Role
}

func (e *FieldAccessError) Error() string {
	return fmt.Sprintf("role %s may not access %s.%s", e.Role, e.Entity, e.Field)
}

// Gateway composes the policy registry, crypto engine, persistence, and
// audit writer. It owns orchestration only: no timeouts (the caller enforces
// those so incident triage sees the real latency source) and no shared
// mutable state besides what its collaborators synchronize themselves.
type Gateway struct {
	store    storage.Store
	policies *policy.Registry
	fields   *crypto.Engine
	auditor  *audit.Writer
}

// New creates a Gateway.
func New(store storage.Store, policies *policy.Registry, fields *crypto.Engine, auditor *audit.Writer) *Gateway {
	return &Gateway{store: store, policies: policies, fields: fields, auditor: auditor}
}

// Read fetches records matching filter, decrypts protected fields, and
// redacts fields the actor's role may not see. Redaction removes the key
// entirely — absence is indistinguishable from "field doesn't exist", so a
// response leaks nothing about the schema. A decryption failure on any
// single field fails the whole read: partially-decrypted data is never
// returned.
func (g *Gateway) Read(ctx context.Context, entity string, filter map[string]any, actor models.Actor) ([]*models.Record, error) {
	pol, err := g.policies.PolicyFor(entity)
	if err != nil {
		g.auditFailure(ctx, models.AuditRead, actor, entity, "", err)
		return nil, fmt.Errorf("%w: %s", ErrDenied, entity)
	}

	// Filtering on a field is reading it: which records match reveals the
	// value, so a filter key the role may not read is denied outright.
	for field := range filter {
		if fp, restricted := pol[field]; restricted && !fp.Readable(actor.Role) {
			g.auditFailure(ctx, models.AuditRead, actor, entity, "",
				&FieldAccessError{Entity: entity, Field: field, Role: actor.Role})
			return nil, fmt.Errorf("%w", ErrDenied)
		}
	}

	var raw []*models.Record
	if id, ok := singleID(filter); ok {
		rec, err := g.store.FindUnique(ctx, entity, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			g.auditFailure(ctx, models.AuditRead, actor, entity, id, err)
			return nil, err
		}
		if rec != nil {
			raw = append(raw, rec)
		}
	} else {
		raw, err = g.store.FindMany(ctx, entity, filter)
		if err != nil {
			g.auditFailure(ctx, models.AuditRead, actor, entity, "", err)
			return nil, err
		}
	}

	out := make([]*models.Record, 0, len(raw))
	for _, rec := range raw {
		presented, err := g.present(rec, pol, actor)
		if err != nil {
			g.auditFailure(ctx, models.AuditRead, actor, entity, rec.ID, err)
			if errors.Is(err, crypto.ErrIntegrity) {
				return nil, fmt.Errorf("%w: integrity", ErrDenied)
			}
			return nil, err
		}
		out = append(out, presented)
	}

	g.auditor.Record(ctx, models.AuditRead, models.OutcomeSuccess, actor, entity, auditEntityID(filter, raw),
		map[string]string{"records": fmt.Sprintf("%d", len(out))})
	return out, nil
}

// Create validates write access for every supplied field, encrypts the ones
// the policy marks protected, persists, audits, and returns the record
// shaped exactly as a Read by the same actor would return it.
func (g *Gateway) Create(ctx context.Context, entity string, data map[string]any, actor models.Actor) (*models.Record, error) {
	pol, err := g.policies.PolicyFor(entity)
	if err != nil {
		g.auditFailure(ctx, models.AuditCreate, actor, entity, "", err)
		return nil, fmt.Errorf("%w: %s", ErrDenied, entity)
	}

	id := uuid.NewString()
	fields, err := g.sealFields(entity, id, data, pol, actor)
	if err != nil {
		g.auditFailure(ctx, models.AuditCreate, actor, entity, "", err)
		return nil, fmt.Errorf("%w", ErrDenied)
	}

	now := time.Now().UTC()
	rec := &models.Record{ID: id, Entity: entity, Fields: fields, CreatedAt: now, UpdatedAt: now}
	if err := g.store.CreateRecord(ctx, rec); err != nil {
		g.auditFailure(ctx, models.AuditCreate, actor, entity, id, err)
		return nil, err
	}

	g.auditor.Record(ctx, models.AuditCreate, models.OutcomeSuccess, actor, entity, id, nil)
	return g.present(rec, pol, actor)
}

// Update merges data into an existing record. Encrypted fields are replaced
// wholesale — an EncryptedValue is never mutated in place.
func (g *Gateway) Update(ctx context.Context, entity, id string, data map[string]any, actor models.Actor) (*models.Record, error) {
	pol, err := g.policies.PolicyFor(entity)
	if err != nil {
		g.auditFailure(ctx, models.AuditUpdate, actor, entity, id, err)
		return nil, fmt.Errorf("%w: %s", ErrDenied, entity)
	}

	existing, err := g.store.FindUnique(ctx, entity, id)
	if err != nil {
		g.auditFailure(ctx, models.AuditUpdate, actor, entity, id, err)
		return nil, err
	}

	sealed, err := g.sealFields(entity, id, data, pol, actor)
	if err != nil {
		g.auditFailure(ctx, models.AuditUpdate, actor, entity, id, err)
		return nil, fmt.Errorf("%w", ErrDenied)
	}

	merged := models.CloneFields(existing.Fields)
	for k, v := range sealed {
		merged[k] = v
	}
	existing.Fields = merged
	existing.UpdatedAt = time.Now().UTC()
	if err := g.store.UpdateRecord(ctx, existing); err != nil {
		g.auditFailure(ctx, models.AuditUpdate, actor, entity, id, err)
		return nil, err
	}

	g.auditor.Record(ctx, models.AuditUpdate, models.OutcomeSuccess, actor, entity, id, nil)
	return g.present(existing, pol, actor)
}

// Delete tombstones a record. There is no field-level crypto concern, but
// the delete is audited like everything else, and that audit record is not
// erasable by the application.
func (g *Gateway) Delete(ctx context.Context, entity, id string, actor models.Actor) error {
	if _, err := g.policies.PolicyFor(entity); err != nil {
		g.auditFailure(ctx, models.AuditDelete, actor, entity, id, err)
		return fmt.Errorf("%w: %s", ErrDenied, entity)
	}
	if err := g.store.DeleteRecord(ctx, entity, id); err != nil {
		g.auditFailure(ctx, models.AuditDelete, actor, entity, id, err)
		return err
	}
	g.auditor.Record(ctx, models.AuditDelete, models.OutcomeSuccess, actor, entity, id, nil)
	return nil
}

// sealFields checks write access for every supplied field and encrypts the
// protected ones. Returns the storage-shaped field map.
func (g *Gateway) sealFields(entity, recordID string, data map[string]any, pol map[string]models.FieldPolicy, actor models.Actor) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for field, value := range data {
		fp, restricted := pol[field]
		if restricted && !fp.Writable(actor.Role) {
			return nil, &FieldAccessError{Entity: entity, Field: field, Role: actor.Role}
		}
		if restricted && fp.Encrypted {
			plaintext, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("field %s.%s: encrypted fields must be strings", entity, field)
			}
			ev, err := g.fields.Encrypt(plaintext, crypto.FieldContext{Entity: entity, Field: field, RecordID: recordID})
			if err != nil {
				return nil, err
			}
			out[field] = ev.Encode()
			continue
		}
		out[field] = value
	}
	return out, nil
}

// present builds the response view of a stored record: decrypt every
// encrypted field, then drop the fields the actor's role may not read.
// Decryption runs before redaction so tampering with any protected field is
// caught on every read, even by readers who would not see the field.
func (g *Gateway) present(rec *models.Record, pol map[string]models.FieldPolicy, actor models.Actor) (*models.Record, error) {
	fields := models.CloneFields(rec.Fields)
	for field, value := range fields {
		ev, encrypted := models.DecodeEncrypted(value)
		if !encrypted {
			continue
		}
		plaintext, err := g.fields.Decrypt(ev, crypto.FieldContext{Entity: rec.Entity, Field: field, RecordID: rec.ID})
		if err != nil {
			return nil, err
		}
		fields[field] = plaintext
	}
	for field := range fields {
		if fp, ok := pol[field]; ok && !fp.Readable(actor.Role) {
			delete(fields, field)
		}
	}

	out := *rec
	out.Fields = fields
	return &out, nil
}

// auditFailure emits the mandatory FAILURE record for an aborted operation.
// Metadata carries the internal error text for operators; it never contains
// plaintext field values.
func (g *Gateway) auditFailure(ctx context.Context, action models.AuditAction, actor models.Actor, entity, entityID string, err error) {
	g.auditor.Record(ctx, action, models.OutcomeFailure, actor, entity, entityID,
		map[string]string{"error": err.Error()})
}

func singleID(filter map[string]any) (string, bool) {
	if len(filter) != 1 {
		return "", false
	}
	id, ok := filter["id"].(string)
	return id, ok && id != ""
}

func auditEntityID(filter map[string]any, records []*models.Record) string {
	if id, ok := singleID(filter); ok {
		return id
	}
	if len(records) == 1 {
		return records[0].ID
	}
	return ""
}
