package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/phigate/internal/alert"
	"github.com/org/phigate/internal/storage"
	"github.com/org/phigate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Sink is the minimal persistence surface the writer needs.
type Sink interface {
	AppendAuditRecord(ctx context.Context, record *models.AuditRecord) error
	LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error)
	QueryAuditRecords(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditRecord, error)
}

// Writer appends hash-chained audit records. All appends funnel through one
// mutex-guarded section so PriorHash chaining keeps total order under
// concurrent callers.
//
// Record never fails the caller: a PHI operation must not be blocked because
// logging is degraded. A sink failure raises a CRITICAL alert, flags the
// record audit_degraded, and parks it for redelivery on the next append.
type Writer struct {
	sink   Sink
	alerts alert.Notifier

	mu       sync.Mutex
	lastHash string
	pending  []*models.AuditRecord
}

// NewWriter creates a Writer. The chain head is recovered from the sink so a
// restarted process extends the existing chain instead of starting a new one.
func NewWriter(ctx context.Context, sink Sink, alerts alert.Notifier) (*Writer, error) {
	w := &Writer{sink: sink, alerts: alerts, lastHash: GenesisHash}
	latest, err := sink.LatestAuditRecord(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if latest != nil {
		w.lastHash = recordHash(latest)
	}
	return w, nil
}

// Record constructs, chains, and persists one audit record. It always
// returns the constructed record, even when the sink is unavailable.
// Metadata must never contain plaintext PHI or key material.
func (w *Writer) Record(ctx context.Context, action models.AuditAction, outcome models.AuditOutcome, actor models.Actor, entity, entityID string, metadata map[string]string) *models.AuditRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := &models.AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Outcome:   outcome,
		Metadata:  metadata,
		PriorHash: w.lastHash,
	}
	// The chain advances even if persistence fails below: parked records
	// keep their assigned position and are redelivered in order.
	w.lastHash = recordHash(record)

	w.flushPendingLocked(ctx)
	if len(w.pending) > 0 {
		// Earlier records are still unpersisted; appending this one now
		// would break sink ordering.
		w.parkLocked(ctx, record, "audit sink still unavailable")
		return record
	}
	if err := w.sink.AppendAuditRecord(ctx, record); err != nil {
		w.parkLocked(ctx, record, err.Error())
	}
	return record
}

func (w *Writer) parkLocked(ctx context.Context, record *models.AuditRecord, reason string) {
	record.Degraded = true
	w.pending = append(w.pending, record)
	log.Error().Str("audit_id", record.ID).Str("reason", reason).Msg("audit sink write failed; record parked")
	w.alerts.Notify(ctx, alert.SeverityCritical, "audit sink write failed", map[string]string{
		"audit_id": record.ID,
		"entity":   record.Entity,
		"action":   string(record.Action),
		"reason":   reason,
	})
}

func (w *Writer) flushPendingLocked(ctx context.Context) {
	for len(w.pending) > 0 {
		if err := w.sink.AppendAuditRecord(ctx, w.pending[0]); err != nil {
			return
		}
		w.pending = w.pending[1:]
	}
}

// PendingCount reports how many records are parked awaiting sink recovery.
func (w *Writer) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Query retrieves audit records from the sink.
func (w *Writer) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditRecord, error) {
	return w.sink.QueryAuditRecords(ctx, filter)
}

// Verify loads the full chain in append order and checks its integrity.
func (w *Writer) Verify(ctx context.Context) (bool, int, int, error) {
	records, err := w.sink.QueryAuditRecords(ctx, storage.AuditFilter{Ascending: true})
	if err != nil {
		return false, 0, 0, err
	}
	ok, breakIndex := VerifyChain(records)
	return ok, breakIndex, len(records), nil
}
