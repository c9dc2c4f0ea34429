package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/phigate/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Store defines the persistence interface for the gateway. The gateway only
// ever sees records through this criteria-based surface; the storage engine
// behind it is interchangeable.
type Store interface {
	// Records. Deletion is a tombstone (deleted_at); tombstoned records are
	// invisible to FindUnique/FindMany.
	CreateRecord(ctx context.Context, record *models.Record) error
	FindUnique(ctx context.Context, entity, id string) (*models.Record, error)
	FindMany(ctx context.Context, entity string, filter map[string]any) ([]*models.Record, error)
	UpdateRecord(ctx context.Context, record *models.Record) error
	DeleteRecord(ctx context.Context, entity, id string) error

	// Audit log. Append-only; the application never updates or deletes
	// audit rows. Retention is an out-of-band administrative concern.
	AppendAuditRecord(ctx context.Context, record *models.AuditRecord) error
	LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error)
	QueryAuditRecords(ctx context.Context, filter AuditFilter) ([]*models.AuditRecord, error)

	// Sessions
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	RevokeSession(ctx context.Context, id string) error

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Entity    string
	ActorID   string
	Since     *time.Time
	Limit     int
	Offset    int
	Ascending bool
}
