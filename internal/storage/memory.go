package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/org/phigate/pkg/models"
)

// MemoryStore is an in-memory Store for tests and dev mode. Field maps are
// round-tripped through JSON on write so encrypted values take the same
// shape they would coming back from a jsonb column.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]map[string]*models.Record // entity → id → record
	audit    []*models.AuditRecord
	sessions map[string]*models.Session
	nextSeq  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]map[string]*models.Record),
		sessions: make(map[string]*models.Session),
		nextSeq:  1,
	}
}

func (m *MemoryStore) Close() {}

// --- Records ---

func (m *MemoryStore) CreateRecord(ctx context.Context, r *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.records[r.Entity]
	if !ok {
		byID = make(map[string]*models.Record)
		m.records[r.Entity] = byID
	}
	if _, exists := byID[r.ID]; exists {
		return ErrAlreadyExists
	}
	stored := *r
	fields, err := roundTripFields(r.Fields)
	if err != nil {
		return err
	}
	stored.Fields = fields
	byID[r.ID] = &stored
	return nil
}

func (m *MemoryStore) FindUnique(ctx context.Context, entity, id string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[entity][id]
	if !ok || r.DeletedAt != nil {
		return nil, ErrNotFound
	}
	out := *r
	out.Fields = models.CloneFields(r.Fields)
	return &out, nil
}

func (m *MemoryStore) FindMany(ctx context.Context, entity string, filter map[string]any) ([]*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Record
	for _, r := range m.records[entity] {
		if r.DeletedAt != nil || !matchesFilter(r.Fields, filter) {
			continue
		}
		cp := *r
		cp.Fields = models.CloneFields(r.Fields)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateRecord(ctx context.Context, r *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[r.Entity][r.ID]
	if !ok || existing.DeletedAt != nil {
		return ErrNotFound
	}
	fields, err := roundTripFields(r.Fields)
	if err != nil {
		return err
	}
	existing.Fields = fields
	existing.UpdatedAt = r.UpdatedAt
	return nil
}

func (m *MemoryStore) DeleteRecord(ctx context.Context, entity, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[entity][id]
	if !ok || r.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	r.DeletedAt = &now
	return nil
}

func roundTripFields(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matchesFilter(fields, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := fields[k]
		if !ok {
			return false
		}
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		if string(wantJSON) != string(gotJSON) {
			return false
		}
	}
	return true
}

// --- Audit log ---

func (m *MemoryStore) AppendAuditRecord(ctx context.Context, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Seq = m.nextSeq
	m.nextSeq++
	cp := *rec
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryStore) LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.audit) == 0 {
		return nil, ErrNotFound
	}
	cp := *m.audit[len(m.audit)-1]
	return &cp, nil
}

func (m *MemoryStore) QueryAuditRecords(ctx context.Context, filter AuditFilter) ([]*models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditRecord
	for _, rec := range m.audit {
		if filter.Entity != "" && rec.Entity != filter.Entity {
			continue
		}
		if filter.ActorID != "" && rec.ActorID != filter.ActorID {
			continue
		}
		if filter.Since != nil && rec.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	if !filter.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Sessions ---

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) RevokeSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
	}
	return nil
}
