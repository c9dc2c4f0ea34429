package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/phigate/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --- Records ---

func (p *PostgresStore) CreateRecord(ctx context.Context, r *models.Record) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshaling record fields: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO records (id, entity, fields, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.Entity, fields, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) FindUnique(ctx context.Context, entity, id string) (*models.Record, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, entity, fields, created_at, updated_at FROM records
		 WHERE entity = $1 AND id = $2 AND deleted_at IS NULL`,
		entity, id,
	)
	return scanRecord(row)
}

func (p *PostgresStore) FindMany(ctx context.Context, entity string, filter map[string]any) ([]*models.Record, error) {
	query := `SELECT id, entity, fields, created_at, updated_at FROM records
	          WHERE entity = $1 AND deleted_at IS NULL`
	args := []any{entity}
	if len(filter) > 0 {
		// jsonb containment covers equality filters on plain fields.
		criteria, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
		query += ` AND fields @> $2`
		args = append(args, criteria)
	}
	query += ` ORDER BY created_at`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PostgresStore) UpdateRecord(ctx context.Context, r *models.Record) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshaling record fields: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE records SET fields = $1, updated_at = $2
		 WHERE entity = $3 AND id = $4 AND deleted_at IS NULL`,
		fields, r.UpdatedAt, r.Entity, r.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteRecord(ctx context.Context, entity, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE records SET deleted_at = $1 WHERE entity = $2 AND id = $3 AND deleted_at IS NULL`,
		time.Now().UTC(), entity, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var r models.Record
	var fields []byte
	if err := row.Scan(&r.ID, &r.Entity, &fields, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(fields, &r.Fields); err != nil {
		return nil, fmt.Errorf("unmarshaling record fields: %w", err)
	}
	return &r, nil
}

// --- Audit log ---

func (p *PostgresStore) AppendAuditRecord(ctx context.Context, rec *models.AuditRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling audit metadata: %w", err)
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO audit_log (id, ts, actor_id, actor_role, action, entity, entity_id, outcome, metadata, prior_hash, degraded)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING seq`,
		rec.ID, rec.Timestamp, rec.ActorID, rec.ActorRole, rec.Action,
		rec.Entity, rec.EntityID, rec.Outcome, metadata, rec.PriorHash, rec.Degraded,
	)
	return row.Scan(&rec.Seq)
}

func (p *PostgresStore) LatestAuditRecord(ctx context.Context) (*models.AuditRecord, error) {
	row := p.pool.QueryRow(ctx, auditSelect+` ORDER BY seq DESC LIMIT 1`)
	return scanAuditRecord(row)
}

const auditSelect = `SELECT seq, id, ts, actor_id, actor_role, action, entity, entity_id, outcome, metadata, prior_hash, degraded FROM audit_log`

func (p *PostgresStore) QueryAuditRecords(ctx context.Context, filter AuditFilter) ([]*models.AuditRecord, error) {
	query := auditSelect + ` WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if filter.Entity != "" {
		query += ` AND entity = ` + arg(filter.Entity)
	}
	if filter.ActorID != "" {
		query += ` AND actor_id = ` + arg(filter.ActorID)
	}
	if filter.Since != nil {
		query += ` AND ts >= ` + arg(*filter.Since)
	}
	if filter.Ascending {
		query += ` ORDER BY seq ASC`
	} else {
		query += ` ORDER BY seq DESC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanAuditRecord(row rowScanner) (*models.AuditRecord, error) {
	var rec models.AuditRecord
	var metadata []byte
	err := row.Scan(&rec.Seq, &rec.ID, &rec.Timestamp, &rec.ActorID, &rec.ActorRole,
		&rec.Action, &rec.Entity, &rec.EntityID, &rec.Outcome, &metadata, &rec.PriorHash, &rec.Degraded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling audit metadata: %w", err)
		}
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

// --- Sessions ---

func (p *PostgresStore) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, actor_id, actor_role, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.ActorID, s.ActorRole, s.CreatedAt, s.ExpiresAt,
	)
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, actor_id, actor_role, created_at, expires_at, revoked_at FROM sessions WHERE id = $1`,
		id,
	)
	var s models.Session
	if err := row.Scan(&s.ID, &s.ActorID, &s.ActorRole, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) RevokeSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
